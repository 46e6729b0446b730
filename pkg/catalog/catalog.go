package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Domain is one conversation category and the models offered for it.
type Domain struct {
	Name        string   `yaml:"name" json:"name"`
	Icon        string   `yaml:"icon" json:"icon"`
	Description string   `yaml:"description" json:"description"`
	Models      []string `yaml:"models" json:"models"`
}

// Catalog maps domain keys (e.g. "coding") to their definition.
type Catalog struct {
	domains map[string]Domain
}

type fileCatalog struct {
	Domains map[string]Domain `yaml:"domains"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{domains: map[string]Domain{
		"healthcare": {
			Name:        "Healthcare",
			Icon:        "🏥",
			Description: "Medical advice, health information, and wellness guidance",
			Models:      []string{"Jayasimma/bharatbuddy", "Jayasimma/Puzhavan"},
		},
		"agriculture": {
			Name:        "Agriculture",
			Icon:        "🌾",
			Description: "Farming techniques, crop management, and agricultural practices",
			Models:      []string{"Jayasimma/gennai", "Jayasimma/Puzhavan"},
		},
		"coding": {
			Name:        "Coding",
			Icon:        "💻",
			Description: "Programming help, code review, and software development",
			Models:      []string{"Jayasimma/codemium_ai", "Jayasimma/creaton-ai"},
		},
		"education": {
			Name:        "Education",
			Icon:        "📚",
			Description: "Learning resources, tutoring, and educational content",
			Models:      []string{"Jayasimma/Buddyllama", "Jayasimma/creaton-ai"},
		},
		"nature_medicine": {
			Name:        "Natural Medicine",
			Icon:        "🌿",
			Description: "Herbal remedies, traditional medicine, and natural healing",
			Models:      []string{"Jayasimma/Puzhavan", "Jayasimma/bharatbuddy"},
		},
		"tamil": {
			Name:        "Tamil Language",
			Icon:        "🇮🇳",
			Description: "Tamil language support, translation, and cultural information",
			Models:      []string{"conceptsintamil/tamil-llama-7b-instruct-v0.2", "Jayasimma/Buddyllama"},
		},
	}}
}

// Load reads a catalog from a YAML file with a top-level "domains" map.
// An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(fc.Domains) == 0 {
		return nil, errors.New("catalog: no domains defined")
	}
	for key, d := range fc.Domains {
		if strings.TrimSpace(key) == "" {
			return nil, errors.New("catalog: empty domain key")
		}
		if len(d.Models) == 0 {
			return nil, fmt.Errorf("catalog: domain %q has no models", key)
		}
	}
	return &Catalog{domains: fc.Domains}, nil
}

// Domain returns the definition for key.
func (c *Catalog) Domain(key string) (Domain, bool) {
	d, ok := c.domains[key]
	return d, ok
}

// Allows reports whether model is offered under domain.
func (c *Catalog) Allows(domain, model string) bool {
	d, ok := c.domains[domain]
	if !ok {
		return false
	}
	for _, m := range d.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Keys returns the domain keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.domains))
	for k := range c.domains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
