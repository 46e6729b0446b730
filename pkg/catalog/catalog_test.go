package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	keys := c.Keys()
	if len(keys) != 6 || keys[0] != "agriculture" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	if !c.Allows("tamil", "conceptsintamil/tamil-llama-7b-instruct-v0.2") {
		t.Fatalf("expected tamil model to be allowed")
	}
	if c.Allows("coding", "Jayasimma/gennai") {
		t.Fatalf("expected agriculture model to be rejected for coding")
	}
	if c.Allows("astrology", "Jayasimma/gennai") {
		t.Fatalf("expected unknown domain to be rejected")
	}
	d, ok := c.Domain("healthcare")
	if !ok || d.Name != "Healthcare" {
		t.Fatalf("unexpected healthcare domain: %+v", d)
	}
}

func TestLoadCatalogFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
domains:
  legal:
    name: Legal
    description: Contracts and compliance
    models: ["acme/lawyer-7b"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Allows("legal", "acme/lawyer-7b") {
		t.Fatalf("expected loaded model to be allowed")
	}
	if _, ok := c.Domain("coding"); ok {
		t.Fatalf("file catalog should replace the default")
	}
}

func TestLoadCatalogRejectsDomainWithoutModels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("domains:\n  empty:\n    name: Empty\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected domain without models to fail")
	}
	if c, err := Load(""); err != nil || len(c.Keys()) != 6 {
		t.Fatalf("empty path should give default catalog, err=%v", err)
	}
}
