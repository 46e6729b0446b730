package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"multillm/internal/config"
	"multillm/pkg/catalog"
	"multillm/pkg/store"
)

type options struct {
	envPath    string
	configPath string
}

type step struct {
	name string
	run  func(out io.Writer) error
}

func main() {
	var opts options
	flag.StringVar(&opts.envPath, "env", ".env", "path to .env file (created when missing)")
	flag.StringVar(&opts.configPath, "config", "", "path to config.yaml")
	flag.Parse()

	if err := run(os.Stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "\nsetup failed: %v\n", err)
		os.Exit(1)
	}
}

// run executes every setup step in order and stops at the first failure.
func run(out io.Writer, opts options) error {
	var cfg config.FileConfig
	steps := []step{
		{"environment file", func(w io.Writer) error { return ensureEnvFile(w, opts.envPath) }},
		{"configuration", func(w io.Writer) error {
			var err error
			cfg, err = loadConfig(opts)
			if err == nil {
				fmt.Fprintf(w, "   database: %s\n", redactDSN(cfg.DatabaseURL))
			}
			return err
		}},
		{"directories", func(w io.Writer) error { return createDirectories(w, cfg) }},
		{"database schema", func(w io.Writer) error { return migrate(w, cfg) }},
		{"domain catalog", func(w io.Writer) error { return checkCatalog(w, cfg) }},
		{"redis", func(w io.Writer) error { return pingRedis(w, cfg) }},
	}

	fmt.Fprintln(out, "multi-llm platform setup")
	for i, s := range steps {
		fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(steps), s.name)
		if err := s.run(out); err != nil {
			fmt.Fprintf(out, "   FAILED: %v\n", err)
			return fmt.Errorf("%s: %w", s.name, err)
		}
		fmt.Fprintln(out, "   ok")
	}
	fmt.Fprintln(out, "setup complete")
	return nil
}

func ensureEnvFile(out io.Writer, path string) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	wrote, err := config.WriteEnv(path, map[string]string{
		"SESSION_SECRET":     hex.EncodeToString(secret),
		"DATABASE_NAME":      "multi_llm.db",
		"MAX_CONTENT_LENGTH": "16777216",
		"UPLOAD_FOLDER":      "uploads",
		"LOG_LEVEL":          "info",
	})
	if err != nil {
		return err
	}
	if wrote {
		fmt.Fprintf(out, "   created %s with a fresh session secret\n", path)
	} else {
		fmt.Fprintf(out, "   %s exists, leaving it untouched\n", path)
	}
	return config.LoadEnv(path)
}

func loadConfig(opts options) (config.FileConfig, error) {
	return config.Load(opts.configPath)
}

func createDirectories(out io.Writer, cfg config.FileConfig) error {
	for _, dir := range []string{cfg.UploadDir, cfg.StaticDir, filepath.Join(cfg.StaticDir, "images")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		fmt.Fprintf(out, "   %s/\n", dir)
	}
	return nil
}

func migrate(out io.Writer, cfg config.FileConfig) error {
	db, err := store.NewGormStore(cfg.DatabaseURL, store.WithLogLevel(gormlogger.Error))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return err
	}
	fmt.Fprintf(out, "   schema applied (%s)\n", db.Dialect())
	return nil
}

func checkCatalog(out io.Writer, cfg config.FileConfig) error {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	for _, key := range cat.Keys() {
		d, _ := cat.Domain(key)
		fmt.Fprintf(out, "   %-16s %d models\n", key, len(d.Models))
	}
	return nil
}

func pingRedis(out io.Writer, cfg config.FileConfig) error {
	if cfg.RedisAddr == "" {
		fmt.Fprintln(out, "   not configured, using in-process session cache and limiter")
		return nil
	}
	cache := store.NewRedisSessionCache(cfg.RedisAddr, cfg.RedisPassword)
	defer cache.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", cfg.RedisAddr, err)
	}
	fmt.Fprintf(out, "   reachable at %s\n", cfg.RedisAddr)
	return nil
}

// redactDSN hides credentials before a database URL is printed.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "(key/value dsn)"
	}
	return u.Redacted()
}
