//go:build mage

// Package main contains Mage build targets for els-comparer developer tooling.
package main

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// projectDirs lists the working directories the CLI expects.
var projectDirs = []string{
	"data",
	"export",
	".secrets",
}

// Init creates the working directories and an empty config file.
func Init() error {
	for _, dir := range projectDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err := os.WriteFile(configFile, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", configFile, err)
		}
		fmt.Println("  ", configFile)
	}
	fmt.Println("Project initialized.")
	return nil
}

const (
	binDir     = "bin"
	binName    = "els-comparer"
	cmdPkg     = "./cmd/els-comparer"
	configFile = "els-comparer.yaml"
)

const defaultConfig = `store:
  driver: sqlite
  dsn: data/catalog.db
comparer:
  levenshtein_border: 0.3
  intersection_border: 0.4
  max_parallelism: 4
reconciler:
  batch_size: 100
log:
  format: console
`

func binPath() string { return filepath.Join(binDir, binName) }

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		version = "dev"
	}
	ldflags := "-X main.version=" + version
	if err := sh.RunV("go", "build", "-ldflags", ldflags, "-o", binPath(), cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s (%s)\n", binPath(), version)
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Compare imports the fixture catalog into a scratch SQLite store, runs a
// comparison and exports the linked catalog to export/fixtures.yaml.
func Compare() error {
	mg.Deps(Build)

	dsn := filepath.Join("data", "fixtures.db")
	_ = os.Remove(dsn)
	run := func(args ...string) error {
		return sh.RunV(binPath(), append(args, "--dsn", dsn, "--log-format", "console")...)
	}
	if err := run("import", filepath.Join("testdata", "fixtures", "catalog.jsonl")); err != nil {
		return err
	}
	if err := run("compare", "--max-parallelism", "4"); err != nil {
		return err
	}
	if err := run("export", "-o", filepath.Join("export", "fixtures.yaml")); err != nil {
		return err
	}
	return run("report")
}

// Stats prints project metrics: Go production/test LOC and documentation word count.
func Stats() error {
	var prod, tests, words int
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != "." && (strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == binDir) {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		switch {
		case strings.HasSuffix(path, "_test.go"):
			tests += nonBlankLines(data)
		case strings.HasSuffix(path, ".go"):
			prod += nonBlankLines(data)
		case strings.HasSuffix(path, ".md"):
			words += len(bytes.Fields(data))
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Lines of code (Go, production): %d\n", prod)
	fmt.Printf("Lines of code (Go, tests):      %d\n", tests)
	fmt.Printf("Words (documentation):           %d\n", words)
	return nil
}

func nonBlankLines(data []byte) int {
	n := 0
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n
}
