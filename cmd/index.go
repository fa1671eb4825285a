package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"go-synth/port"
	"go-synth/portattr"
	"go-synth/portindex"
)

// runIndex implements spec.md §6's `--index` flag: walk every origin in
// cfg.DPortsPath, load its attributes, and print the tree's one-line-per-port
// index to stdout.
func runIndex() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	origins, err := discoverOrigins(cfg.DPortsPath)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", cfg.DPortsPath, err)
	}

	querier := &portattr.MakeQuerier{DPortsPath: cfg.DPortsPath}

	ports := make([]*port.Port, 0, len(origins))
	for _, origin := range origins {
		portDir := filepath.Join(cfg.DPortsPath, origin)
		attrs, err := portattr.Load(querier, origin, portDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "go-synth: skipping %s: %v\n", origin, err)
			continue
		}
		p := port.New(port.Origin(origin))
		p.SetAttributes(attrs)
		ports = append(ports, p)
	}

	lines := portindex.Generate(ports, cfg.DPortsPath)

	w := bufio.NewWriter(os.Stdout)
	if err := portindex.Write(w, lines); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return w.Flush()
}

// discoverOrigins walks cfg.DPortsPath two levels deep (category/name),
// returning every directory that contains a Makefile.
func discoverOrigins(dportsPath string) ([]string, error) {
	categories, err := os.ReadDir(dportsPath)
	if err != nil {
		return nil, err
	}

	var origins []string
	for _, cat := range categories {
		if !cat.IsDir() {
			continue
		}
		catPath := filepath.Join(dportsPath, cat.Name())
		names, err := os.ReadDir(catPath)
		if err != nil {
			continue
		}
		for _, name := range names {
			if !name.IsDir() {
				continue
			}
			portDir := filepath.Join(catPath, name.Name())
			if _, err := os.Stat(filepath.Join(portDir, "Makefile")); err != nil {
				continue
			}
			origins = append(origins, cat.Name()+"/"+name.Name())
		}
	}
	return origins, nil
}
