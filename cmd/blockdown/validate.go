package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/livetemplate/blockdown"
	"github.com/livetemplate/blockdown/internal/config"
	"github.com/spf13/cobra"
)

// skipDirs are never searched for pages.
var skipDirs = map[string]bool{"node_modules": true, "vendor": true, "dist": true}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [directory]",
		Short: "Check that every page parses cleanly",
		Long: `Loads every page document under the directory and reports content
segments the parser would drop and dropdowns that share a state key.
Placeholders are not resolved.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("failed to get absolute path: %w", err)
			}
			return a.validate(absDir)
		},
	}
}

func (a *app) validate(dir string) error {
	parser := blockdown.NewParser(blockdown.WithLogger(a.logger))
	var total, failed int

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != dir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !blockdown.IsPageFile(path) || config.IsConfigFile(path) {
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		total++

		problems := checkPage(parser, path)
		if len(problems) == 0 {
			fmt.Fprintf(a.out, "ok    %s\n", rel)
			return nil
		}
		failed++
		fmt.Fprintf(a.out, "FAIL  %s\n", rel)
		for _, p := range problems {
			fmt.Fprintf(a.out, "\n%s\n", strings.TrimRight(p, "\n"))
		}
		fmt.Fprintln(a.out)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	fmt.Fprintf(a.out, "\n%d files, %d with errors\n", total, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d files have errors", failed, total)
	}
	return nil
}

// checkPage returns one report per problem in the page at path.
func checkPage(parser *blockdown.Parser, path string) []string {
	doc, err := blockdown.LoadPage(path)
	if err != nil {
		return []string{err.Error()}
	}

	blocks, diags := parser.ParseWithDiagnostics(doc.Content)
	var out []string
	for _, d := range diags {
		d.File = doc.File
		out = append(out, d.Format())
	}

	seen := make(map[string]int)
	n := 0
	blockdown.Walk(blocks, func(b blockdown.Block) {
		dd, ok := b.(*blockdown.DropdownBlock)
		if !ok {
			return
		}
		n++
		if first, dup := seen[dd.StateKey]; dup {
			out = append(out, fmt.Sprintf("dropdown %d: state key %q is already written by dropdown %d", n, dd.StateKey, first))
			return
		}
		seen[dd.StateKey] = n
	})
	return out
}
