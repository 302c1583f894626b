package main

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed all:templates
var templatesFS embed.FS

var templateDescriptions = map[string]string{
	"basic":     "One page with a static placeholder source",
	"dashboard": "KPI cards, a table, CSV sources and a live-metrics page",
}

func templateNames() []string {
	names := make([]string, 0, len(templateDescriptions))
	for name := range templateDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newNewCmd(a *app) *cobra.Command {
	var (
		templateName string
		list         bool
	)
	cmd := &cobra.Command{
		Use:   "new <project-name>",
		Short: "Create a page directory from a template",
		Long: `Creates a directory with a blockdown.yaml and starter pages.

Examples:
  blockdown new my-pages
  blockdown new ops --template dashboard
  blockdown new --list`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return nil
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				for _, name := range templateNames() {
					fmt.Fprintf(a.out, "  %-10s %s\n", name, templateDescriptions[name])
				}
				return nil
			}
			return a.createProject(args[0], templateName)
		},
	}
	cmd.Flags().StringVarP(&templateName, "template", "t", "basic", "Template: "+strings.Join(templateNames(), ", "))
	cmd.Flags().BoolVar(&list, "list", false, "List available templates")
	return cmd
}

func (a *app) createProject(dir, templateName string) error {
	if _, ok := templateDescriptions[templateName]; !ok {
		return fmt.Errorf("unknown template: %s\n\nAvailable templates: %s", templateName, strings.Join(templateNames(), ", "))
	}
	name := filepath.Base(dir)
	if strings.ContainsAny(name, " \t") {
		return fmt.Errorf("project name cannot contain spaces")
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("directory '%s' already exists", dir)
	}

	data := map[string]string{
		"Title":       toTitle(name),
		"ProjectName": name,
	}
	root := path.Join("templates", templateName)
	err := fs.WalkDir(templatesFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel := strings.TrimPrefix(p, root+"/")
		return writeTemplate(filepath.Join(dir, filepath.FromSlash(rel)), p, data)
	})
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	fmt.Fprintf(a.out, "Created %s from the %s template\n\n", dir, templateName)
	fmt.Fprintf(a.out, "Next steps:\n  cd %s\n  blockdown serve\n", dir)
	return nil
}

// writeTemplate renders one template file. Scaffolding variables use
// [[.Var]] so the {{placeholders}} in pages pass through untouched.
func writeTemplate(dst, src string, data map[string]string) error {
	content, err := templatesFS.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmpl, err := template.New(path.Base(src)).Delims("[[", "]]").Parse(string(content))
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", src, err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", dst, err)
	}
	defer f.Close()
	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// toTitle turns "my-pages" into "My Pages".
func toTitle(name string) string {
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return cases.Title(language.English).String(strings.Join(strings.Fields(name), " "))
}
