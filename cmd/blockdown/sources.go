package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/livetemplate/blockdown/internal/dotpath"
	"github.com/livetemplate/blockdown/internal/source"
	"github.com/spf13/cobra"
)

// sourceTimeout bounds a fetch from the command line.
const sourceTimeout = 30 * time.Second

// maxColumnWidth is the widest a table column gets before truncation.
const maxColumnWidth = 50

func newSourcesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sources [directory]",
		Short: "List the configured sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			p, err := a.loadProject(dir)
			if err != nil {
				return err
			}
			defer p.Close()

			names := p.registry.Names()
			if len(names) == 0 {
				fmt.Fprintln(a.out, "No sources configured")
				return nil
			}
			rows := make([]map[string]any, 0, len(names))
			for _, name := range names {
				cfg := p.cfg.Sources[name]
				row := map[string]any{"name": name, "type": cfg.Type}
				if cfg.Path != "" {
					row["path"] = cfg.Path
				}
				if ttl := cfg.GetCacheTTL(); ttl > 0 {
					row["cache"] = ttl.String()
				}
				rows = append(rows, row)
			}
			return outputTable(a.out, rows, "name")
		},
	}
}

func newSourceCmd(a *app) *cobra.Command {
	var (
		dir    string
		path   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "source <name>",
		Short: "Fetch a source and print the result",
		Long: `Fetches a configured source and prints what it returns.

Examples:
  blockdown source fees
  blockdown source stats --path data.0.tps
  blockdown source tasks --format csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "table", "json", "csv":
			default:
				return fmt.Errorf("unknown format %q (use table, json or csv)", format)
			}

			p, err := a.loadProject(dir)
			if err != nil {
				return err
			}
			defer p.Close()

			name := args[0]
			src, ok := p.registry.Get(name)
			if !ok {
				return fmt.Errorf("source %q not found. Available sources: %s", name, strings.Join(p.registry.Names(), ", "))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), sourceTimeout)
			defer cancel()
			data, err := src.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("%s: %s", name, source.UserFriendlyMessage(err))
			}
			if path != "" {
				v, ok := dotpath.Lookup(data, path)
				if !ok {
					return fmt.Errorf("%s: no value at %q", name, path)
				}
				data = v
			}
			return writeData(a.out, data, format)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Page directory holding the config")
	cmd.Flags().StringVar(&path, "path", "", "Dot-path into the fetched document")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json or csv")
	return cmd
}

// writeData prints data in format. Lists of objects print as rows; a single
// object is one row; anything else prints as JSON.
func writeData(w io.Writer, data any, format string) error {
	rows, ok := toRows(data)
	if format == "json" || !ok {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	if format == "csv" {
		return outputCSV(w, rows)
	}
	return outputTable(w, rows, "id")
}

func toRows(data any) ([]map[string]any, bool) {
	switch v := data.(type) {
	case map[string]any:
		return []map[string]any{v}, true
	case []map[string]any:
		return v, true
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			rows = append(rows, m)
		}
		return rows, true
	}
	return nil, false
}

// columns returns every key of rows, sorted, with first leading when present.
func columns(rows []map[string]any, first string) []string {
	set := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			set[col] = true
		}
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i] == first {
			return true
		}
		if cols[j] == first {
			return false
		}
		return cols[i] < cols[j]
	})
	return cols
}

func cell(row map[string]any, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func outputCSV(w io.Writer, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	cols := columns(rows, "")
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(cols))
		for i, col := range cols {
			record[i] = cell(row, col)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func truncate(s string) string {
	if len(s) > maxColumnWidth {
		return s[:maxColumnWidth-3] + "..."
	}
	return s
}

func outputTable(w io.Writer, rows []map[string]any, first string) error {
	if len(rows) == 0 {
		return nil
	}
	cols := columns(rows, first)
	widths := make([]int, len(cols))
	for i, col := range cols {
		widths[i] = len(col)
		for _, row := range rows {
			if n := len(truncate(cell(row, col))); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var header, sep strings.Builder
	for i, col := range cols {
		if i > 0 {
			header.WriteString(" | ")
			sep.WriteString("-+-")
		}
		fmt.Fprintf(&header, "%-*s", widths[i], col)
		sep.WriteString(strings.Repeat("-", widths[i]))
	}
	fmt.Fprintln(w, strings.TrimRight(header.String(), " "))
	fmt.Fprintln(w, sep.String())

	for _, row := range rows {
		var line strings.Builder
		for i, col := range cols {
			if i > 0 {
				line.WriteString(" | ")
			}
			fmt.Fprintf(&line, "%-*s", widths[i], truncate(cell(row, col)))
		}
		fmt.Fprintln(w, strings.TrimRight(line.String(), " "))
	}
	fmt.Fprintf(w, "\n%d rows\n", len(rows))
	return nil
}
