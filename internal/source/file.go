package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// JSONFileSource reads a JSON document from disk on every fetch.
type JSONFileSource struct {
	name string
	path string
}

// NewJSONFileSource creates a JSON file source.
func NewJSONFileSource(name, file, baseDir string) (*JSONFileSource, error) {
	if file == "" {
		return nil, &ValidationError{Source: name, Field: "file", Reason: "file is required"}
	}
	return &JSONFileSource{name: name, path: resolvePath(baseDir, file)}, nil
}

func (s *JSONFileSource) Name() string { return s.name }

// Fetch reads the file. A file holding newline-delimited objects is returned
// as an array of those objects.
func (s *JSONFileSource) Fetch(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &SourceError{Source: s.name, Operation: "read file", Err: err}
	}

	doc, err := decodeJSON(s.name, data)
	if err == nil {
		return doc, nil
	}

	var records []any
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var obj any
		if jerr := json.Unmarshal(line, &obj); jerr != nil {
			return nil, err
		}
		records = append(records, obj)
	}
	if len(records) == 0 {
		return nil, err
	}
	return records, nil
}

func (s *JSONFileSource) Close() error { return nil }

// CSVFileSource reads a CSV file into an array of row objects keyed by header.
// Cells stay strings; numeric formatting coerces them later.
type CSVFileSource struct {
	name      string
	path      string
	hasHeader bool
	comma     rune
}

// NewCSVFileSource creates a CSV file source. Options: header=false generates
// col1..colN names; delimiter sets the field separator.
func NewCSVFileSource(name, file, baseDir string, options map[string]string) (*CSVFileSource, error) {
	if file == "" {
		return nil, &ValidationError{Source: name, Field: "file", Reason: "file is required"}
	}
	s := &CSVFileSource{
		name:      name,
		path:      resolvePath(baseDir, file),
		hasHeader: options["header"] != "false",
		comma:     ',',
	}
	if d := options["delimiter"]; d != "" {
		s.comma = []rune(d)[0]
	}
	return s, nil
}

func (s *CSVFileSource) Name() string { return s.name }

func (s *CSVFileSource) Fetch(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, &SourceError{Source: s.name, Operation: "open file", Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = s.comma
	records, err := reader.ReadAll()
	if err != nil {
		return nil, &ValidationError{Source: s.name, Reason: fmt.Sprintf("invalid CSV: %v", err)}
	}

	rows := make([]any, 0, len(records))
	if len(records) == 0 {
		return rows, nil
	}

	headers := records[0]
	data := records[1:]
	if !s.hasHeader {
		headers = make([]string, len(records[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("col%d", i+1)
		}
		data = records
	}

	for _, record := range data {
		row := make(map[string]any, len(headers))
		for i, value := range record {
			if i < len(headers) {
				row[headers[i]] = value
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *CSVFileSource) Close() error { return nil }
