package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestJSONFileSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stats.json", `{"network":{"validators":812,"uptime":0.9993}}`)

	src, err := NewJSONFileSource("stats", "stats.json", dir)
	require.NoError(t, err)

	doc, err := src.Fetch(context.Background())
	require.NoError(t, err)
	network := doc.(map[string]any)["network"].(map[string]any)
	assert.Equal(t, 812.0, network["validators"])
}

func TestJSONFileSourceNDJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "events.ndjson", "{\"id\":1}\n{\"id\":2}\n\n")

	src, err := NewJSONFileSource("events", "events.ndjson", dir)
	require.NoError(t, err)

	doc, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": 1.0}, map[string]any{"id": 2.0}}, doc)
}

func TestJSONFileSourceErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.json", "{nope")

	_, err := NewJSONFileSource("x", "", dir)
	assert.Error(t, err)

	src, err := NewJSONFileSource("bad", "bad.json", dir)
	require.NoError(t, err)
	_, err = src.Fetch(context.Background())
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))

	missing, err := NewJSONFileSource("missing", "missing.json", dir)
	require.NoError(t, err)
	_, err = missing.Fetch(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCSVFileSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fees.csv", "chain,fee\neth,1.25\nsol,0.0005\n")

	src, err := NewCSVFileSource("fees", "fees.csv", dir, nil)
	require.NoError(t, err)

	doc, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"chain": "eth", "fee": "1.25"},
		map[string]any{"chain": "sol", "fee": "0.0005"},
	}, doc)
}

func TestCSVFileSourceOptions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "raw.csv", "a;1\nb;2\n")

	src, err := NewCSVFileSource("raw", "raw.csv", dir, map[string]string{"header": "false", "delimiter": ";"})
	require.NoError(t, err)

	doc, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"col1": "a", "col2": "1"},
		map[string]any{"col1": "b", "col2": "2"},
	}, doc)
}

func TestCSVFileSourceEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.csv", "")

	src, err := NewCSVFileSource("empty", "empty.csv", dir, nil)
	require.NoError(t, err)

	doc, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc)
}
