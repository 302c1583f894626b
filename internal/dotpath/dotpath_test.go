package dotpath

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	return doc
}

func TestLookup(t *testing.T) {
	doc := decode(t, `{
		"stats": {"tps": 1234567, "name": "arbitrum", "empty": null, "zero": 0},
		"series": [[1700000000000, 1.5], [1700000060000, 2.5]],
		"chains": [{"id": "base"}, {"id": "optimism"}]
	}`)

	tests := []struct {
		name   string
		path   string
		want   any
		wantOK bool
	}{
		{name: "nested number", path: "stats.tps", want: 1234567.0, wantOK: true},
		{name: "nested string", path: "stats.name", want: "arbitrum", wantOK: true},
		{name: "zero is a value", path: "stats.zero", want: 0.0, wantOK: true},
		{name: "null is missing", path: "stats.empty", wantOK: false},
		{name: "missing key", path: "stats.tpx", wantOK: false},
		{name: "missing intermediate", path: "nope.tps", wantOK: false},
		{name: "index segment", path: "series.1.0", want: 1700000060000.0, wantOK: true},
		{name: "bracket index", path: "chains[1].id", want: "optimism", wantOK: true},
		{name: "out of range", path: "chains.5.id", wantOK: false},
		{name: "negative index", path: "chains.-1", wantOK: false},
		{name: "non numeric index", path: "chains.first", wantOK: false},
		{name: "step into scalar", path: "stats.tps.value", wantOK: false},
		{name: "surrounding whitespace", path: "  stats.name ", want: "arbitrum", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lookup(doc, tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestLookupRoot(t *testing.T) {
	doc := decode(t, `{"a": 1}`)

	got, ok := Lookup(doc, "")
	require.True(t, ok)
	assert.Equal(t, doc, got)

	_, ok = Lookup(nil, "")
	assert.False(t, ok)
}

func TestFloat(t *testing.T) {
	doc := map[string]any{
		"f": 1.5,
		"i": 3,
		"s": " 42.25 ",
		"x": "abc",
		"b": true,
	}

	v, ok := Float(doc, "f")
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)

	v, ok = Float(doc, "i")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = Float(doc, "s")
	assert.True(t, ok)
	assert.Equal(t, 42.25, v)

	_, ok = Float(doc, "x")
	assert.False(t, ok)
	_, ok = Float(doc, "b")
	assert.False(t, ok)
	_, ok = Float(doc, "missing")
	assert.False(t, ok)
}

func TestRecords(t *testing.T) {
	doc := decode(t, `{"data": {"rows": [{"a": 1}, {"a": 2}], "one": {"a": 1}}}`)

	rows, ok := Records(doc, "data.rows")
	require.True(t, ok)
	assert.Len(t, rows, 2)

	_, ok = Records(doc, "data.one")
	assert.False(t, ok)

	typed := map[string]any{"rows": []map[string]any{{"a": 1}}}
	rows, ok = Records(typed, "rows")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1}, rows[0])
}

func TestSplit(t *testing.T) {
	assert.Nil(t, Split(""))
	assert.Equal(t, []string{"a", "0", "b"}, Split("a[0].b"))
	assert.Equal(t, []string{"a", "b"}, Split("a..b"))
}
