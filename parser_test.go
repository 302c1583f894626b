package blockdown

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/livetemplate/blockdown/internal/format"
	"github.com/livetemplate/blockdown/internal/livemetrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var ignoreIDs = []cmp.Option{
	cmpopts.IgnoreFields(Base{}, "ID"),
	cmpopts.EquateEmpty(),
}

func fence(tag, body string) string {
	return "```" + tag + "\n" + body + "\n```"
}

func jsonString(t *testing.T, s string) string {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return string(b)
}

func sequentialIDs() ParserOption {
	var n atomic.Int64
	return WithIDGenerator(func() string {
		return fmt.Sprintf("b%d", n.Add(1))
	})
}

func TestParseProse(t *testing.T) {
	content := []string{
		"# Title\n\nHello **world**.\n\n- a\n- b\n  - c\n\n> quoted\n\n---\n\n" + fence("go", "fmt.Println()"),
		"1. first\n2. second",
		"![A chart](/img/chart.png \"Weekly volume\")",
		"    indented code\n",
		"<div class=\"note\">hi</div>",
	}

	got := NewParser().Parse(content)

	want := []Block{
		&HeadingBlock{Level: 1, Text: "Title", Anchor: "title"},
		&ParagraphBlock{Text: "Hello **world**."},
		&ListBlock{Items: []ListItem{{Text: "a"}, {Text: "b", Items: []ListItem{{Text: "c"}}}}},
		&QuoteBlock{Text: "quoted"},
		&DividerBlock{},
		&CodeBlock{Language: "go", Code: "fmt.Println()\n"},
		&ListBlock{Ordered: true, Start: 1, Items: []ListItem{{Text: "first"}, {Text: "second"}}},
		&ImageBlock{Src: "/img/chart.png", Alt: "A chart", Caption: "Weekly volume"},
		&CodeBlock{Code: "indented code\n"},
		&ParagraphBlock{Text: `<div class="note">hi</div>`},
	}
	if diff := cmp.Diff(want, got, ignoreIDs...); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseGFMTable(t *testing.T) {
	got := NewParser().Parse([]string{"| Chain | TPS |\n|:--|--:|\n| Base | 12 |\n| OP | 7 |"})

	want := []Block{&TableBlock{
		Columns: []TableColumn{{Key: "Chain", Label: "Chain", Align: "left"}, {Key: "TPS", Label: "TPS", Align: "right"}},
		Rows: []map[string]any{
			{"Chain": "Base", "TPS": "12"},
			{"Chain": "OP", "TPS": "7"},
		},
	}}
	if diff := cmp.Diff(want, got, ignoreIDs...); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseChartFence(t *testing.T) {
	blocks := NewParser().Parse([]string{fence("chart", `{"type":"line","data":{}}`)})

	require.Len(t, blocks, 1)
	chart, ok := blocks[0].(*ChartBlock)
	require.True(t, ok, "got %T", blocks[0])
	assert.Equal(t, "line", chart.ChartType)
	assert.Equal(t, KindChart, chart.Kind())
	assert.Equal(t, map[string]any{}, chart.Data)
}

func TestParseStructuredFences(t *testing.T) {
	hidden := false
	content := []string{
		fence("kpi-cards", `[{"title":"TPS","value":1234567,"format":{"compact":true},"trend":"up"}]`),
		fence("live-metrics", `{
  "title": "Network",
  "dataUrl": "https://api.example.com/{{chain}}.json",
  "refreshInterval": 30000,
  "metricsLeft": [{"label": "TPS", "valuePath": "stats.tps", "valueFormat": {"compact": true}}],
  "showInMenu": false
}`),
		fence("dropdown", `{"stateKey":"chain","label":"Chain","options":[{"value":"base"},{"value":"op","label":"OP Mainnet"}],"defaultValue":"base"}`),
		fence("faq", `{"items":[{"question":"Why?","answer":"Because."}]}`),
		fence("titleButton", `{"title":"Fees","button":{"label":"More","href":"/fees"}}`),
		fence("callout", `{"text":"Heads up"}`),
		fence("spacer", `{}`),
		fence("iframe", `{"src":"https://example.com/embed","height":300}`),
		fence("table", `{"columnDefinitions":[{"key":"chain"}],"jsonData":{"url":"https://api.example.com/rows","pathToRowData":"data"}}`),
	}

	got := NewParser().Parse(content)

	want := []Block{
		&KPICardsBlock{Items: []KPICard{{Title: "TPS", Value: 1234567.0, Format: &format.Format{Compact: true}, Trend: "up"}}},
		&LiveMetricsBlock{
			Base: Base{ShowInMenu: &hidden},
			Card: livemetrics.CardConfig{
				Title:           "Network",
				DataURL:         "https://api.example.com/{{chain}}.json",
				RefreshInterval: 30000,
				MetricsLeft: []livemetrics.MetricConfig{
					{Label: "TPS", ValuePath: "stats.tps", ValueFormat: &format.Format{Compact: true}},
				},
			},
		},
		&DropdownBlock{StateKey: "chain", Label: "Chain", Options: []DropdownOption{{Value: "base"}, {Value: "op", Label: "OP Mainnet"}}, Default: "base"},
		&FAQBlock{Items: []FAQItem{{Question: "Why?", Answer: "Because."}}},
		&TitleButtonBlock{Title: "Fees", Button: &Button{Label: "More", Href: "/fees"}},
		&CalloutBlock{Tone: "info", Text: "Heads up"},
		&SpacerBlock{Height: DefaultSpacerHeight},
		&IframeBlock{Src: "https://example.com/embed", Height: 300},
		&TableBlock{Columns: []TableColumn{{Key: "chain"}}, JSONData: &TableSource{URL: "https://api.example.com/rows", Path: "data"}},
	}
	if diff := cmp.Diff(want, got, ignoreIDs...); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, got[1].InMenu())
	assert.True(t, got[0].InMenu())
}

func TestParseDropsInvalidSegments(t *testing.T) {
	valid := []string{
		"Intro paragraph",
		fence("chart", `{"type":"bar","data":{"x":[1,2]}}`),
		fence("faq", `[{"question":"Q","answer":"A"}]`),
		"Outro paragraph",
	}
	broken := append([]string(nil), valid...)
	broken[2] = fence("faq", `[{"question":"Q","answer":"A"},]`)

	p := NewParser()
	all, diags := p.ParseWithDiagnostics(valid)
	require.Empty(t, diags)
	require.Len(t, all, 4)

	partial, diags := p.ParseWithDiagnostics(broken)
	require.Len(t, partial, 3, "exactly the broken block is dropped")
	require.Len(t, diags, 1)
	assert.Equal(t, 2, diags[0].Segment)
	assert.Equal(t, "faq", diags[0].Tag)
	assert.NotEmpty(t, diags[0].Hint)

	want := []Block{all[0], all[1], all[3]}
	if diff := cmp.Diff(want, partial, ignoreIDs...); diff != "" {
		t.Errorf("surviving blocks differ (-want +got):\n%s", diff)
	}
}

func TestParseValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		segment string
		wantMsg string
	}{
		{"chart without type", fence("chart", `{"data":{}}`), "chart type is required"},
		{"chart without data", fence("chart", `{"type":"line"}`), "data or dataAsJson"},
		{"unknown chart type", fence("chart", `{"type":"radar","data":{}}`), "unsupported chart type"},
		{"row with four cards", fence("live-metrics-row", `{"cards":[`+
			strings.Repeat(`{"dataUrl":"https://x.test","metricsLeft":[{"label":"a","valuePath":"a"}]},`, 3)+
			`{"dataUrl":"https://x.test","metricsLeft":[{"label":"a","valuePath":"a"}]}]}`), "at most 3 cards"},
		{"card without url", fence("live-metrics", `{"metricsLeft":[{"label":"a","valuePath":"a"}]}`), "dataUrl is required"},
		{"table with both row sources", fence("table", `{"columnDefinitions":[{"key":"a"}],"rowData":[],"jsonData":{"url":"https://x.test"}}`), "mutually exclusive"},
		{"dropdown with bad key", fence("dropdown", `{"stateKey":"a.b","options":[{"value":"x"}]}`), "not a valid identifier"},
		{"dropdown default not an option", fence("dropdown", `{"stateKey":"k","options":[{"value":"x"}],"defaultValue":"y"}`), "not one of the options"},
		{"iframe with relative src", fence("iframe", `{"src":"/local"}`), "absolute http(s) URL"},
		{"empty body", fence("faq", ``), "empty block body"},
		{"trailing data", fence("faq", `[] []`), "unexpected data"},
		{"wrong field type", fence("spacer", `{"height":"tall"}`), "cannot unmarshal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks, diags := NewParser().ParseWithDiagnostics([]string{tt.segment})
			assert.Empty(t, blocks)
			require.Len(t, diags, 1)
			assert.Contains(t, diags[0].Message, tt.wantMsg)
		})
	}
}

func TestParseDiagnosticLines(t *testing.T) {
	segment := "Intro\n\n" + fence("dropdown", `{"label":"x"}`)
	_, diags := NewParser().ParseWithDiagnostics([]string{"first", segment})

	require.Len(t, diags, 1)
	assert.Equal(t, 1, diags[0].Segment)
	assert.Equal(t, 3, diags[0].Line, "validation errors point at the fence")
	assert.Contains(t, diags[0].Format(), "> ")
}

func TestParseLogsDroppedSegments(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := NewParser(WithLogger(zap.New(core)))

	p.Parse([]string{fence("chart", `{`)})

	entries := logs.FilterMessage("dropping invalid block").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "chart", entries[0].ContextMap()["tag"])
}

func TestParseIsIdempotent(t *testing.T) {
	content := []string{
		"## Overview\n\nSome text",
		fence("live-metrics", `{"dataUrl":"https://x.test/{{chain}}","metricsLeft":[{"label":"a","valuePath":"a"}]}`),
		fence("container", `{"layout":"row","content":["Left","Right"]}`),
	}
	p := NewParser()
	first := p.Parse(content)
	second := p.Parse(content)

	if diff := cmp.Diff(first, second, ignoreIDs...); diff != "" {
		t.Errorf("second parse differs (-first +second):\n%s", diff)
	}
	assert.NotEqual(t, first[0].BlockID(), second[0].BlockID())
}

func TestParseAssignsUniqueIDs(t *testing.T) {
	blocks := NewParser(sequentialIDs()).Parse([]string{
		"# A\n\ntext",
		fence("container", `{"content":["# Inner", `+jsonString(t, fence("spacer", `{"height":8}`))+`]}`),
	})

	var ids []string
	Walk(blocks, func(b Block) { ids = append(ids, b.BlockID()) })
	assert.Equal(t, []string{"b1", "b2", "b5", "b3", "b4"}, ids)
}

func TestStableIDs(t *testing.T) {
	a, b, other := StableIDs("network"), StableIDs("network"), StableIDs("fees")

	first := a()
	assert.Equal(t, first, b())
	assert.NotEqual(t, first, a(), "each call yields a new id")
	assert.NotEqual(t, first, other())
	assert.Len(t, first, 36)
}

func TestParseContainer(t *testing.T) {
	inner := jsonString(t, fence("chart", `{"type":"pie"}`))
	got, diags := NewParser().ParseWithDiagnostics([]string{
		"lead",
		fence("container", `{"layout":"grid","content":["## Inside", `+inner+`]}`),
	})

	require.Len(t, got, 2)
	c, ok := got[1].(*ContainerBlock)
	require.True(t, ok)
	assert.Equal(t, "grid", c.Layout)
	want := []Block{&HeadingBlock{Level: 2, Text: "Inside", Anchor: "inside"}}
	if diff := cmp.Diff(want, c.Blocks, ignoreIDs...); diff != "" {
		t.Errorf("container children (-want +got):\n%s", diff)
	}

	require.Len(t, diags, 1, "nested failures are reported")
	assert.Equal(t, 1, diags[0].Segment)
	assert.Equal(t, "chart", diags[0].Tag)
}

func TestParseContainerDepthLimit(t *testing.T) {
	seg := fence("spacer", `{}`)
	for range maxContainerDepth + 1 {
		seg = fence("container", `{"content":[`+jsonString(t, seg)+`]}`)
	}

	blocks, diags := NewParser().ParseWithDiagnostics([]string{seg})
	require.Len(t, blocks, 1)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "nested deeper")
}

func TestParseUnknownFenceIsCode(t *testing.T) {
	blocks := NewParser().Parse([]string{fence("json", `{"a":1}`)})
	require.Len(t, blocks, 1)
	assert.Equal(t, &CodeBlock{Base: blocks[0].(*CodeBlock).Base, Language: "json", Code: "{\"a\":1}\n"}, blocks[0])
}

func TestParseEmpty(t *testing.T) {
	blocks, diags := NewParser().ParseWithDiagnostics(nil)
	assert.NotNil(t, blocks)
	assert.Empty(t, blocks)
	assert.Empty(t, diags)
}
