package blockdown

import (
	"encoding/json"
	"testing"

	"github.com/livetemplate/blockdown/internal/livemetrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kindCounter records the kind of every visited block.
type kindCounter struct {
	seen []Kind
}

func (k *kindCounter) add(b Block) error { k.seen = append(k.seen, b.Kind()); return nil }

func (k *kindCounter) VisitParagraph(b *ParagraphBlock) error           { return k.add(b) }
func (k *kindCounter) VisitHeading(b *HeadingBlock) error               { return k.add(b) }
func (k *kindCounter) VisitImage(b *ImageBlock) error                   { return k.add(b) }
func (k *kindCounter) VisitChart(b *ChartBlock) error                   { return k.add(b) }
func (k *kindCounter) VisitCallout(b *CalloutBlock) error               { return k.add(b) }
func (k *kindCounter) VisitQuote(b *QuoteBlock) error                   { return k.add(b) }
func (k *kindCounter) VisitCode(b *CodeBlock) error                     { return k.add(b) }
func (k *kindCounter) VisitDivider(b *DividerBlock) error               { return k.add(b) }
func (k *kindCounter) VisitContainer(b *ContainerBlock) error           { return k.add(b) }
func (k *kindCounter) VisitSpacer(b *SpacerBlock) error                 { return k.add(b) }
func (k *kindCounter) VisitTable(b *TableBlock) error                   { return k.add(b) }
func (k *kindCounter) VisitKPICards(b *KPICardsBlock) error             { return k.add(b) }
func (k *kindCounter) VisitLiveMetrics(b *LiveMetricsBlock) error       { return k.add(b) }
func (k *kindCounter) VisitLiveMetricsRow(b *LiveMetricsRowBlock) error { return k.add(b) }
func (k *kindCounter) VisitDropdown(b *DropdownBlock) error             { return k.add(b) }
func (k *kindCounter) VisitTitleButton(b *TitleButtonBlock) error       { return k.add(b) }
func (k *kindCounter) VisitFAQ(b *FAQBlock) error                       { return k.add(b) }
func (k *kindCounter) VisitIframe(b *IframeBlock) error                 { return k.add(b) }
func (k *kindCounter) VisitList(b *ListBlock) error                     { return k.add(b) }

func allKinds() []Block {
	return []Block{
		&ParagraphBlock{}, &HeadingBlock{}, &ImageBlock{}, &ChartBlock{}, &CalloutBlock{},
		&QuoteBlock{}, &CodeBlock{}, &DividerBlock{}, &ContainerBlock{}, &SpacerBlock{},
		&TableBlock{}, &KPICardsBlock{}, &LiveMetricsBlock{}, &LiveMetricsRowBlock{},
		&DropdownBlock{}, &TitleButtonBlock{}, &FAQBlock{}, &IframeBlock{}, &ListBlock{},
	}
}

func TestVisitorDispatchesEveryKind(t *testing.T) {
	var v kindCounter
	blocks := allKinds()
	for _, b := range blocks {
		require.NoError(t, b.Accept(&v))
	}

	require.Len(t, v.seen, 19)
	unique := make(map[Kind]bool)
	for i, k := range v.seen {
		assert.Equal(t, blocks[i].Kind(), k)
		unique[k] = true
	}
	assert.Len(t, unique, 19, "every kind has its own discriminant")
}

func TestMarshalBlocks(t *testing.T) {
	hidden := false
	blocks := []Block{
		&HeadingBlock{Base: Base{ID: "h"}, Level: 2, Text: "Fees"},
		&DividerBlock{Base: Base{ID: "d", ShowInMenu: &hidden}},
		&ContainerBlock{Base: Base{ID: "c"}, Layout: "row", Blocks: []Block{
			&ChartBlock{Base: Base{ID: "ch"}, ChartType: "line", Data: map[string]any{}},
		}},
		&LiveMetricsBlock{Base: Base{ID: "lm"}, Card: livemetrics.CardConfig{DataURL: "https://x.test"}},
	}

	data, err := MarshalBlocks(blocks)
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 4)

	assert.Equal(t, map[string]any{"type": "heading", "id": "h", "level": 2.0, "text": "Fees"}, got[0])
	assert.Equal(t, map[string]any{"type": "divider", "id": "d", "showInMenu": false}, got[1])

	assert.Equal(t, "container", got[2]["type"])
	children := got[2]["blocks"].([]any)
	require.Len(t, children, 1)
	child := children[0].(map[string]any)
	assert.Equal(t, "chart", child["type"])
	assert.Equal(t, "line", child["chartType"])

	assert.Equal(t, "live-metrics", got[3]["type"])
	assert.Equal(t, "https://x.test", got[3]["card"].(map[string]any)["dataUrl"])
}

func TestMarshalBlocksEmpty(t *testing.T) {
	data, err := MarshalBlocks(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestBaseInMenuDefaultsToTrue(t *testing.T) {
	shown, hidden := true, false
	assert.True(t, (&ParagraphBlock{}).InMenu())
	assert.True(t, (&ParagraphBlock{Base: Base{ShowInMenu: &shown}}).InMenu())
	assert.False(t, (&ParagraphBlock{Base: Base{ShowInMenu: &hidden}}).InMenu())
}

func TestDropdownDefaultValues(t *testing.T) {
	single := &DropdownBlock{Default: "a, b"}
	assert.Equal(t, []string{"a, b"}, single.DefaultValues())

	multi := &DropdownBlock{Default: "a, b,,c", Multiple: true}
	assert.Equal(t, []string{"a", "b", "c"}, multi.DefaultValues())

	assert.Nil(t, (&DropdownBlock{}).DefaultValues())
}

func TestDropdownHasOption(t *testing.T) {
	d := &DropdownBlock{Options: []DropdownOption{{Value: "base"}, {Value: "op"}}}
	assert.True(t, d.HasOption("op"))
	assert.False(t, d.HasOption("arb"))

	remote := &DropdownBlock{OptionsFrom: &DropdownOptionsSource{URL: "https://x.test/chains"}}
	assert.True(t, remote.HasOption("anything"))
}

func TestWalkDescendsIntoContainers(t *testing.T) {
	blocks := []Block{
		&ParagraphBlock{Base: Base{ID: "1"}},
		&ContainerBlock{Base: Base{ID: "2"}, Blocks: []Block{
			&ContainerBlock{Base: Base{ID: "3"}, Blocks: []Block{&DropdownBlock{Base: Base{ID: "4"}}}},
		}},
		&DividerBlock{Base: Base{ID: "5"}},
	}
	var ids []string
	Walk(blocks, func(b Block) { ids = append(ids, b.BlockID()) })
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
}
