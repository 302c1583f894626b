package render

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/livetemplate/blockdown"
	"github.com/livetemplate/blockdown/internal/livemetrics"
	"github.com/livetemplate/blockdown/internal/state"
	"go.uber.org/zap"
)

// htmlVisitor renders each block into its own scratch buffer so a failing
// template never leaves half a block in the output.
type htmlVisitor struct {
	r    *Renderer
	view View
	buf  bytes.Buffer
}

var _ blockdown.Visitor = (*htmlVisitor)(nil)

func (v *htmlVisitor) render(b blockdown.Block) {
	mark := v.buf.Len()
	if err := b.Accept(v); err != nil {
		v.buf.Truncate(mark)
		v.r.logger.Warn("block failed to render",
			zap.String("block", b.BlockID()),
			zap.String("kind", string(b.Kind())),
			zap.Error(err))
		_ = v.r.tmpl.ExecuteTemplate(&v.buf, "block-error", struct {
			ID   string
			Kind blockdown.Kind
		}{b.BlockID(), b.Kind()})
	}
	v.buf.WriteByte('\n')
}

func (v *htmlVisitor) exec(name string, data any) error {
	var out bytes.Buffer
	if err := v.r.tmpl.ExecuteTemplate(&out, name, data); err != nil {
		return err
	}
	v.buf.Write(out.Bytes())
	return nil
}

func (v *htmlVisitor) VisitParagraph(b *blockdown.ParagraphBlock) error {
	return v.exec("paragraph", b)
}

func (v *htmlVisitor) VisitHeading(b *blockdown.HeadingBlock) error {
	return v.exec("heading", b)
}

func (v *htmlVisitor) VisitImage(b *blockdown.ImageBlock) error {
	return v.exec("image", b)
}

func (v *htmlVisitor) VisitChart(b *blockdown.ChartBlock) error {
	cfg, err := json.Marshal(struct {
		Type       string                     `json:"type"`
		Data       any                        `json:"data,omitempty"`
		DataAsJSON *blockdown.ChartDataSource `json:"dataAsJson,omitempty"`
	}{b.ChartType, b.Data, b.DataAsJSON})
	if err != nil {
		return fmt.Errorf("encode chart data: %w", err)
	}
	return v.exec("chart", struct {
		Block  *blockdown.ChartBlock
		Config string
	}{b, string(cfg)})
}

func (v *htmlVisitor) VisitCallout(b *blockdown.CalloutBlock) error {
	return v.exec("callout", b)
}

func (v *htmlVisitor) VisitQuote(b *blockdown.QuoteBlock) error {
	return v.exec("quote", b)
}

func (v *htmlVisitor) VisitCode(b *blockdown.CodeBlock) error {
	return v.exec("code", b)
}

func (v *htmlVisitor) VisitDivider(b *blockdown.DividerBlock) error {
	return v.exec("divider", b)
}

func (v *htmlVisitor) VisitContainer(b *blockdown.ContainerBlock) error {
	if err := v.exec("container-open", b); err != nil {
		return err
	}
	for _, child := range b.Blocks {
		v.render(child)
	}
	return v.exec("container-close", b)
}

func (v *htmlVisitor) VisitSpacer(b *blockdown.SpacerBlock) error {
	return v.exec("spacer", b)
}

type tableCell struct {
	Text  string
	Align string
}

func (v *htmlVisitor) VisitTable(b *blockdown.TableBlock) error {
	rows := make([][]tableCell, len(b.Rows))
	for i, row := range b.Rows {
		cells := make([]tableCell, len(b.Columns))
		for j, col := range b.Columns {
			cells[j] = tableCell{Text: cellText(row[col.Key], col.Format), Align: col.Align}
		}
		rows[i] = cells
	}
	return v.exec("table", struct {
		ID      string
		Columns []blockdown.TableColumn
		Rows    [][]tableCell
		Remote  *blockdown.TableSource
	}{b.ID, b.Columns, rows, b.JSONData})
}

func (v *htmlVisitor) VisitKPICards(b *blockdown.KPICardsBlock) error {
	type item struct {
		Title, Value, Subtitle, Trend string
	}
	items := make([]item, len(b.Items))
	for i, it := range b.Items {
		items[i] = item{Title: it.Title, Value: cellText(it.Value, it.Format), Subtitle: it.Subtitle, Trend: it.Trend}
	}
	return v.exec("kpi-cards", struct {
		ID    string
		Items []item
	}{b.ID, items})
}

func (v *htmlVisitor) card(id string, cfg livemetrics.CardConfig) cardData {
	snap, ok := v.view.Cards[id]
	if !ok {
		snap = placeholderSnapshot(id, cfg)
	}
	return cardView(snap, cfg)
}

func (v *htmlVisitor) VisitLiveMetrics(b *blockdown.LiveMetricsBlock) error {
	return v.exec("live-metrics", struct {
		ID    string
		Cards []cardData
	}{b.ID, []cardData{v.card(b.ID, b.Card)}})
}

func (v *htmlVisitor) VisitLiveMetricsRow(b *blockdown.LiveMetricsRowBlock) error {
	cards := make([]cardData, len(b.Cards))
	for i, cfg := range b.Cards {
		cards[i] = v.card(fmt.Sprintf("%s-%d", b.ID, i), cfg)
	}
	return v.exec("live-metrics-row", struct {
		ID    string
		Cards []cardData
	}{b.ID, cards})
}

type dropdownOption struct {
	Value    string
	Label    string
	Selected bool
}

func (v *htmlVisitor) VisitDropdown(b *blockdown.DropdownBlock) error {
	selected := make(map[string]bool)
	if cur, ok := v.view.State[b.StateKey]; ok {
		for _, s := range selectedValues(cur) {
			selected[s] = true
		}
	} else {
		for _, s := range b.DefaultValues() {
			selected[s] = true
		}
	}

	opts := make([]dropdownOption, len(b.Options))
	for i, o := range b.Options {
		label := o.Label
		if label == "" {
			label = o.Value
		}
		opts[i] = dropdownOption{Value: o.Value, Label: label, Selected: selected[o.Value]}
	}
	return v.exec("dropdown", struct {
		Block   *blockdown.DropdownBlock
		Options []dropdownOption
	}{b, opts})
}

func selectedValues(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case nil:
		return nil
	}
	return []string{state.Text(v)}
}

func (v *htmlVisitor) VisitTitleButton(b *blockdown.TitleButtonBlock) error {
	return v.exec("titleButton", b)
}

func (v *htmlVisitor) VisitFAQ(b *blockdown.FAQBlock) error {
	return v.exec("faq", b)
}

func (v *htmlVisitor) VisitIframe(b *blockdown.IframeBlock) error {
	return v.exec("iframe", b)
}

func (v *htmlVisitor) VisitList(b *blockdown.ListBlock) error {
	return v.exec("list", b)
}
