package render

import (
	"bytes"
	"html/template"
	"io"

	"github.com/livetemplate/blockdown"
)

// NavEntry is a link to another page.
type NavEntry struct {
	Title       string
	Description string
	Href        string
	Active      bool
}

// MenuEntry is a heading in the page's table of contents.
type MenuEntry struct {
	Level  int
	Text   string
	Anchor string
}

// PageOptions adds the surroundings of a page.
type PageOptions struct {
	Nav       []NavEntry
	SocketURL string // Path of the live session endpoint; empty renders a static page
}

// Menu lists the headings shown in the table of contents. Headings nested
// in containers are included; blocks with showInMenu false are not.
func Menu(blocks []blockdown.Block) []MenuEntry {
	var out []MenuEntry
	blockdown.Walk(blocks, func(b blockdown.Block) {
		h, ok := b.(*blockdown.HeadingBlock)
		if !ok || !h.InMenu() || h.Anchor == "" {
			return
		}
		out = append(out, MenuEntry{Level: h.Level, Text: h.Text, Anchor: h.Anchor})
	})
	return out
}

// Page writes a complete HTML document.
func (r *Renderer) Page(w io.Writer, page *blockdown.Page, view View, opts PageOptions) error {
	var content bytes.Buffer
	if err := r.Blocks(&content, page.Blocks, view); err != nil {
		return err
	}

	return r.tmpl.ExecuteTemplate(w, "page", struct {
		Slug        string
		Title       string
		Description string
		SocketURL   string
		Nav         []NavEntry
		Menu        []MenuEntry
		Content     template.HTML
	}{
		Slug:        page.Slug,
		Title:       page.Title,
		Description: page.Description,
		SocketURL:   opts.SocketURL,
		Nav:         opts.Nav,
		Menu:        Menu(page.Blocks),
		// Every block template escapes its own input.
		Content: template.HTML(content.String()),
	})
}

// Index writes the list of pages.
func (r *Renderer) Index(w io.Writer, title string, pages []NavEntry) error {
	return r.tmpl.ExecuteTemplate(w, "index", struct {
		Title string
		Pages []NavEntry
	}{title, pages})
}
