package blockdown

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the optional YAML header of a markdown page.
type Frontmatter struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	ShowInMenu  *bool  `yaml:"showInMenu"`
}

// ParseMarkdown splits a markdown document into content segments: each
// structured fence becomes its own segment and the prose between them is
// kept together.
func ParseMarkdown(doc []byte) (*Frontmatter, []string, error) {
	fm, body, err := extractFrontmatter(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	var segments []string
	var prose strings.Builder
	flush := func() {
		if s := strings.TrimSpace(prose.String()); s != "" {
			segments = append(segments, s)
		}
		prose.Reset()
	}
	for _, c := range splitFences(string(body)) {
		if c.fenced && IsStructuredTag(c.tag) {
			flush()
			segments = append(segments, strings.TrimSpace(c.text))
			continue
		}
		prose.WriteString(c.text)
	}
	flush()
	return fm, segments, nil
}

// extractFrontmatter splits a leading "---" YAML block from content.
func extractFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{}, content, nil
	}

	rest := content[4:]
	var yamlContent, remaining []byte
	if end := bytes.Index(rest, []byte("\n---\n")); end >= 0 {
		yamlContent, remaining = rest[:end], rest[end+5:]
	} else if bytes.HasSuffix(rest, []byte("\n---")) {
		yamlContent, remaining = rest[:len(rest)-4], nil
	} else {
		return nil, nil, fmt.Errorf("unclosed frontmatter")
	}

	var fm Frontmatter
	if err := yaml.Unmarshal(yamlContent, &fm); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &fm, remaining, nil
}

type fenceChunk struct {
	text   string
	tag    string
	fenced bool
}

// splitFences cuts s into prose and fenced chunks. Concatenating the chunk
// texts gives back s. An unclosed fence runs to the end of s.
func splitFences(s string) []fenceChunk {
	var chunks []fenceChunk
	var cur strings.Builder
	var open fenceMarker
	var tag string

	emit := func(fenced bool) {
		if cur.Len() > 0 {
			chunks = append(chunks, fenceChunk{text: cur.String(), tag: tag, fenced: fenced})
		}
		cur.Reset()
	}

	for _, line := range strings.SplitAfter(s, "\n") {
		if line == "" {
			continue
		}
		if open.char == 0 {
			if m, info, ok := openingFence(line); ok {
				emit(false)
				open = m
				tag = firstField(info)
			}
			cur.WriteString(line)
			continue
		}
		cur.WriteString(line)
		if open.closes(line) {
			emit(true)
			open = fenceMarker{}
			tag = ""
		}
	}
	emit(open.char != 0)
	return chunks
}

type fenceMarker struct {
	char byte
	n    int
}

func (m fenceMarker) closes(line string) bool {
	t, ok := trimIndent(line)
	if !ok {
		return false
	}
	t = strings.TrimRight(t, " \t\n")
	return len(t) >= m.n && strings.Trim(t, string(m.char)) == ""
}

// openingFence recognises ``` and ~~~ fences indented at most three spaces.
func openingFence(line string) (fenceMarker, string, bool) {
	t, ok := trimIndent(line)
	if !ok || len(t) < 3 || (t[0] != '`' && t[0] != '~') {
		return fenceMarker{}, "", false
	}
	c := t[0]
	n := 0
	for n < len(t) && t[n] == c {
		n++
	}
	if n < 3 {
		return fenceMarker{}, "", false
	}
	info := strings.TrimSpace(t[n:])
	if c == '`' && strings.ContainsRune(info, '`') {
		return fenceMarker{}, "", false
	}
	return fenceMarker{char: c, n: n}, info, true
}

func trimIndent(line string) (string, bool) {
	t := strings.TrimLeft(line, " ")
	return t, len(line)-len(t) <= 3
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
