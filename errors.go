package blockdown

import (
	"fmt"
	"strings"
)

// ParseError describes a content segment the parser dropped.
type ParseError struct {
	File    string `json:"file,omitempty"`
	Segment int    `json:"segment"`        // Index into the content array (0-indexed)
	Line    int    `json:"line,omitempty"` // Line within the segment (1-indexed)
	Tag     string `json:"tag,omitempty"`  // Fence language tag
	Message string `json:"message"`
	Code    string `json:"-"`              // Offending segment source
	Hint    string `json:"hint,omitempty"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "segment %d", e.Segment)
	if e.Line > 0 {
		fmt.Fprintf(&b, ", line %d", e.Line)
	}
	if e.Tag != "" {
		fmt.Fprintf(&b, " (%s)", e.Tag)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Format returns a multi-line report with surrounding source lines and the
// hint, for CLI output.
func (e *ParseError) Format() string {
	var b strings.Builder
	b.WriteString("Error")
	if e.File != "" {
		fmt.Fprintf(&b, " in %s", e.File)
	}
	fmt.Fprintf(&b, ", segment %d\n\n", e.Segment)

	if e.Line > 0 {
		fmt.Fprintf(&b, "Line %d: %s\n", e.Line, e.Message)
	} else {
		fmt.Fprintf(&b, "%s\n", e.Message)
	}
	b.WriteString(e.codeContext())

	if e.Hint != "" {
		fmt.Fprintf(&b, "\nTip: %s\n", e.Hint)
	}
	return b.String()
}

// codeContext shows two lines either side of Line.
func (e *ParseError) codeContext() string {
	if e.Code == "" || e.Line < 1 {
		return ""
	}
	lines := strings.Split(e.Code, "\n")
	if e.Line > len(lines) {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	start := max(1, e.Line-2)
	end := min(len(lines), e.Line+2)
	for i := start; i <= end; i++ {
		marker := " "
		if i == e.Line {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %3d | %s\n", marker, i, lines[i-1])
	}
	return b.String()
}

// NewParseError creates a ParseError for a segment.
func NewParseError(segment, line int, message string) *ParseError {
	return &ParseError{Segment: segment, Line: line, Message: message}
}

// WithTag records the fence tag.
func (e *ParseError) WithTag(tag string) *ParseError {
	e.Tag = tag
	return e
}

// WithHint adds a helpful suggestion.
func (e *ParseError) WithHint(hint string) *ParseError {
	e.Hint = hint
	return e
}

// WithCode attaches the segment source for context lines.
func (e *ParseError) WithCode(code string) *ParseError {
	e.Code = code
	return e
}

// WithFile records the page file.
func (e *ParseError) WithFile(file string) *ParseError {
	e.File = file
	return e
}
