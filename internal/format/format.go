// Package format turns raw metric values into display strings.
//
// Formatting is always applied to the raw value, never to a previously
// formatted string, and never fails: anything that cannot be formatted
// becomes the configured fallback.
package format

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Type selects how a raw value is interpreted.
type Type string

const (
	TypeNumber   Type = "number"
	TypeDate     Type = "date"
	TypeDuration Type = "duration"
)

const (
	DefaultFallback   = "N/A"
	DefaultLocale     = "en-GB"
	DefaultDateFormat = "D/M/YYYY HH:mm [UTC]"
)

// Format is a declarative formatting rule shared by metric cards, tables
// and dynamic content providers.
type Format struct {
	Type        Type     `json:"type,omitempty" yaml:"type,omitempty"`
	Prefix      string   `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Suffix      string   `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	Decimals    *int     `json:"decimals,omitempty" yaml:"decimals,omitempty"`         // Pins both min and max fraction digits
	MinDecimals *int     `json:"minDecimals,omitempty" yaml:"min_decimals,omitempty"` // Default: 0
	MaxDecimals *int     `json:"maxDecimals,omitempty" yaml:"max_decimals,omitempty"` // Default: 2
	Compact     bool     `json:"compact,omitempty" yaml:"compact,omitempty"`          // K/M/B/T notation
	Multiply    *float64 `json:"multiply,omitempty" yaml:"multiply,omitempty"`        // Unit conversion factor (default: 1)
	Locale      string   `json:"locale,omitempty" yaml:"locale,omitempty"`            // BCP 47 tag (default: en-GB)
	DateFormat  string   `json:"dateFormat,omitempty" yaml:"date_format,omitempty"`
	Fallback    string   `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Default: N/A
}

// Value formats raw according to f. A nil f formats raw as a plain number.
func Value(raw any, f *Format) string {
	if f == nil {
		f = &Format{}
	}
	switch f.Type {
	case TypeDate:
		return f.date(raw)
	case TypeDuration:
		return f.duration(raw)
	default:
		return f.number(raw)
	}
}

// FallbackText returns the configured fallback or DefaultFallback.
func (f *Format) FallbackText() string {
	if f == nil || f.Fallback == "" {
		return DefaultFallback
	}
	return f.Fallback
}

func (f *Format) number(raw any) string {
	v, ok := toFloat(raw)
	if !ok {
		return f.FallbackText()
	}
	v *= f.multiplier()
	if !finite(v) {
		return f.FallbackText()
	}

	minDigits, maxDigits := f.fractionDigits(0, 2)
	unit := ""
	if f.Compact {
		v, unit = compact(v, maxDigits)
	}
	return f.Prefix + f.decimal(v, minDigits, maxDigits) + unit + f.Suffix
}

func (f *Format) duration(raw any) string {
	v, ok := toFloat(raw)
	if !ok {
		return f.FallbackText()
	}
	v *= f.multiplier()
	if !finite(v) {
		return f.FallbackText()
	}

	unit := " s"
	if math.Abs(v) < 1 {
		v *= 1000
		unit = " ms"
	}
	suffix := f.Suffix
	if suffix == "" {
		suffix = unit
	}

	minDigits, maxDigits := f.fractionDigits(2, 2)
	return f.Prefix + f.decimal(v, minDigits, maxDigits) + suffix
}

func (f *Format) date(raw any) string {
	t, ok := toTime(raw)
	if !ok {
		return f.FallbackText()
	}
	pattern := f.DateFormat
	if pattern == "" {
		pattern = DefaultDateFormat
	}
	return f.Prefix + formatDate(t.UTC(), pattern) + f.Suffix
}

func (f *Format) multiplier() float64 {
	if f.Multiply == nil {
		return 1
	}
	return *f.Multiply
}

// fractionDigits returns the min and max fraction digits. An explicit
// Decimals pins both; otherwise Min/MaxDecimals apply independently.
func (f *Format) fractionDigits(defMin, defMax int) (int, int) {
	if f.Decimals != nil {
		d := clampDigits(*f.Decimals)
		return d, d
	}
	minDigits, maxDigits := defMin, defMax
	if f.MinDecimals != nil {
		minDigits = clampDigits(*f.MinDecimals)
	}
	if f.MaxDecimals != nil {
		maxDigits = clampDigits(*f.MaxDecimals)
	}
	if maxDigits < minDigits {
		maxDigits = minDigits
	}
	return minDigits, maxDigits
}

func (f *Format) decimal(v float64, minDigits, maxDigits int) string {
	r := roundTo(v, maxDigits)
	if r == 0 {
		r = 0 // drop negative zero
	}
	p := message.NewPrinter(f.tag())
	return p.Sprint(number.Decimal(r,
		number.MinFractionDigits(minDigits),
		number.MaxFractionDigits(maxDigits),
	))
}

func (f *Format) tag() language.Tag {
	locale := f.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.BritishEnglish
	}
	return tag
}

var compactUnits = []struct {
	size   float64
	suffix string
}{
	{1e3, "K"},
	{1e6, "M"},
	{1e9, "B"},
	{1e12, "T"},
}

// compact scales v to the largest unit not exceeding it. The unit is
// promoted when rounding would print 1000 of the smaller unit.
func compact(v float64, maxDigits int) (float64, string) {
	abs := math.Abs(v)
	idx := -1
	for i, u := range compactUnits {
		if abs >= u.size {
			idx = i
		}
	}
	for idx < len(compactUnits)-1 {
		scale := 1.0
		if idx >= 0 {
			scale = compactUnits[idx].size
		}
		if math.Abs(roundTo(v/scale, maxDigits)) < 1000 {
			break
		}
		idx++
	}
	if idx < 0 {
		return v, ""
	}
	return v / compactUnits[idx].size, compactUnits[idx].suffix
}

// roundTo rounds half away from zero at the given number of fraction digits.
func roundTo(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	scaled := v * p
	if !finite(scaled) {
		return v
	}
	return math.Round(scaled) / p
}

func clampDigits(d int) int {
	if d < 0 {
		return 0
	}
	if d > 20 {
		return 20
	}
	return d
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// toFloat coerces JSON-ish raw values to float64.
func toFloat(raw any) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case nil:
		return 0, false
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int8:
		v = float64(n)
	case int16:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case uint:
		v = float64(n)
	case uint8:
		v = float64(n)
	case uint16:
		v = float64(n)
	case uint32:
		v = float64(n)
	case uint64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	return v, finite(v)
}
