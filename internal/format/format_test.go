package format

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestValueNumber(t *testing.T) {
	tests := []struct {
		name   string
		raw    any
		format *Format
		want   string
	}{
		{name: "nil format", raw: 42, format: nil, want: "42"},
		{name: "grouping", raw: 1234.5, format: &Format{}, want: "1,234.5"},
		{name: "default max two decimals", raw: 3.14159, format: &Format{}, want: "3.14"},
		{name: "explicit decimals pin both", raw: 1234.5, format: &Format{Decimals: intPtr(2)}, want: "1,234.50"},
		{name: "zero decimals", raw: 2.6, format: &Format{Decimals: intPtr(0)}, want: "3"},
		{name: "min decimals", raw: 7, format: &Format{MinDecimals: intPtr(1)}, want: "7.0"},
		{name: "min above default max", raw: 1.5, format: &Format{MinDecimals: intPtr(3)}, want: "1.500"},
		{name: "max decimals", raw: 1.23456, format: &Format{MaxDecimals: intPtr(4)}, want: "1.2346"},
		{name: "compact millions", raw: 1234567, format: &Format{Compact: true}, want: "1.23M"},
		{name: "compact thousands", raw: 1500, format: &Format{Compact: true}, want: "1.5K"},
		{name: "compact billions", raw: 2.5e9, format: &Format{Compact: true}, want: "2.5B"},
		{name: "compact below threshold", raw: 950, format: &Format{Compact: true}, want: "950"},
		{name: "compact promotes after rounding", raw: 999999, format: &Format{Compact: true}, want: "1M"},
		{name: "compact negative", raw: -2500000, format: &Format{Compact: true}, want: "-2.5M"},
		{name: "prefix and suffix", raw: 12, format: &Format{Prefix: "$", Suffix: " USD"}, want: "$12 USD"},
		{name: "multiply", raw: 0.1234, format: &Format{Multiply: floatPtr(100), Suffix: "%"}, want: "12.34%"},
		{name: "string number", raw: "1000", format: &Format{}, want: "1,000"},
		{name: "json number", raw: json.Number("42.5"), format: &Format{}, want: "42.5"},
		{name: "negative zero", raw: -0.001, format: &Format{}, want: "0"},
		{name: "german locale", raw: 1234.5, format: &Format{Locale: "de-DE"}, want: "1.234,5"},
		{name: "invalid locale falls back", raw: 1234.5, format: &Format{Locale: "not a locale!"}, want: "1,234.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Value(tt.raw, tt.format))
		})
	}
}

func TestValueFallback(t *testing.T) {
	inputs := []any{
		nil,
		"",
		"abc",
		"NaN",
		math.NaN(),
		math.Inf(1),
		true,
		map[string]any{"a": 1},
		[]any{1, 2},
	}
	formats := []*Format{
		nil,
		{},
		{Type: TypeNumber, Compact: true},
		{Type: TypeDuration},
		{Type: TypeDate},
	}

	for _, f := range formats {
		for _, raw := range inputs {
			got := Value(raw, f)
			assert.Equal(t, DefaultFallback, got, "raw=%#v format=%+v", raw, f)
			assert.NotContains(t, got, "NaN")
		}
	}

	custom := &Format{Fallback: "-"}
	assert.Equal(t, "-", Value(nil, custom))
	assert.Equal(t, "-", Value("oops", &Format{Type: TypeDuration, Fallback: "-"}))
}

func TestValueDuration(t *testing.T) {
	tests := []struct {
		name   string
		raw    any
		format *Format
		want   string
	}{
		{name: "sub second in ms", raw: 0.5, format: &Format{Type: TypeDuration}, want: "500.00 ms"},
		{name: "seconds", raw: 2, format: &Format{Type: TypeDuration}, want: "2.00 s"},
		{name: "exactly one second", raw: 1, format: &Format{Type: TypeDuration}, want: "1.00 s"},
		{name: "custom decimals", raw: 0.25, format: &Format{Type: TypeDuration, Decimals: intPtr(0)}, want: "250 ms"},
		{name: "custom suffix", raw: 3, format: &Format{Type: TypeDuration, Suffix: "sec"}, want: "3.00sec"},
		{name: "multiply converts ms input", raw: 250, format: &Format{Type: TypeDuration, Multiply: floatPtr(0.001)}, want: "250.00 ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Value(tt.raw, tt.format))
		})
	}
}

func TestValueDate(t *testing.T) {
	tests := []struct {
		name   string
		raw    any
		format *Format
		want   string
	}{
		{name: "epoch", raw: 0, format: &Format{Type: TypeDate}, want: "1/1/1970 00:00 UTC"},
		{name: "epoch millis", raw: 1700000000000.0, format: &Format{Type: TypeDate}, want: "14/11/2023 22:13 UTC"},
		{name: "numeric string", raw: "1700000000000", format: &Format{Type: TypeDate}, want: "14/11/2023 22:13 UTC"},
		{name: "rfc3339", raw: "2024-03-05T10:07:09Z", format: &Format{Type: TypeDate, DateFormat: "YYYY-MM-DD HH:mm:ss"}, want: "2024-03-05 10:07:09"},
		{name: "date only", raw: "2024-03-05", format: &Format{Type: TypeDate, DateFormat: "MMM D, YYYY"}, want: "Mar 5, 2024"},
		{name: "twelve hour", raw: "2024-03-05T15:04:00Z", format: &Format{Type: TypeDate, DateFormat: "h:mm A"}, want: "3:04 PM"},
		{name: "offset converted to utc", raw: "2024-03-05T01:00:00+02:00", format: &Format{Type: TypeDate, DateFormat: "D MMMM YY HH"}, want: "4 March 24 23"},
		{name: "out of range", raw: 1e300, format: &Format{Type: TypeDate}, want: DefaultFallback},
		{name: "out of range negative", raw: "-1e19", format: &Format{Type: TypeDate, Fallback: "-"}, want: "-"},
		{name: "literal brackets", raw: 0, format: &Format{Type: TypeDate, DateFormat: "[Day] D"}, want: "Day 1"},
		{name: "time value", raw: time.Date(2020, 2, 29, 8, 0, 0, 0, time.UTC), format: &Format{Type: TypeDate, DateFormat: "DD/MM"}, want: "29/02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Value(tt.raw, tt.format))
		})
	}
}

func TestValueIsPure(t *testing.T) {
	formats := []*Format{
		{Compact: true},
		{Decimals: intPtr(3), Prefix: "~"},
		{Type: TypeDuration},
		{Type: TypeDate, DateFormat: "YYYY"},
		{Locale: "fr-FR"},
	}
	values := []any{0, 1.5, 123456789, -42.25, "17", nil}

	for _, f := range formats {
		for _, v := range values {
			assert.Equal(t, Value(v, f), Value(v, f))
		}
	}
}
