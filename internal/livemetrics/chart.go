package livemetrics

import (
	"strconv"
	"strings"
)

// Bar is one rectangle of a bar sparkline.
type Bar struct {
	X, Y, W, H float64
}

// scale maps series values into a width x height box with y growing down.
// A flat series is drawn along the vertical middle.
func scale(series []Point, width, height float64) (xs, ys []float64) {
	if len(series) == 0 {
		return nil, nil
	}
	lo, hi := series[0].V, series[0].V
	for _, p := range series[1:] {
		lo = min(lo, p.V)
		hi = max(hi, p.V)
	}

	xs = make([]float64, len(series))
	ys = make([]float64, len(series))
	step := 0.0
	if len(series) > 1 {
		step = width / float64(len(series)-1)
	}
	for i, p := range series {
		xs[i] = float64(i) * step
		if hi == lo {
			ys[i] = height / 2
		} else {
			ys[i] = height - (p.V-lo)/(hi-lo)*height
		}
	}
	return xs, ys
}

// LinePath returns an SVG path ("M x y L x y ...") through the series.
func LinePath(series []Point, width, height float64) string {
	xs, ys := scale(series, width, height)
	if len(xs) == 0 {
		return ""
	}
	var b strings.Builder
	for i := range xs {
		if i == 0 {
			b.WriteString("M")
		} else {
			b.WriteString(" L")
		}
		b.WriteString(coord(xs[i]))
		b.WriteByte(' ')
		b.WriteString(coord(ys[i]))
	}
	return b.String()
}

// AreaPath closes LinePath along the bottom edge.
func AreaPath(series []Point, width, height float64) string {
	line := LinePath(series, width, height)
	if line == "" {
		return ""
	}
	xs, _ := scale(series, width, height)
	return line + " L" + coord(xs[len(xs)-1]) + " " + coord(height) + " L0 " + coord(height) + " Z"
}

// Bars lays out one bar per point with a 1px gap.
func Bars(series []Point, width, height float64) []Bar {
	if len(series) == 0 {
		return nil
	}
	_, ys := scale(series, width, height)
	w := width / float64(len(series))
	bars := make([]Bar, len(series))
	for i := range series {
		bw := max(w-1, 1)
		bars[i] = Bar{X: float64(i) * w, Y: ys[i], W: bw, H: height - ys[i]}
	}
	return bars
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
