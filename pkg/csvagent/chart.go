package csvagent

import (
	"fmt"
	"html"
	"math"
	"strings"
	"unicode/utf8"
)

// Chart types.
const (
	ChartBar  = "bar"
	ChartLine = "line"
)

const (
	chartWidth   = 800
	chartHeight  = 450
	marginLeft   = 80
	marginRight  = 20
	marginTop    = 50
	marginBottom = 90
	maxLabelLen  = 14
	barColor     = "#4f6bed"
)

// RenderChart draws groups as an SVG bar or line chart.
func RenderChart(title, chartType string, groups []Group) ([]byte, error) {
	if chartType != ChartBar && chartType != ChartLine {
		return nil, fmt.Errorf("unsupported chart type %q (use bar or line)", chartType)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("nothing to chart")
	}

	plotW := float64(chartWidth - marginLeft - marginRight)
	plotH := float64(chartHeight - marginTop - marginBottom)

	lo, hi := 0.0, 0.0
	for _, g := range groups {
		lo = math.Min(lo, g.Value)
		hi = math.Max(hi, g.Value)
	}
	if hi == lo {
		hi = lo + 1
	}
	y := func(v float64) float64 {
		return float64(marginTop) + plotH - (v-lo)/(hi-lo)*plotH
	}
	step := plotW / float64(len(groups))

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif">`+"\n",
		chartWidth, chartHeight, chartWidth, chartHeight)
	fmt.Fprintf(&b, `<rect width="100%%" height="100%%" fill="#ffffff"/>`+"\n")
	fmt.Fprintf(&b, `<text x="%d" y="30" font-size="18" text-anchor="middle" fill="#222222">%s</text>`+"\n",
		chartWidth/2, html.EscapeString(title))

	// axes
	fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%.1f" stroke="#333333"/>`+"\n",
		marginLeft, marginTop, marginLeft, float64(marginTop)+plotH)
	fmt.Fprintf(&b, `<line x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="#333333"/>`+"\n",
		marginLeft, y(0), chartWidth-marginRight, y(0))

	for i := 0; i <= 4; i++ {
		v := lo + (hi-lo)*float64(i)/4
		fmt.Fprintf(&b, `<text x="%d" y="%.1f" font-size="11" text-anchor="end" fill="#555555">%s</text>`+"\n",
			marginLeft-6, y(v)+4, formatNumber(v))
	}

	points := make([]string, 0, len(groups))
	for i, g := range groups {
		cx := float64(marginLeft) + step*float64(i) + step/2
		if chartType == ChartBar {
			top, bottom := y(math.Max(g.Value, 0)), y(math.Min(g.Value, 0))
			fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s"/>`+"\n",
				cx-step*0.35, top, step*0.7, bottom-top, barColor)
		} else {
			points = append(points, fmt.Sprintf("%.1f,%.1f", cx, y(g.Value)))
		}
		fmt.Fprintf(&b, `<text x="%.1f" y="%.1f" font-size="11" text-anchor="end" transform="rotate(-40 %.1f %.1f)" fill="#333333">%s</text>`+"\n",
			cx, float64(marginTop)+plotH+16, cx, float64(marginTop)+plotH+16, html.EscapeString(shorten(g.Key)))
	}
	if chartType == ChartLine {
		fmt.Fprintf(&b, `<polyline points="%s" fill="none" stroke="%s" stroke-width="2"/>`+"\n",
			strings.Join(points, " "), barColor)
	}

	b.WriteString("</svg>\n")
	return []byte(b.String()), nil
}

func shorten(s string) string {
	if utf8.RuneCountInString(s) <= maxLabelLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLabelLen-1]) + "…"
}
