package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/zhaobenny/lectic-usage/internal/model"
)

const (
	DefaultBarWidth  = 40
	DefaultRuleWidth = 78

	glyphOutput = "█"
	glyphInput  = "▓"
	glyphCached = "░"
)

// palette is indexed by a model's position in the sorted model list
var palette = []color.Attribute{
	color.FgBlue,
	color.FgGreen,
	color.FgYellow,
	color.FgRed,
	color.FgMagenta,
	color.FgCyan,
}

// Segment is one model's magnitude within a bucket, split into the three
// parts a bar segment is drawn from. Units are tokens or dollars.
type Segment struct {
	Total  float64
	Output float64
	Input  float64 // uncached input
	Cached float64
}

// TokenSegment splits a token counter. Total excludes cached tokens since
// they are a subset of input.
func TokenSegment(t model.Tokens) Segment {
	cached := t.Cached
	if cached > t.Input {
		cached = t.Input
	}
	return Segment{
		Total:  float64(t.Total()),
		Output: float64(t.Output),
		Input:  float64(t.Input - cached),
		Cached: float64(cached),
	}
}

// CostSegment splits a cost.
func CostSegment(c model.Cost) Segment {
	return Segment{
		Total:  c.Total(),
		Output: c.Output,
		Input:  c.Input,
		Cached: c.Cached,
	}
}

// Row is one display bucket.
type Row struct {
	Key    string
	Models map[string]Segment
}

// Total sums the magnitude of every model in the row.
func (r Row) Total() float64 {
	var total float64
	for _, s := range r.Models {
		total += s.Total
	}
	return total
}

// Bar is the cell counts of one model's segment.
type Bar struct {
	Model  string
	Output int
	Input  int
	Cached int
}

// Len returns the number of cells in the segment.
func (b Bar) Len() int {
	return b.Output + b.Input + b.Cached
}

// Line is a laid out row.
type Line struct {
	Key    string
	Total  float64
	Length int
	Bars   []Bar
}

// Layout turns rows into integer cell counts. The bar length is
// floor(total/max*width); each model gets floor(m/total*length) cells and is
// omitted when that is zero; inside a segment output and cached are floored
// and input takes the remainder, so the three always sum to the segment.
func Layout(rows []Row, models []string, width int) []Line {
	var max float64
	for _, r := range rows {
		if t := r.Total(); t > max {
			max = t
		}
	}

	lines := make([]Line, 0, len(rows))
	for _, r := range rows {
		total := r.Total()
		line := Line{Key: r.Key, Total: total}
		if max > 0 {
			line.Length = int(total / max * float64(width))
		}

		for _, m := range models {
			seg, ok := r.Models[m]
			if !ok || seg.Total <= 0 || total <= 0 {
				continue
			}
			segLen := int(seg.Total / total * float64(line.Length))
			if segLen == 0 {
				continue
			}

			out := int(seg.Output / seg.Total * float64(segLen))
			cached := int(seg.Cached / seg.Total * float64(segLen))
			if out+cached > segLen {
				cached = segLen - out
			}
			line.Bars = append(line.Bars, Bar{
				Model:  m,
				Output: out,
				Input:  segLen - out - cached,
				Cached: cached,
			})
		}
		lines = append(lines, line)
	}
	return lines
}

// Chart renders rows as colored horizontal bars
type Chart struct {
	Width     int  // bar cells for the largest bucket
	RuleWidth int  // separator length
	Money     bool // totals are dollars rather than tokens
	NoColor   bool
}

func (c Chart) colors(models []string) map[string]*color.Color {
	colors := make(map[string]*color.Color, len(models))
	for i, m := range models {
		col := color.New(palette[i%len(palette)])
		if c.NoColor {
			col.DisableColor()
		} else {
			col.EnableColor()
		}
		colors[m] = col
	}
	return colors
}

// Render writes the legend, a rule, one line per row and a closing rule.
// models must be sorted; a model's color is its index in that list.
func (c Chart) Render(w io.Writer, rows []Row, models []string) error {
	width := c.Width
	if width <= 0 {
		width = DefaultBarWidth
	}
	ruleWidth := c.RuleWidth
	if ruleWidth <= 0 {
		ruleWidth = DefaultRuleWidth
	}
	colors := c.colors(models)
	rule := strings.Repeat("─", ruleWidth)

	legend := make([]string, 0, len(models))
	for _, m := range models {
		legend = append(legend, colors[m].Sprint(glyphOutput+glyphInput+glyphCached)+" "+m)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Legend: %s\n", strings.Join(legend, "  "))
	fmt.Fprintf(&b, "        %s%s%s Output/Input/Cache\n", glyphOutput, glyphInput, glyphCached)
	fmt.Fprintln(&b, rule)

	for _, line := range Layout(rows, models, width) {
		var bar strings.Builder
		for _, seg := range line.Bars {
			bar.WriteString(colors[seg.Model].Sprint(
				strings.Repeat(glyphOutput, seg.Output) +
					strings.Repeat(glyphInput, seg.Input) +
					strings.Repeat(glyphCached, seg.Cached)))
		}
		fmt.Fprintf(&b, "%-16s │ %s %s\n", line.Key, bar.String(), c.formatTotal(line.Total))
	}
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(w, b.String())
	return err
}

func (c Chart) formatTotal(total float64) string {
	if c.Money {
		return FormatCost(total)
	}
	return FormatNumber(int64(total))
}
