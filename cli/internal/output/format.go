package output

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatNumber formats a number with thousand separators
func FormatNumber(n int64) string {
	return humanize.Comma(n)
}

// FormatCost formats a cost value as currency. Amounts under a cent keep
// four decimals so small hourly costs do not print as $0.00.
func FormatCost(cost float64) string {
	if cost == 0 {
		return "$0.00"
	}
	if cost < 0.01 {
		return "$" + commaFixed(cost, 4)
	}
	return "$" + commaFixed(cost, 2)
}

// commaFixed renders f with the given decimals and separators in the integer part.
func commaFixed(f float64, decimals int) string {
	s := strconv.FormatFloat(f, 'f', decimals, 64)
	intPart, frac, _ := strings.Cut(s, ".")

	neg := strings.HasPrefix(intPart, "-")
	n, err := strconv.ParseInt(strings.TrimPrefix(intPart, "-"), 10, 64)
	if err != nil {
		return s
	}

	out := humanize.Comma(n)
	if neg {
		out = "-" + out
	}
	if frac != "" {
		out += "." + frac
	}
	return out
}
