package output

import (
	"os"
	"strconv"

	"golang.org/x/term"
)

// terminalWidth returns the width of stdout, or 0 when it is not a terminal
func terminalWidth() int {
	// Check COLUMNS env var first
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if width, err := strconv.Atoi(cols); err == nil && width > 0 {
			return width
		}
	}

	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}

// RuleWidth narrows the separator rule to the terminal when it is smaller.
func RuleWidth(want int) int {
	return fitWidth(want, terminalWidth())
}

func fitWidth(want, available int) int {
	if available > 0 && available < want {
		return available
	}
	return want
}
