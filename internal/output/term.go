package output

import (
	"os"
	"strconv"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

const defaultWidth = 80

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultWidth
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}

	return fallback
}

// IsTerminal reports whether stdout is a terminal. Callers use it to pick
// JSON for pipes.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Truncate shortens s to at most width visible cells, adding an ellipsis.
// ANSI styling is preserved and not counted.
func Truncate(s string, width int) string {
	if width <= 0 || ansi.StringWidth(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "…")
}
