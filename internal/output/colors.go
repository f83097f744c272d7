package output

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme holds the colors used by the text reports.
type ColorScheme struct {
	Title   *color.Color
	Label   *color.Color
	Value   *color.Color
	Good    *color.Color
	Warn    *color.Color
	Muted   *color.Color
	noColor bool
}

// NewColorScheme returns the default scheme, or one with every color
// disabled when noColor is set.
func NewColorScheme(noColor bool) *ColorScheme {
	s := &ColorScheme{
		Title:   color.New(color.FgMagenta, color.Bold),
		Label:   color.New(color.FgCyan),
		Value:   color.New(color.FgWhite, color.Bold),
		Good:    color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Muted:   color.New(color.FgHiBlack),
		noColor: noColor,
	}
	if noColor {
		for _, c := range []*color.Color{s.Title, s.Label, s.Value, s.Good, s.Warn, s.Muted} {
			c.DisableColor()
		}
	}
	return s
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
