package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for different elements of the summary
type ColorScheme struct {
	Title *color.Color
	Rule  *color.Color
	Label *color.Color
	Value *color.Color
	Phase *color.Color
	Pass  *color.Color
	Warn  *color.Color
	Fail  *color.Color
	Muted *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title: color.New(color.Bold),
		Rule:  color.New(color.FgCyan),
		Label: color.New(color.Bold),
		Value: color.New(color.FgCyan),
		Phase: color.New(color.FgMagenta),
		Pass:  color.New(color.FgGreen),
		Warn:  color.New(color.FgYellow),
		Fail:  color.New(color.FgRed, color.Bold),
		Muted: color.New(color.Faint),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range []*color.Color{
		scheme.Title, scheme.Rule, scheme.Label, scheme.Value, scheme.Phase,
		scheme.Pass, scheme.Warn, scheme.Fail, scheme.Muted,
	} {
		c.DisableColor()
	}
	return scheme
}

// ForceColorScheme returns the default scheme with colors on regardless of
// the terminal.
func ForceColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range []*color.Color{
		scheme.Title, scheme.Rule, scheme.Label, scheme.Value, scheme.Phase,
		scheme.Pass, scheme.Warn, scheme.Fail, scheme.Muted,
	} {
		c.EnableColor()
	}
	return scheme
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// supportsColors checks the environment for color preferences.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}
