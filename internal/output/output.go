// Package output formats CLI output: status lines, fusion results and progress.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette shared by every renderer.
const (
	ColorAccent = "154"
	ColorDim    = "245"
	ColorRed    = "196"
	ColorYellow = "220"
)

// Styles groups the lipgloss styles used by Writer.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Score   lipgloss.Style
	Source  lipgloss.Style
}

// ColorStyles returns the colored palette.
func ColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDim)),
		Score:   lipgloss.NewStyle().Bold(true),
		Source:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDim)).Italic(true),
	}
}

// PlainStyles returns unstyled components.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{Header: plain, Success: plain, Warning: plain, Error: plain, Dim: plain, Score: plain, Source: plain}
}

// Writer provides formatted output for CLI.
type Writer struct {
	out    io.Writer
	styles Styles
}

// New creates a Writer. Colors are enabled only for terminals without NO_COLOR.
func New(out io.Writer) *Writer {
	w := &Writer{out: out, styles: PlainStyles()}
	if IsTTY(out) && !NoColor() {
		w.styles = ColorStyles()
	}
	return w
}

// NewWithStyles creates a Writer with explicit styles.
func NewWithStyles(out io.Writer, styles Styles) *Writer {
	return &Writer{out: out, styles: styles}
}

// Out returns the underlying writer.
func (w *Writer) Out() io.Writer { return w.out }

// Status prints a message with an icon. Write errors are ignored.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) Success(msg string) { w.Status("✅", w.styles.Success.Render(msg)) }

func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

func (w *Writer) Warning(msg string) { w.Status("⚠️ ", w.styles.Warning.Render(msg)) }

func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

func (w *Writer) Error(msg string) { w.Status("❌", w.styles.Error.Render(msg)) }

func (w *Writer) Errorf(format string, args ...any) { w.Error(fmt.Sprintf(format, args...)) }

// Header prints a bold section title.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

// KeyValue prints an aligned "key: value" line.
func (w *Writer) KeyValue(key string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.styles.Dim.Render(fmt.Sprintf("%-18s", key+":")), value)
}

// Code prints an indented block.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) Newline() { _, _ = fmt.Fprintln(w.out) }

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NoColor reports whether NO_COLOR is set.
func NoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}
