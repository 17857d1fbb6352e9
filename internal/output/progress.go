package output

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Progress is a determinate progress bar. It renders nothing when the
// output is not a terminal.
type Progress struct {
	bar *progressbar.ProgressBar
}

// NewProgress creates a bar for total steps.
func NewProgress(out io.Writer, total int, description string) *Progress {
	if !IsTTY(out) {
		out = io.Discard
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &Progress{bar: bar}
}

// Add advances the bar by n steps.
func (p *Progress) Add(n int) { _ = p.bar.Add(n) }

// Describe replaces the description.
func (p *Progress) Describe(description string) { p.bar.Describe(description) }

// Done completes the bar.
func (p *Progress) Done() { _ = p.bar.Finish() }
