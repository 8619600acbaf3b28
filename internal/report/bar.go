package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/sydlexius/corruptscan/internal/scanner"
)

const (
	defaultWidth = 80
	minBarCells  = 10
	labelRefresh = time.Second
	defaultLabel = "Checking files"
)

// Bar redraws a single ASCII progress line in place. Redraws are limited to
// one per interval, except the final one, which is always drawn. About once
// a second the label switches to the base name of the file just checked.
type Bar struct {
	w       io.Writer
	width   int
	limiter *rate.Limiter
	now     func() time.Time

	last      scanner.Progress
	label     string
	labelAt   time.Time
	drawn     bool
	lineWidth int
}

// NewBar creates a bar for a terminal width columns wide. A width of zero
// or less uses 80 columns.
func NewBar(w io.Writer, width int, interval time.Duration) *Bar {
	if width <= 0 {
		width = defaultWidth
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Bar{
		w:       w,
		width:   width,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     time.Now,
		label:   defaultLabel,
	}
}

// Progress records p and redraws when allowed.
func (b *Bar) Progress(p scanner.Progress) {
	b.last = p

	now := b.now()
	if b.labelAt.IsZero() {
		b.labelAt = now
	} else if now.Sub(b.labelAt) >= labelRefresh && p.Path != "" {
		b.label = defaultLabel + ": " + filepath.Base(p.Path)
		b.labelAt = now
	}

	if p.Done >= p.Total || b.limiter.AllowN(now, 1) {
		b.draw()
	}
}

// Finding prints f above the bar and redraws the bar below it.
func (b *Bar) Finding(f scanner.Finding) {
	b.clear()
	findingLine(b.w, f)
	if b.drawn {
		b.draw()
	}
}

// Finish draws the final state if it was never drawn and ends the line.
func (b *Bar) Finish() {
	if !b.drawn {
		b.draw()
	}
	fmt.Fprintln(b.w)
	b.lineWidth = 0
}

func (b *Bar) clear() {
	if b.lineWidth == 0 {
		return
	}
	fmt.Fprint(b.w, "\r"+strings.Repeat(" ", b.lineWidth)+"\r")
	b.lineWidth = 0
}

func (b *Bar) draw() {
	line := b.render()
	pad := ""
	width := utf8.RuneCountInString(line)
	if n := b.lineWidth - width; n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(b.w, "\r"+line+pad)
	b.lineWidth = width
	b.drawn = true
}

// render builds "label:  40%|####      | 4/10", fitted to the width.
func (b *Bar) render() string {
	done, total := b.last.Done, b.last.Total
	prefix := fmt.Sprintf("%s: %3d%%|", b.label, percent(done, total))
	suffix := fmt.Sprintf("| %d/%d", done, total)

	// Widths count runes, not bytes, so non-ASCII names fit.
	cells := b.width - 1 - utf8.RuneCountInString(prefix) - len(suffix)
	if cells < minBarCells {
		// Long file names give way to the bar.
		prefix = fmt.Sprintf("%s: %3d%%|", defaultLabel, percent(done, total))
		cells = max(b.width-1-utf8.RuneCountInString(prefix)-len(suffix), minBarCells)
	}

	filled := 0
	if total > 0 {
		filled = cells * done / total
	}
	return prefix + strings.Repeat("#", filled) + strings.Repeat(" ", cells-filled) + suffix
}
