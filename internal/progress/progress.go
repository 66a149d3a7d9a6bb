// Package progress renders terminal activity for the long-running scan,
// compare and apply passes.
package progress

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// refresh throttles repaints; callers describe far more often than a
// terminal needs redrawing.
const refresh = 100 * time.Millisecond

// Bar wraps progressbar behind an on/off switch so call sites never branch
// on whether progress output is wanted. Every method is a no-op on a
// disabled Bar.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New creates a Bar writing to stderr. total < 0 selects spinner mode, for
// passes that cannot know their extent up front (scanning, comparing);
// total >= 0 selects a determinate bar (applying a known number of link
// operations). enabled=false yields an inert Bar.
func New(enabled bool, total int64) *Bar {
	if !enabled {
		return &Bar{}
	}

	opts := []progressbar.Option{
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(refresh),
		progressbar.OptionClearOnFinish(),
	}

	if total < 0 {
		opts = append(opts,
			progressbar.OptionSpinnerType(11),
			progressbar.OptionSetElapsedTime(false),
		)
		return &Bar{bar: progressbar.NewOptions(-1, opts...)}
	}

	opts = append(opts,
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
	)
	return &Bar{bar: progressbar.NewOptions64(total, opts...)}
}

// Set moves a determinate bar to n completed items.
func (b *Bar) Set(n uint64) {
	if b.bar != nil {
		_ = b.bar.Set64(int64(n))
	}
}

// Describe replaces the bar's status line with the current stats.
func (b *Bar) Describe(s fmt.Stringer) {
	if b.bar != nil {
		b.bar.Describe(s.String())
	}
}

// Finish clears the bar and leaves the final stats line on stderr.
func (b *Bar) Finish(s fmt.Stringer) {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(os.Stderr, s.String())
	}
}
