package main

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/drive-in/drive-in-go/internal/drive"
)

// Progress modes accepted by transfers.progress and --progress.
const (
	progressAuto   = "auto"
	progressAlways = "always"
	progressNever  = "never"
)

// transferProgress renders a byte progress bar for one transfer. A nil
// *transferProgress is valid and draws nothing.
type transferProgress struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
	max int64
}

// wantProgressBar decides whether a bar is drawn. Bars are never drawn in
// quiet mode or when several transfers share the terminal.
func wantProgressBar(mode string, quiet, concurrent bool, w io.Writer) bool {
	if quiet || concurrent {
		return false
	}

	switch mode {
	case progressAlways:
		return true
	case progressNever:
		return false
	default:
		return isTerminal(w)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newTransferProgress returns a bar labelled with description, or nil when
// the mode, the terminal, or concurrency rules out drawing one.
func newTransferProgress(cc *CLIContext, description string, concurrent bool) *transferProgress {
	if !wantProgressBar(cc.Cfg.Transfers.Progress, cc.Flags.Quiet, concurrent, cc.Stderr) {
		return nil
	}

	// The total is unknown until the first chunk reports it.
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(cc.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionUseANSICodes(true),
	)

	return &transferProgress{bar: bar, max: -1}
}

// Func adapts the bar to the per-chunk callback. It returns nil for a nil
// receiver so transfers skip the callback entirely.
func (p *transferProgress) Func() drive.ProgressFunc {
	if p == nil {
		return nil
	}

	return p.update
}

func (p *transferProgress) update(done, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if total > 0 && total != p.max {
		p.max = total
		p.bar.ChangeMax64(total)
	}

	_ = p.bar.Set64(done) //nolint:errcheck // rendering errors only affect the display
}

// Finish completes and clears the bar.
func (p *transferProgress) Finish() {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.bar.Finish() //nolint:errcheck // rendering errors only affect the display
}

// Abandon stops drawing without filling the bar, after a failed transfer.
func (p *transferProgress) Abandon() {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.bar.Exit() //nolint:errcheck // rendering errors only affect the display
}
