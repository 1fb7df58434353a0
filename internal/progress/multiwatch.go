package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/sharkoder/sharkoder/internal/events"
)

// MultiWatcher renders one mpb bar per in-flight job, keyed by job ID, so
// concurrent downloads/encodes/uploads each get their own line instead of
// clobbering a single bar (spec §6: multiple jobs active at once under
// MaxDownloads/MaxUploads). Falls back to plain line printing on a non-TTY.
type MultiWatcher struct {
	progress   *mpb.Progress
	isTerminal bool
	mu         sync.Mutex
	bars       map[int64]*jobBar
}

type jobBar struct {
	bar   *mpb.Bar
	stage string
	total int64
	cur   int64
}

// NewMultiWatcher creates a watcher that renders to stderr.
func NewMultiWatcher() *MultiWatcher {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &MultiWatcher{
		progress:   p,
		isTerminal: isTerminal,
		bars:       make(map[int64]*jobBar),
	}
}

// Run consumes events until ch closes.
func (w *MultiWatcher) Run(ch <-chan events.Event) {
	for ev := range ch {
		switch e := ev.(type) {
		case *events.ProgressEvent:
			w.onProgress(e)
		case *events.StateChangeEvent:
			w.onStateChange(e)
		}
	}
}

func (w *MultiWatcher) onProgress(e *events.ProgressEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	jb, ok := w.bars[e.JobID]
	if !ok {
		total := e.BytesTot
		if total <= 0 {
			total = 100
		}
		jb = &jobBar{total: total, stage: e.Stage}
		if w.isTerminal {
			jb.bar = w.progress.New(total,
				mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
				mpb.PrependDecorators(
					decor.Any(func(decor.Statistics) string {
						return fmt.Sprintf("job %d %s", e.JobID, jb.stage)
					}, decor.WCSyncSpace),
				),
				mpb.AppendDecorators(
					decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
					decor.Percentage(decor.WCSyncSpace),
				),
				mpb.BarRemoveOnComplete(),
			)
		} else {
			fmt.Fprintf(os.Stderr, "job %d: starting %s\n", e.JobID, e.Stage)
		}
		w.bars[e.JobID] = jb
	}

	jb.stage = e.Stage
	cur := e.BytesCur
	if e.BytesTot <= 0 {
		cur = int64(e.Percent)
	}
	if jb.bar != nil {
		jb.bar.SetCurrent(cur)
	}
	jb.cur = cur
}

func (w *MultiWatcher) onStateChange(e *events.StateChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	jb, ok := w.bars[e.JobID]
	if !ok {
		return
	}
	switch e.NewState {
	case "completed":
		if jb.bar != nil {
			jb.bar.SetCurrent(jb.total)
			jb.bar.SetTotal(jb.total, true)
		} else {
			fmt.Fprintf(os.Stderr, "job %d: completed\n", e.JobID)
		}
		delete(w.bars, e.JobID)
	case "failed":
		if jb.bar != nil {
			jb.bar.Abort(false)
		}
		fmt.Fprintf(os.Stderr, "job %d: failed: %s\n", e.JobID, e.ErrorMessage)
		delete(w.bars, e.JobID)
	}
}

// Wait blocks until every rendered bar completes draining.
func (w *MultiWatcher) Wait() {
	if w.progress != nil {
		w.progress.Wait()
	}
}
