// Package progress renders the event bus's sync/transfer/indexing events as
// terminal progress bars. Grounded in the teacher's internal/progress
// package: the per-task mpb bar shape of uploadui.go/downloadui.go
// (BarStyle, PrependDecorators/AppendDecorators, BarRemoveOnComplete), and
// the single schollz progressbar.ProgressBar of progress.go's CLIProgress
// for the non-task-scoped sync phases. Unlike the teacher, which calls a
// Reporter directly from the transfer loop, this subscriber only consumes
// events.Bus — the engines (C5/C6/C7) and syncer never know a UI exists.
package progress

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/nimbusfs/objectsync/internal/events"
)

// CLI subscribes to an events.Bus and renders its activity as terminal
// progress bars for as long as Run is active.
type CLI struct {
	bus        *events.Bus
	mpbw       *mpb.Progress
	isTerminal bool

	mu   sync.Mutex
	bars map[string]*mpb.Bar

	syncBar *progressbar.ProgressBar

	stop chan struct{}
	done chan struct{}
}

// NewCLI returns a CLI progress renderer bound to bus. Output disables
// itself automatically when stderr is not a terminal, matching the
// teacher's isTerminal gate.
func NewCLI(bus *events.Bus) *CLI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(mpb.WithOutput(os.Stderr), mpb.WithRefreshRate(300*time.Millisecond), mpb.WithWidth(80))
	}
	return &CLI{
		bus: bus, mpbw: p, isTerminal: isTerminal,
		bars: make(map[string]*mpb.Bar),
		stop: make(chan struct{}), done: make(chan struct{}),
	}
}

// Run consumes events until Stop is called. Intended to be run in its own
// goroutine for the lifetime of a CLI command.
func (c *CLI) Run() {
	defer close(c.done)
	ch := c.bus.SubscribeAll()
	for {
		select {
		case <-c.stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.handle(ev)
		}
	}
}

// Stop requests Run to exit and waits for it to do so, then waits for any
// live mpb bars to finish rendering.
func (c *CLI) Stop() {
	close(c.stop)
	<-c.done
	if c.mpbw != nil {
		c.mpbw.Wait()
	}
}

func (c *CLI) handle(ev events.Event) {
	switch e := ev.(type) {
	case *events.SyncPhaseEvent:
		c.onSyncPhase(e)
	case *events.SyncProgressEvent:
		c.onSyncProgress(e)
	case *events.IndexingProgressEvent:
		c.onIndexingProgress(e)
	case *events.UploadProgressEvent:
		c.onTaskProgress(e.TaskID, "upload", e.Percent, e.UploadedBytes, e.TotalBytes)
	case *events.DownloadProgressEvent:
		c.onTaskProgress(e.TaskID, "download", e.Percent, e.DownloadedBytes, e.TotalBytes)
	case *events.MoveProgressEvent:
		c.onTaskProgress(e.TaskID, "move:"+e.Phase, e.Percent, e.TransferredBytes, e.TotalBytes)
	case *events.DownloadStatusEvent:
		c.onTerminalStatus(e.TaskID, e.Status)
	case *events.MoveStatusEvent:
		c.onTerminalStatus(e.TaskID, e.Status)
	}
}

func (c *CLI) onSyncPhase(e *events.SyncPhaseEvent) {
	switch e.Phase {
	case "fetching":
		if c.isTerminal {
			c.syncBar = progressbar.NewOptions64(-1,
				progressbar.OptionSetDescription("listing remote objects"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionSpinnerType(14),
			)
		} else {
			fmt.Fprintln(os.Stderr, "listing remote objects...")
		}
	case "storing":
		if c.syncBar != nil {
			_ = c.syncBar.Finish()
		}
		fmt.Fprintln(os.Stderr, "storing file index...")
	case "indexing":
		fmt.Fprintln(os.Stderr, "rebuilding directory tree...")
		c.syncBar = nil
	case "complete":
		fmt.Fprintln(os.Stderr, "sync complete")
	}
}

func (c *CLI) onSyncProgress(e *events.SyncProgressEvent) {
	if c.syncBar != nil {
		_ = c.syncBar.Set(e.Count)
	}
}

func (c *CLI) onIndexingProgress(e *events.IndexingProgressEvent) {
	if !c.isTerminal || e.Total == 0 {
		return
	}
	if c.syncBar == nil {
		c.syncBar = progressbar.NewOptions64(int64(e.Total),
			progressbar.OptionSetDescription("indexing directory tree"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
		)
	}
	_ = c.syncBar.Set(e.Current)
}

// onTaskProgress gets-or-creates a named mpb bar for taskID and advances it
// to the given absolute percentage.
func (c *CLI) onTaskProgress(taskID, kind string, percent float64, current, total int64) {
	if !c.isTerminal {
		return
	}
	c.mu.Lock()
	bar, ok := c.bars[taskID]
	if !ok {
		bar = c.mpbw.New(total,
			mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
			mpb.PrependDecorators(decor.Name(fmt.Sprintf("%s %s", kind, taskID), decor.WCSyncSpace)),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Percentage(decor.WCSyncSpace),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
		c.bars[taskID] = bar
	}
	c.mu.Unlock()

	bar.SetCurrent(current)
	if percent >= 100 {
		bar.SetTotal(total, true)
	}
}

// onTerminalStatus removes a bar when its session reaches a terminal state
// other than the progress-driven 100% completion already handled above.
func (c *CLI) onTerminalStatus(taskID, status string) {
	switch status {
	case "completed", "success":
		return // already closed by the final 100% progress event
	}
	c.mu.Lock()
	bar, ok := c.bars[taskID]
	delete(c.bars, taskID)
	c.mu.Unlock()
	if ok {
		bar.Abort(true)
	}
}
