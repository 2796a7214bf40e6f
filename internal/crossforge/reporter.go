package crossforge

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// consoleOwned is set while a step draws its own live output; the elapsed
// line is not redrawn then.
var consoleOwned atomic.Bool

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// formatDuration renders d as seconds with one decimal, e.g. "12.3s".
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// consoleReporter prints one line per step. While a step runs on a terminal
// the line is redrawn every 100ms with the elapsed time.
type consoleReporter struct {
	out   io.Writer
	tty   bool
	total int

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

func newConsoleReporter(out io.Writer, tty bool, total int) *consoleReporter {
	return &consoleReporter{out: out, tty: tty, total: total}
}

func (r *consoleReporter) label(index int, name string) string {
	return fmt.Sprintf("[%d/%d] %s", index+1, r.total, name)
}

func (r *consoleReporter) StepSkipped(index int, name string) {
	debugf("%s already completed, skipping\n", r.label(index, name))
}

func (r *consoleReporter) StepStarted(index int, name, _ string) {
	label := r.label(index, name)
	if !r.tty {
		fmt.Fprint(r.out, colArrow.Sprint("-> "))
		fmt.Fprintln(r.out, label)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = make(chan struct{})
	r.stopped = make(chan struct{})
	go r.tick(label, time.Now(), r.done, r.stopped)
}

func (r *consoleReporter) tick(label string, start time.Time, done, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	draw := func() {
		if consoleOwned.Load() {
			return
		}
		fmt.Fprint(r.out, "\r\033[K"+colArrow.Sprint("-> ")+label+" "+colNote.Sprint(formatDuration(time.Since(start))))
	}
	draw()
	for {
		select {
		case <-done:
			fmt.Fprint(r.out, "\r\033[K")
			return
		case <-ticker.C:
			draw()
		}
	}
}

func (r *consoleReporter) StepFinished(index int, name string, elapsed time.Duration, err error) {
	r.mu.Lock()
	if r.done != nil {
		close(r.done)
		<-r.stopped
		r.done, r.stopped = nil, nil
	}
	r.mu.Unlock()

	label := r.label(index, name)
	fmt.Fprint(r.out, colArrow.Sprint("-> "))
	if err != nil {
		fmt.Fprintf(r.out, "%s %s in %s\n", label, colError.Sprint("failed"), formatDuration(elapsed))
		return
	}
	fmt.Fprintf(r.out, "%s %s in %s\n", label, colSuccess.Sprint("done"), formatDuration(elapsed))
}
