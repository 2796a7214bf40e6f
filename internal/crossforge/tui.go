package crossforge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type logInfo struct {
	path    string
	content string
	modTime time.Time
}

// logViewer is a three-pane tview app: header, scrollable log, key help.
// It re-reads the log directory every 400ms so a running build can be
// followed from a second terminal.
type logViewer struct {
	dir string

	app    *tview.Application
	header *tview.TextView
	view   *tview.TextView
	footer *tview.TextView

	mu           sync.Mutex
	logs         []logInfo
	active       int
	prevActive   int
	prevContent  map[string]string
	shouldScroll bool
}

// RunLogViewer opens the viewer over the step logs in dir.
func RunLogViewer(dir string) error {
	v := &logViewer{dir: dir, prevActive: -1, prevContent: make(map[string]string)}
	return v.run()
}

func (v *logViewer) run() error {
	v.app = tview.NewApplication()

	v.header = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	v.header.SetBorder(true)
	v.header.SetTitle("crossforge step logs")

	v.view = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true)
	v.view.SetBorder(true)

	v.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	v.footer.SetBorder(true)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(v.header, 3, 0, false).
		AddItem(v.view, 0, 1, true).
		AddItem(v.footer, 3, 0, false)
	flex.SetInputCapture(v.handleKey)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(400 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				logs := readStepLogs(v.dir)
				v.app.QueueUpdateDraw(func() { v.setLogs(logs) })
			}
		}
	}()

	v.app.SetRoot(flex, true).SetFocus(v.view)
	v.setLogs(readStepLogs(v.dir))

	if err := v.app.Run(); err != nil {
		return fmt.Errorf("log viewer: %w", err)
	}
	return nil
}

func (v *logViewer) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyCtrlQ, tcell.KeyEsc:
		v.app.Stop()
		return nil
	case tcell.KeyLeft:
		v.move(-1)
		return nil
	case tcell.KeyRight:
		v.move(1)
		return nil
	case tcell.KeyHome:
		v.view.ScrollToBeginning()
		return nil
	case tcell.KeyEnd:
		v.view.ScrollToEnd()
		return nil
	case tcell.KeyPgUp:
		row, _ := v.view.GetScrollOffset()
		v.view.ScrollTo(max(row-10, 0), 0)
		return nil
	case tcell.KeyPgDn:
		row, _ := v.view.GetScrollOffset()
		v.view.ScrollTo(row+10, 0)
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q':
			v.app.Stop()
			return nil
		case 'h':
			v.move(-1)
			return nil
		case 'l':
			v.move(1)
			return nil
		}
	}
	return event
}

func (v *logViewer) move(delta int) {
	v.mu.Lock()
	if n := len(v.logs); n > 0 {
		v.active = (v.active + delta + n) % n
		v.shouldScroll = true
	}
	v.mu.Unlock()
	v.redraw()
}

// setLogs swaps in a fresh listing, keeping focus on the same file.
func (v *logViewer) setLogs(logs []logInfo) {
	v.mu.Lock()
	var current string
	if v.active < len(v.logs) {
		current = v.logs[v.active].path
	}
	v.logs = logs
	v.active = 0
	for i, l := range logs {
		if l.path == current {
			v.active = i
			break
		}
	}
	v.mu.Unlock()
	v.redraw()
}

func (v *logViewer) redraw() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.logs) == 0 {
		v.header.SetText("[gray]No step logs found[white]")
		v.view.SetText("No step log yet. Run 'crossforge build' to start a build.")
		v.footer.SetText("[gray]Press 'q' to quit[white]")
		return
	}

	log := v.logs[v.active]
	v.header.SetText(fmt.Sprintf("[gray]Log %d/%d: %s (%s)[white]",
		v.active+1, len(v.logs), filepath.Base(log.path), log.modTime.Format(time.TimeOnly)))

	switched := v.prevActive != v.active
	v.prevActive = v.active
	prev, hadPrev := v.prevContent[log.path]
	if log.content != prev || switched {
		row, _ := v.view.GetScrollOffset()
		wasAtBottom := false
		if !switched && hadPrev {
			v.view.ScrollTo(row+1, 0)
			next, _ := v.view.GetScrollOffset()
			wasAtBottom = next == row
			v.view.ScrollTo(row, 0)
		}

		v.view.Clear()
		_, _ = tview.ANSIWriter(v.view).Write([]byte(log.content))

		switch {
		case switched || v.shouldScroll || wasAtBottom:
			v.view.ScrollToEnd()
			v.shouldScroll = false
		case hadPrev:
			v.view.ScrollTo(row, 0)
		}
		v.prevContent[log.path] = log.content
	}

	v.footer.SetText("[gray]" + strings.Join([]string{
		"q/Esc quit",
		"← → (or h/l) switch log",
		"↑ ↓ PgUp PgDn scroll",
		"Home/End jump",
	}, " | ") + "[white]")
}

// readStepLogs lists the *.log files of dir, newest first. The rotating
// process log is left out.
func readStepLogs(dir string) []logInfo {
	paths, _ := filepath.Glob(filepath.Join(dir, "*.log"))
	var logs []logInfo
	for _, p := range paths {
		if filepath.Base(p) == ProcessLogFile {
			continue
		}
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		content, err := os.ReadFile(p)
		if err != nil {
			content = []byte(fmt.Sprintf("failed to read log: %v", err))
		}
		logs = append(logs, logInfo{path: p, content: string(content), modTime: fi.ModTime()})
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if !logs[i].modTime.Equal(logs[j].modTime) {
			return logs[i].modTime.After(logs[j].modTime)
		}
		return logs[i].path > logs[j].path
	})
	return logs
}
