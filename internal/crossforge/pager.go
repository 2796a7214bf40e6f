package crossforge

import (
	"fmt"
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// tableHeaderLines is the top border, header row and separator of a
// renderTable table.
const tableHeaderLines = 3

// pagerPage is a rendered table split into a pinned header and scrollable
// rows.
type pagerPage struct {
	title  string
	header []string
	body   []string
}

func newPagerPage(title, text string, headerLines int) pagerPage {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	headerLines = min(max(headerLines, 0), len(lines))
	return pagerPage{title: title, header: lines[:headerLines], body: lines[headerLines:]}
}

// fits reports whether the page can be printed without scrolling in a
// terminal of the given height. Two rows are reserved for the view border.
func (p pagerPage) fits(height int) bool {
	return len(p.header)+len(p.body) <= height-2
}

func (p pagerPage) String() string {
	return strings.Join(append(append([]string{}, p.header...), p.body...), "\n")
}

// runPager prints the page, or opens a scrollable view with the header kept
// in place when stdout is a terminal too short for it.
func runPager(page pagerPage) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fmt.Println(page.String())
		return nil
	}
	if _, height, err := term.GetSize(fd); err == nil && page.fits(height) {
		fmt.Println(page.String())
		return nil
	}

	app := tview.NewApplication()

	header := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	fmt.Fprint(tview.ANSIWriter(header), strings.Join(page.header, "\n"))

	rows := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	fmt.Fprint(tview.ANSIWriter(rows), strings.Join(page.body, "\n"))

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText(fmt.Sprintf("[gray]%d lines | ↑/↓ PgUp/PgDn scroll | g/G top/bottom | q quit[white]", len(page.body)))

	body := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, len(page.header), 0, false).
		AddItem(rows, 0, 1, true)
	body.SetBorder(true).SetTitle(" " + page.title + " ")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				app.Stop()
				return nil
			case 'g':
				rows.ScrollToBeginning()
				return nil
			case 'G':
				rows.ScrollToEnd()
				return nil
			}
		}
		return event
	})

	if err := app.SetRoot(layout, true).SetFocus(rows).Run(); err != nil {
		return fmt.Errorf("history pager: %w", err)
	}
	return nil
}
