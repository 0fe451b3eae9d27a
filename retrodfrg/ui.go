// Package retrodfrg draws the terminal progress display for one helper
// session: the connect/handshake/run/done stages of submitting a single
// command to rpi-imager-helper and watching its DOWNLOAD/VERIFY/WRITE
// progress frames arrive.
package retrodfrg

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
)

// ErrInterrupted is an error value for a session the user cancelled
// (ctrl-c, q, or escape). SessionUI itself never returns it; cancellation
// is reported through Cancelled.
var ErrInterrupted = errors.New("interrupted")

// sessionStages are the four stages every submitted command passes
// through, in order. They are fixed rather than caller-supplied: this
// display exists only to narrate one helper command's lifecycle.
var sessionStages = []string{"connect", "handshake", "run", "done"}

// SessionUI renders one helper session: the command being submitted,
// which of the four stages have completed, and the most recent
// DOWNLOAD/VERIFY/WRITE progress frame as both a status line and a
// proportional bar.
type SessionUI struct {
	s        tcell.Screen
	stopChan chan struct{}
	once     sync.Once

	commandLine  string
	notes        []string
	stageDone    map[string]bool
	statusLine   string
	barWidth     int
	barFilled    int
}

// NewSessionUI opens the terminal screen and prepares to narrate the
// submission of commandLine. notes are freeform lines shown under the
// command (e.g. cancellation instructions).
func NewSessionUI(commandLine string, notes ...string) (*SessionUI, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	u := &SessionUI{
		s:           s,
		stopChan:    make(chan struct{}),
		commandLine: commandLine,
		notes:       append([]string(nil), notes...),
		stageDone:   make(map[string]bool),
	}
	go u.eventLoop()
	return u, nil
}

// Close restores the terminal to its original state.
func (u *SessionUI) Close() {
	if u.s == nil {
		return
	}
	u.s.Fini()
	u.s = nil
	fmt.Print("\033[?1049l\033[?25h")
}

// RequestCancel signals that the user wants to abort the in-flight
// command. Safe to call more than once.
func (u *SessionUI) RequestCancel() {
	u.once.Do(func() {
		close(u.stopChan)
		u.s.PostEvent(tcell.NewEventInterrupt(nil))
	})
}

// Cancelled reports whether the user has requested cancellation.
func (u *SessionUI) Cancelled() bool {
	select {
	case <-u.stopChan:
		return true
	default:
		return false
	}
}

// Size returns the current screen width and height.
func (u *SessionUI) Size() (width, height int) {
	if u.s == nil {
		return 0, 0
	}
	return u.s.Size()
}

func putStr(s tcell.Screen, x, y int, str string) {
	w, _ := s.Size()
	runes := []rune(str)
	for i, r := range runes {
		pos := x + i
		if pos >= w {
			break // don't write beyond screen width
		}
		s.SetContent(pos, y, r, nil, tcell.StyleDefault)
	}
}

// MarkConnected records that the pipe connect succeeded.
func (u *SessionUI) MarkConnected() { u.markStageDone("connect") }

// MarkHandshakeComplete records that HELLO/READY completed.
func (u *SessionUI) MarkHandshakeComplete() { u.markStageDone("handshake") }

func (u *SessionUI) markStageDone(stage string) {
	u.stageDone[stage] = true
	u.draw()
}

// ReportProgress records the most recent progress frame and redraws the
// status line and proportional bar from it.
func (u *SessionUI) ReportProgress(kind string, now, total int64) {
	u.statusLine = fmt.Sprintf("%s: %d / %d", kind, now, total)
	w, _ := u.Size()
	if w <= 0 {
		w = 1
	}
	filled := 0
	if total > 0 {
		filled = int(int64(w) * now / total)
		if filled > w {
			filled = w
		}
	}
	u.barWidth = w
	u.barFilled = filled
	u.draw()
}

// ShowResult marks "run" and "done" complete and renders the final
// SUCCESS/FAILURE line.
func (u *SessionUI) ShowResult(ok bool) {
	u.stageDone["run"] = true
	u.stageDone["done"] = true
	if ok {
		u.statusLine = "result: SUCCESS"
	} else {
		u.statusLine = "result: FAILURE"
	}
	u.draw()
}

// draw redraws the entire screen from current state.
func (u *SessionUI) draw() {
	u.s.Clear()
	w, h := u.s.Size()
	currentY := 0

	title := "rpi-imager-helper session"
	putStr(u.s, 0, currentY, strings.Repeat("═", w))
	centerX := (w - len(title)) / 2
	putStr(u.s, centerX, currentY, title)
	currentY++

	if currentY < h {
		putStr(u.s, 0, currentY, "command: "+u.commandLine)
		currentY++
	}
	for _, line := range u.notes {
		if currentY >= h {
			break
		}
		putStr(u.s, 0, currentY, line)
		currentY++
	}

	if u.barWidth > 0 {
		avail := h - currentY - 7
		if avail < 1 {
			avail = 1
		}
		if avail > 0 && currentY < h {
			bar := strings.Repeat("#", u.barFilled) + strings.Repeat("-", u.barWidth-u.barFilled)
			putStr(u.s, 0, currentY, bar)
			currentY++
		}
	}

	putStr(u.s, 0, currentY, strings.Repeat("─", w))
	putStr(u.s, 2, currentY, " Stage ")
	currentY++
	check := func(ok bool) rune {
		if ok {
			return '✓'
		}
		return ' '
	}
	var b strings.Builder
	for i, stage := range sessionStages {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(fmt.Sprintf("[%c]%s", check(u.stageDone[stage]), stage))
	}
	putStr(u.s, 0, currentY, b.String())
	currentY++

	if u.statusLine != "" {
		putStr(u.s, 0, currentY, strings.Repeat("─", w))
		putStr(u.s, 2, currentY, " Status ")
		currentY++
		if currentY < h {
			putStr(u.s, 0, currentY, u.statusLine)
			currentY++
		}
	}

	u.s.Show()
}

func (u *SessionUI) eventLoop() {
	go func() {
		for {
			select {
			case <-u.stopChan:
				return
			default:
			}
			ev := u.s.PollEvent()
			switch ev := ev.(type) {
			case *tcell.EventKey:
				switch {
				case ev.Key() == tcell.KeyCtrlC:
					u.RequestCancel()
				case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
					u.RequestCancel()
				case ev.Key() == tcell.KeyEscape:
					u.RequestCancel()
				}
			case *tcell.EventResize:
				u.s.Sync()
			case *tcell.EventInterrupt:
				return
			case nil:
				return
			}
		}
	}()
}
