package presentation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/box/respsniff/analysis"
	"github.com/box/respsniff/protocol/model"
	"github.com/mattn/go-runewidth"
	"github.com/nsf/termbox-go"
)

const (
	numColumns  = 12
	statusLines = 1
	logLines    = 4
	// columns given to each key field; aggregates get one each
	keyColumnSpan = 3
)

var (
	errQuitRequested = errors.New("user requested to quit")
)

func (u *uiContext) runTermbox(ctx context.Context) error {
	if err := termbox.Init(); err != nil {
		return err
	}
	defer func() {
		// ensure that the termboxEvents goroutine shuts down
		termbox.Interrupt()
		termbox.Close()
	}()

	return u.eventLoop(ctx)
}

func (u *uiContext) eventLoop(ctx context.Context) error {
	updateTick := time.NewTicker(u.Interval)
	defer updateTick.Stop()
	events := termboxEvents()
	if err := u.update(); err != nil {
		return err
	}
	done := u.Done

	for {
		select {
		case <-updateTick.C:
			if err := u.update(); err != nil {
				return err
			}

		case msg := <-u.msgChan:
			u.handleNewMessage(msg)
			if err := u.redraw(); err != nil {
				return err
			}

		case <-done:
			// keep the last report on screen until the user quits
			done = nil
			updateTick.Stop()
			u.handleNewMessage("End of input, press q to quit")
			if err := u.update(); err != nil {
				return err
			}

		case <-ctx.Done():
			return nil

		case ev := <-events:
			if err := u.handleEvent(ev); err != nil {
				if err == errQuitRequested {
					return nil
				}
				return err
			}
		}
	}
}

func termboxEvents() <-chan termbox.Event {
	ch := make(chan termbox.Event)
	go func() {
		for {
			ev := termbox.PollEvent()
			if ev.Type == termbox.EventInterrupt {
				return
			}
			ch <- ev
		}
	}()
	return ch
}

func (u *uiContext) handleEvent(ev termbox.Event) error {
	switch ev.Type {
	case termbox.EventKey:
		if ev.Ch == 'p' {
			u.handlePause()
			return u.redraw()
		}
		if ev.Ch == 's' {
			u.handleSort()
			return u.redraw()
		}
		if ev.Ch == 'q' || ev.Key == termbox.KeyCtrlC {
			return errQuitRequested
		}
		if ev.Key == termbox.KeyCtrlL {
			if err := u.redraw(); err != nil {
				return err
			}
			return termbox.Sync()
		}

	case termbox.EventResize:
		return u.redraw()

	case termbox.EventError:
		return ev.Err
	}
	return nil
}

func (u *uiContext) handlePause() {
	u.paused = !u.paused
	if u.paused {
		u.handleNewMessage("Updates paused")
	} else {
		u.handleNewMessage("Updates unpaused")
	}
}

// handleSort moves the sort order to the next aggregate column.
func (u *uiContext) handleSort() {
	n := len(u.prevReport.ValColNames)
	if n == 0 {
		return
	}
	u.sortAgg = (u.sortAgg + 1) % n
	u.sortReport(&u.prevReport)
	u.handleNewMessage("Sorting by " + u.prevReport.ValColNames[u.sortAgg])
}

func (u *uiContext) handleNewMessage(msg string) {
	if len(u.messages) < logLines {
		u.messages = append(u.messages, msg)
	} else {
		u.messages = append(u.messages[1:], msg)
	}
}

// update fetches a new report and draws it.
func (u *uiContext) update() error {
	// Continue to clear the accumulated data every interval even when paused
	// so we don't get a big burst of data on unpause.
	rep := u.report()
	if !u.paused {
		u.prevReport = rep
	}
	return u.redraw()
}

// redraw draws the most recent report without fetching a new one.
func (u *uiContext) redraw() error {
	if err := termbox.Clear(termbox.ColorDefault, termbox.ColorDefault); err != nil {
		return err
	}
	renderHeader(u.prevReport, u.sortAgg)
	renderReport(u.prevReport)
	u.renderFooter(u.prevReport)
	u.renderMessages()
	return termbox.Flush()
}

func renderHeader(rep analysis.Report, sortAgg int) {
	var col int
	for _, h := range rep.KeyColNames {
		renderText(col, 0, h, termbox.AttrBold)
		col += keyColumnSpan
	}
	for i, h := range rep.ValColNames {
		if i == sortAgg {
			renderText(col, 0, h+"*", termbox.AttrBold|termbox.AttrUnderline)
		} else {
			renderText(col, 0, h, termbox.AttrBold)
		}
		col++
	}
	renderLine(0, numColumns, 1, '-')
}

func renderReport(rep analysis.Report) {
	lastY := yFromBottom(statusLines + logLines)
	for i, r := range rep.Rows {
		y := i + 2
		if y > lastY {
			break
		}
		fg := rowColor(r)
		col := 0
		for _, k := range r.Key {
			renderText(col, y, k, fg)
			col += keyColumnSpan
		}
		for _, v := range r.Values {
			renderText(col, y, strconv.FormatInt(v, 10), fg)
			col++
		}
	}
}

// rowColor highlights rows keyed by error replies or decoding failures.
func rowColor(r analysis.ReportRow) termbox.Attribute {
	for _, k := range r.Key {
		if k == model.EventError.String() || k == model.EventProtocolError.String() {
			return termbox.ColorRed
		}
	}
	return termbox.ColorDefault
}

func (u *uiContext) renderMessages() {
	for i, msg := range u.messages {
		renderText(0, yFromBottom(len(u.messages)-i-1+statusLines), msg, termbox.ColorDefault)
	}
}

func (u *uiContext) renderFooter(rep analysis.Report) {
	y := yFromBottom(0)
	stats := u.StatProvider()
	renderText(0, y, rep.Timestamp.Format("15:04:05.000"), termbox.ColorDefault)
	dropColor := termbox.ColorDefault
	if stats.DroppedTotal() > 0 || stats.ProtocolErrors > 0 {
		dropColor = termbox.ColorYellow
	}
	renderText(2, y, dropLabel(stats), dropColor)
	if stats.BytesRead > 0 {
		renderText(6, y, fmt.Sprintf("Bytes: %10d", stats.BytesRead), termbox.ColorDefault)
	} else {
		renderText(6, y, fmt.Sprintf("Packets: %10d", stats.PacketsRead), termbox.ColorDefault)
	}
	renderText(9, y, fmt.Sprintf("Messages: %10d", stats.EventsHandled), termbox.ColorDefault)
}

func dropLabel(s Stats) string {
	var dropRate float64
	if total := s.PacketsRead + s.PacketsDroppedKernel; total > 0 {
		dropRate = float64(s.PacketsDroppedKernel+s.PacketsDroppedAssembly) / float64(total)
	}

	return fmt.Sprintf("Dropped: %d+%d+%d=%d (%5.2f%%) Errors: %d",
		s.PacketsDroppedKernel, s.PacketsDroppedAssembly,
		s.EventsDropped, s.DroppedTotal(), dropRate*100, s.ProtocolErrors)
}

func renderText(column int, y int, txt string, fg termbox.Attribute) {
	x := columnX(column)
	for _, r := range txt {
		termbox.SetCell(x, y, r, fg, termbox.ColorDefault)
		x += runewidth.RuneWidth(r)
	}
}

func renderLine(column int, span int, y int, ch rune) {
	w := runewidth.RuneWidth(ch)
	for x := columnX(column); x < columnX(column+span); x += w {
		termbox.SetCell(x, y, ch, termbox.ColorDefault, termbox.ColorDefault)
	}
}

func columnX(col int) int {
	w, _ := termbox.Size()
	if col >= numColumns {
		return w
	}
	return w * col / numColumns
}

func yFromBottom(n int) int {
	_, h := termbox.Size()
	return h - 1 - n
}
