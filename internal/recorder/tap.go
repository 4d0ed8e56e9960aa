package recorder

import (
	"context"
	"math"
	"sync"
	"time"

	"desktrace/internal/event"
	"desktrace/internal/platform"
)

// tapWorker turns raw OS input into typed events. It owns the text
// aggregation buffer and the clipboard shortcut heuristic; everything it
// produces goes through rec.publish so ordering is decided by the bus.
type tapWorker struct {
	driver platform.Driver
	cfg    Config
	rec    *Recording

	raw chan platform.RawEvent

	// Typing burst under construction. textAt is the wall time of the
	// last buffered character and becomes the burst's timestamp.
	textBuf []rune
	textAt  time.Time

	// Last recorded pointer position for the move threshold.
	lastX, lastY int
	haveMove     bool

	clipWG sync.WaitGroup
}

func newTapWorker(driver platform.Driver, cfg Config, rec *Recording) *tapWorker {
	return &tapWorker{
		driver: driver,
		cfg:    cfg,
		rec:    rec,
		raw:    make(chan platform.RawEvent, 256),
	}
}

// run pumps the driver's source until ctx is cancelled, then flushes any
// open typing burst and waits for in-flight clipboard reads.
func (w *tapWorker) run(ctx context.Context) error {
	runErr := make(chan error, 1)
	go func() {
		runErr <- w.driver.Run(ctx, func(ev platform.RawEvent) {
			select {
			case w.raw <- ev:
			case <-ctx.Done():
			}
		})
	}()

	// The flush timer is armed only while a burst is open.
	flush := time.NewTimer(w.cfg.TextTimeout)
	if !flush.Stop() {
		<-flush.C
	}

	for {
		select {
		case <-ctx.Done():
			w.flushText()
			w.clipWG.Wait()
			return <-runErr
		case err := <-runErr:
			w.flushText()
			w.clipWG.Wait()
			return err
		case ev := <-w.raw:
			w.handle(ev, flush)
		case <-flush.C:
			w.flushText()
		}
	}
}

func (w *tapWorker) handle(ev platform.RawEvent, flush *time.Timer) {
	t := w.rec.elapsed(ev.Time)

	switch ev.Kind {
	case platform.RawClick:
		w.flushText()
		stopTimer(flush)
		w.rec.publish(event.Click(t, ev.X, ev.Y, ev.Button, ev.Clicks, ev.Modifiers))
		w.lastX, w.lastY, w.haveMove = ev.X, ev.Y, true

	case platform.RawMove:
		// Moves do not end a typing burst; a drift of the pointer while
		// the user types is noise, not a context change.
		if w.haveMove && math.Hypot(float64(ev.X-w.lastX), float64(ev.Y-w.lastY)) < w.cfg.MoveThreshold {
			return
		}
		w.rec.publish(event.Move(t, ev.X, ev.Y))
		w.lastX, w.lastY, w.haveMove = ev.X, ev.Y, true

	case platform.RawScroll:
		if ev.DX == 0 && ev.DY == 0 {
			return
		}
		w.flushText()
		stopTimer(flush)
		w.rec.publish(event.Scroll(t, ev.X, ev.Y, ev.DX, ev.DY))

	case platform.RawKeyDown:
		w.handleKey(ev, t, flush)
	}
}

func (w *tapWorker) handleKey(ev platform.RawEvent, t int64, flush *time.Timer) {
	// Cmd+C/X/V drives the clipboard heuristic. Ctrl excludes it so that
	// e.g. cmd+ctrl combos stay plain shortcuts.
	if event.HasCmd(ev.Modifiers) && !event.HasCtrl(ev.Modifiers) {
		switch ev.Keycode {
		case event.KeycodeV:
			w.flushText()
			stopTimer(flush)
			if text, err := w.driver.ReadClipboard(); err == nil {
				w.rec.publish(event.Clipboard(t, event.ClipPaste, text))
			}
			w.rec.publish(event.Key(t, ev.Keycode, ev.Modifiers))
			return
		case event.KeycodeC, event.KeycodeX:
			w.flushText()
			stopTimer(flush)
			w.rec.publish(event.Key(t, ev.Keycode, ev.Modifiers))
			op := event.ClipCopy
			if ev.Keycode == event.KeycodeX {
				op = event.ClipCut
			}
			// The pasteboard is written by the foreground app after the
			// shortcut lands, so read it once after a short settle delay.
			w.clipWG.Add(1)
			go func() {
				defer w.clipWG.Done()
				time.Sleep(w.cfg.ClipboardDelay)
				if text, err := w.driver.ReadClipboard(); err == nil {
					w.rec.publish(event.Clipboard(t, op, text))
				}
			}()
			return
		}
	}

	if event.CommandLike(ev.Modifiers) {
		w.flushText()
		stopTimer(flush)
		w.rec.publish(event.Key(t, ev.Keycode, ev.Modifiers))
		return
	}

	if ch, ok := event.KeycodeToChar(ev.Keycode, ev.Modifiers); ok {
		if ch == '\b' {
			if len(w.textBuf) > 0 {
				w.textBuf = w.textBuf[:len(w.textBuf)-1]
				w.textAt = ev.Time
				flush.Reset(w.cfg.TextTimeout)
				return
			}
			w.rec.publish(event.Key(t, ev.Keycode, ev.Modifiers))
			return
		}
		w.textBuf = append(w.textBuf, ch)
		w.textAt = ev.Time
		flush.Reset(w.cfg.TextTimeout)
		return
	}

	// Non-printable key (escape, arrows, function keys).
	w.flushText()
	stopTimer(flush)
	w.rec.publish(event.Key(t, ev.Keycode, ev.Modifiers))
}

// flushText emits the open typing burst, stamped at its last character.
func (w *tapWorker) flushText() {
	if len(w.textBuf) == 0 {
		return
	}
	w.rec.publish(event.Text(w.rec.elapsed(w.textAt), string(w.textBuf)))
	w.textBuf = w.textBuf[:0]
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
