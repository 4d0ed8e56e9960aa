package recorder

import (
	"context"
	"time"

	"desktrace/internal/event"
	"desktrace/internal/platform"
)

// runObserver polls the frontmost application and its window title,
// emitting app switch events on PID change and window focus events when
// the (app, title) pair changes. The first successful sample emits both
// so every recording opens with its starting context.
func runObserver(ctx context.Context, driver platform.Driver, interval time.Duration, rec *Recording) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		havePrev  bool
		prevPID   int
		prevApp   string
		prevTitle string
	)

	sample := func(now time.Time) {
		front, err := driver.Frontmost()
		if err != nil {
			// Transient focus gaps (fast app switches, screen lock) are
			// skipped; the next tick resolves them.
			return
		}
		title, err := driver.WindowTitle(front.PID)
		if err != nil {
			title = ""
		}
		t := rec.elapsed(now)

		if !havePrev {
			rec.publish(event.AppSwitch(t, front.Name, front.PID))
			rec.publish(event.WindowFocus(t, front.Name, title))
			havePrev, prevPID, prevApp, prevTitle = true, front.PID, front.Name, title
			return
		}

		if front.PID != prevPID {
			rec.publish(event.AppSwitch(t, front.Name, front.PID))
		}
		if front.Name != prevApp || title != prevTitle {
			rec.publish(event.WindowFocus(t, front.Name, title))
		}
		prevPID, prevApp, prevTitle = front.PID, front.Name, title
	}

	sample(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sample(now)
		}
	}
}
