// Package replay re-executes a recorded workflow by injecting synthetic
// input with the original inter-event timing.
package replay

import (
	"context"
	"fmt"
	"time"

	"desktrace/internal/event"
	"desktrace/internal/platform"
)

// InjectionError reports which event failed to inject. Replay stops at the
// first failure; the desktop is in an unknown state past that point.
type InjectionError struct {
	Index int
	Kind  event.Kind
	Err   error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("inject event %d (kind %q): %v", e.Index, e.Kind, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

// Stats summarizes a finished replay.
type Stats struct {
	Total    int           `json:"total"`
	Injected int           `json:"injected"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Replayer injects workflows through a platform driver at a configurable
// speed multiplier.
type Replayer struct {
	driver platform.Driver
	speed  float64
}

// New validates the speed multiplier. 1.0 replays in real time, 2.0 twice
// as fast.
func New(driver platform.Driver, speed float64) (*Replayer, error) {
	if speed <= 0 {
		return nil, fmt.Errorf("replay speed must be positive, got %v", speed)
	}
	return &Replayer{driver: driver, speed: speed}, nil
}

// Run replays the workflow from the beginning. The wait before event i is
// (t_i - t_{i-1}) / speed, with the recording start as t_{-1}, so leading
// idle time is honored too. Cancellation is checked between events; an
// in-flight injection always completes.
func (r *Replayer) Run(ctx context.Context, wf *event.Workflow) (Stats, error) {
	stats := Stats{Total: len(wf.Events)}
	began := time.Now()

	var prev int64
	for i, e := range wf.Events {
		delay := time.Duration(float64(e.T-prev)/r.speed) * time.Millisecond
		prev = e.T

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				stats.Duration = time.Since(began)
				return stats, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(began)
			return stats, err
		}

		injected, err := r.inject(e)
		if err != nil {
			stats.Duration = time.Since(began)
			return stats, &InjectionError{Index: i, Kind: e.Kind, Err: err}
		}
		if injected {
			stats.Injected++
		} else {
			stats.Skipped++
		}
	}

	stats.Duration = time.Since(began)
	return stats, nil
}

// inject performs one event. Observational events (app, window, context)
// carry no action and are skipped.
func (r *Replayer) inject(e event.Event) (bool, error) {
	switch e.Kind {
	case event.KindMove:
		return true, r.driver.MoveTo(e.X, e.Y)
	case event.KindClick:
		if err := r.driver.MoveTo(e.X, e.Y); err != nil {
			return false, err
		}
		return true, r.driver.Click(e.X, e.Y, e.Button, e.Clicks)
	case event.KindScroll:
		return true, r.driver.Scroll(e.X, e.Y, e.DX, e.DY)
	case event.KindKey:
		return true, r.driver.KeyPress(e.Keycode, e.Modifiers)
	case event.KindText:
		return true, r.typeText(e.Text)
	case event.KindClipboard:
		// Restoring the pasteboard makes the following cmd+V key event
		// paste the recorded content.
		return true, r.driver.WriteClipboard(e.Text)
	default:
		return false, nil
	}
}

// typeText re-types a burst character by character. Characters with no
// keycode on the layout are dropped rather than failing the replay.
func (r *Replayer) typeText(text string) error {
	for _, ch := range text {
		keycode, shift, ok := event.CharToKeycode(ch)
		if !ok {
			continue
		}
		var mods uint8
		if shift {
			mods = event.ModShift
		}
		if err := r.driver.KeyPress(keycode, mods); err != nil {
			return err
		}
	}
	return nil
}
