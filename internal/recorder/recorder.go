// Package recorder owns the capture pipeline: the event tap worker, the
// app/window focus observer, and the recording lifecycle that drains both
// into an ordered workflow.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"desktrace/internal/event"
	"desktrace/internal/platform"

	"github.com/google/uuid"
)

const (
	defaultPollInterval   = 100 * time.Millisecond
	defaultTextTimeout    = 300 * time.Millisecond
	defaultClipboardDelay = 50 * time.Millisecond
	defaultMoveThreshold  = 5.0
	defaultBufferSize     = 10000
	defaultRingCapacity   = 1000
	defaultSubscriberCap  = 100
)

// Config tunes the capture pipeline. Zero values take the defaults above.
type Config struct {
	// PollInterval is the app/window observer sampling period.
	PollInterval time.Duration
	// TextTimeout is the pause that ends a typing burst.
	TextTimeout time.Duration
	// ClipboardDelay is the settle time between a copy/cut shortcut and
	// the single clipboard read it triggers.
	ClipboardDelay time.Duration
	// MoveThreshold is the minimum pointer travel (px) between recorded
	// move events.
	MoveThreshold float64
	// BufferSize bounds the event bus. Producers block rather than drop
	// when it fills; at human input rates it never does.
	BufferSize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.TextTimeout <= 0 {
		c.TextTimeout = defaultTextTimeout
	}
	if c.ClipboardDelay <= 0 {
		c.ClipboardDelay = defaultClipboardDelay
	}
	if c.MoveThreshold <= 0 {
		c.MoveThreshold = defaultMoveThreshold
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// Recorder creates recordings against one platform driver. Multiple
// recorders are safely constructible; each rejects overlapping recordings
// of its own but shares no state with other instances.
type Recorder struct {
	driver platform.Driver
	cfg    Config

	mu     sync.Mutex
	active *Recording
}

// New builds a recorder over the given driver.
func New(driver platform.Driver, cfg Config) *Recorder {
	return &Recorder{driver: driver, cfg: cfg.withDefaults()}
}

// Recording is one active or stopped capture session.
type Recording struct {
	ID   string
	Name string

	recorder *Recorder
	start    time.Time
	cancel   context.CancelFunc

	bus       chan event.Event
	producers sync.WaitGroup
	consumed  chan struct{}

	mu       sync.Mutex
	workflow *event.Workflow
	stopped  bool
	runErr   error

	ring  *ring
	subMu sync.RWMutex
	subs  map[string]chan event.Event
}

// Start validates permissions, spawns the tap and observer workers, and
// begins draining the bus. Permission failures surface here, synchronously,
// and are never retried by the core.
func (r *Recorder) Start(name string) (*Recording, error) {
	perms := r.driver.Probe()
	if !perms.AllGranted() {
		return nil, fmt.Errorf("start recording %q (accessibility=%v, input monitoring=%v): %w",
			name, perms.Accessibility, perms.InputMonitoring, platform.ErrPermissionDenied)
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &Recording{
		ID:       uuid.New().String(),
		Name:     name,
		recorder: r,
		start:    time.Now(),
		cancel:   cancel,
		bus:      make(chan event.Event, r.cfg.BufferSize),
		consumed: make(chan struct{}),
		workflow: event.NewWorkflow(name),
		ring:     newRing(defaultRingCapacity),
		subs:     make(map[string]chan event.Event),
	}
	r.active = rec
	r.mu.Unlock()

	// Producer 1: event tap worker on the OS delivery loop.
	rec.producers.Add(1)
	go func() {
		defer rec.producers.Done()
		tap := newTapWorker(r.driver, r.cfg, rec)
		if err := tap.run(ctx); err != nil && ctx.Err() == nil {
			rec.setRunErr(fmt.Errorf("event tap: %w", err))
		}
	}()

	// Producer 2: app/window focus observer.
	rec.producers.Add(1)
	go func() {
		defer rec.producers.Done()
		runObserver(ctx, r.driver, r.cfg.PollInterval, rec)
	}()

	// Consumer: drain the bus into the workflow and fan out to streams.
	go rec.consume()

	return rec, nil
}

// elapsed returns milliseconds since recording start for a wall time,
// the single shared clock reference for both producers.
func (rec *Recording) elapsed(at time.Time) int64 {
	ms := at.Sub(rec.start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// publish puts one event on the bus. Blocks instead of dropping when the
// bus is full: silent loss would corrupt the recording.
func (rec *Recording) publish(e event.Event) {
	rec.bus <- e
}

func (rec *Recording) setRunErr(err error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.runErr == nil {
		rec.runErr = err
	}
}

func (rec *Recording) consume() {
	defer close(rec.consumed)
	for e := range rec.bus {
		rec.mu.Lock()
		rec.workflow.Append(e)
		rec.mu.Unlock()

		rec.ring.write(e)
		rec.fanOut(e)
	}
}

func (rec *Recording) fanOut(e event.Event) {
	rec.subMu.RLock()
	defer rec.subMu.RUnlock()
	for _, ch := range rec.subs {
		select {
		case ch <- e:
		default:
			// Laggard subscriber; the canonical buffer is unaffected.
		}
	}
}

// Stop terminates both capture workers, drains remaining buffered events,
// and returns the finished workflow. A second call is a caller error.
func (rec *Recording) Stop() (*event.Workflow, error) {
	rec.mu.Lock()
	if rec.stopped {
		rec.mu.Unlock()
		return nil, ErrAlreadyStopped
	}
	rec.stopped = true
	rec.mu.Unlock()

	rec.cancel()
	rec.producers.Wait()
	close(rec.bus)
	<-rec.consumed

	rec.subMu.Lock()
	for id, ch := range rec.subs {
		close(ch)
		delete(rec.subs, id)
	}
	rec.subMu.Unlock()

	rec.recorder.mu.Lock()
	if rec.recorder.active == rec {
		rec.recorder.active = nil
	}
	rec.recorder.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.workflow, rec.runErr
}

// Annotate publishes an element context event describing the UI element an
// automation action touched while this recording was active. It is a no-op
// once the recording stopped.
func (rec *Recording) Annotate(role, name, value string) {
	rec.mu.Lock()
	if rec.stopped {
		rec.mu.Unlock()
		return
	}
	// Registering as a producer keeps the bus open until the publish lands.
	rec.producers.Add(1)
	rec.mu.Unlock()
	defer rec.producers.Done()

	rec.publish(event.Context(rec.elapsed(time.Now()), role, name, value))
}

// Active reports whether the recording is still capturing.
func (rec *Recording) Active() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return !rec.stopped
}

// Events returns a snapshot of the events captured so far.
func (rec *Recording) Events() []event.Event {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]event.Event, len(rec.workflow.Events))
	copy(out, rec.workflow.Events)
	return out
}

// Subscribe registers a live consumer of the event sequence. The returned
// history covers events captured before the subscription so a late caller
// sees the full stream. The channel closes on Stop.
func (rec *Recording) Subscribe() (string, <-chan event.Event, []event.Event) {
	id := uuid.New().String()
	ch := make(chan event.Event, defaultSubscriberCap)

	history := rec.ring.snapshot()

	// Register under subMu so a racing Stop either closes this channel in
	// its sweep or is already observed as stopped here.
	rec.subMu.Lock()
	rec.mu.Lock()
	stopped := rec.stopped
	rec.mu.Unlock()
	if stopped {
		rec.subMu.Unlock()
		close(ch)
		return id, ch, history
	}
	rec.subs[id] = ch
	rec.subMu.Unlock()

	return id, ch, history
}

// Unsubscribe removes a subscriber and closes its channel.
func (rec *Recording) Unsubscribe(id string) {
	rec.subMu.Lock()
	defer rec.subMu.Unlock()
	if ch, ok := rec.subs[id]; ok {
		close(ch)
		delete(rec.subs, id)
	}
}
