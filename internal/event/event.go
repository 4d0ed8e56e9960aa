package event

import "time"

// Kind discriminates the event variants. The values double as the compact
// "e" field codes in the on-disk format.
type Kind string

const (
	KindClick       Kind = "c"
	KindMove        Kind = "m"
	KindScroll      Kind = "s"
	KindKey         Kind = "k"
	KindText        Kind = "t"
	KindAppSwitch   Kind = "a"
	KindWindowFocus Kind = "w"
	KindClipboard   Kind = "p"
	KindContext     Kind = "x"
)

// Clipboard operation codes stored in the "o" field.
const (
	ClipCopy  = "c"
	ClipCut   = "x"
	ClipPaste = "v"
)

// Event is a single captured interaction. T is milliseconds since recording
// start; exactly one group of payload fields is meaningful per Kind.
type Event struct {
	T    int64
	Kind Kind

	// Click / Move / Scroll position.
	X, Y int

	// Click: button (0=left, 1=right, 2=middle) and click count.
	Button int
	Clicks int

	// Scroll deltas.
	DX, DY int

	// Key: keycode. Modifiers is shared by Click and Key.
	Keycode   int
	Modifiers uint8

	// Text burst, clipboard snapshot, or context value.
	Text string

	// Clipboard operation (ClipCopy, ClipCut, ClipPaste).
	Op string

	// AppSwitch: Name + PID. WindowFocus: App + Title.
	// Context: Role + Name + Value (Value stored in Text).
	Name  string
	PID   int
	App   string
	Title string
	Role  string
}

// Workflow is an ordered, named recording. Events are append-only while a
// recording is active and must carry non-decreasing timestamps.
type Workflow struct {
	Name      string
	CreatedAt time.Time
	Events    []Event
}

// NewWorkflow creates an empty workflow stamped with the current time.
func NewWorkflow(name string) *Workflow {
	return &Workflow{Name: name, CreatedAt: time.Now().UTC()}
}

// Append adds an event, clamping its timestamp so the non-decreasing
// invariant holds even if two producers raced on the shared clock.
func (w *Workflow) Append(e Event) {
	if n := len(w.Events); n > 0 && e.T < w.Events[n-1].T {
		e.T = w.Events[n-1].T
	}
	w.Events = append(w.Events, e)
}

// Span returns the timestamp of the last event, i.e. the recording length
// in milliseconds.
func (w *Workflow) Span() int64 {
	if len(w.Events) == 0 {
		return 0
	}
	return w.Events[len(w.Events)-1].T
}

// Click builds a click event.
func Click(t int64, x, y, button, clicks int, mods uint8) Event {
	return Event{T: t, Kind: KindClick, X: x, Y: y, Button: button, Clicks: clicks, Modifiers: mods}
}

// Move builds a pointer move event.
func Move(t int64, x, y int) Event {
	return Event{T: t, Kind: KindMove, X: x, Y: y}
}

// Scroll builds a scroll event at the given pointer position.
func Scroll(t int64, x, y, dx, dy int) Event {
	return Event{T: t, Kind: KindScroll, X: x, Y: y, DX: dx, DY: dy}
}

// Key builds a key press event.
func Key(t int64, keycode int, mods uint8) Event {
	return Event{T: t, Kind: KindKey, Keycode: keycode, Modifiers: mods}
}

// Text builds an aggregated typing burst event.
func Text(t int64, s string) Event {
	return Event{T: t, Kind: KindText, Text: s}
}

// AppSwitch builds a frontmost-application change event.
func AppSwitch(t int64, name string, pid int) Event {
	return Event{T: t, Kind: KindAppSwitch, Name: name, PID: pid}
}

// WindowFocus builds a window focus change event.
func WindowFocus(t int64, app, title string) Event {
	return Event{T: t, Kind: KindWindowFocus, App: app, Title: title}
}

// Clipboard builds a clipboard operation event. The snapshot is truncated
// to keep recordings compact.
func Clipboard(t int64, op, text string) Event {
	return Event{T: t, Kind: KindClipboard, Op: op, Text: Truncate(text, 100)}
}

// Context builds an element-context event describing the UI element an
// action touched.
func Context(t int64, role, name, value string) Event {
	return Event{T: t, Kind: KindContext, Role: role, Name: Truncate(name, 50), Text: Truncate(value, 50)}
}

// Truncate shortens s to at most max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
