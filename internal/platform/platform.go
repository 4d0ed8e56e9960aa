// Package platform abstracts the OS input, clipboard, and accessibility
// surfaces. The darwin driver talks to Quartz and the AX API; every other
// platform gets a stub, and tests use the in-memory Sim driver.
package platform

import (
	"context"
	"errors"
	"time"

	"desktrace/internal/uitree"
)

// ErrPermissionDenied is returned when the OS-level accessibility or
// input-monitoring authorization is missing. The caller must re-request
// authorization and retry; the core never retries on its own.
var ErrPermissionDenied = errors.New("input monitoring/accessibility permission denied")

// ErrUnsupported is returned by drivers on platforms without a real
// capture/injection backend.
var ErrUnsupported = errors.New("platform driver not supported on this OS")

// ErrAppNotRunning is returned by app-scoped driver calls when the name
// matches no running application.
var ErrAppNotRunning = errors.New("application not running")

// RawKind labels an uninterpreted OS input notification.
type RawKind int

const (
	RawClick RawKind = iota
	RawMove
	RawScroll
	RawKeyDown
)

// RawEvent is one OS input notification, already normalized to the packed
// modifier flags of the event package but not yet a typed Event.
type RawEvent struct {
	Time      time.Time
	Kind      RawKind
	X, Y      int
	Button    int
	Clicks    int
	DX, DY    int
	Keycode   int
	Modifiers uint8
}

// AppInfo identifies a running application.
type AppInfo struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
}

// Permissions reports the process-wide authorization state. It is external
// read-only state: the core checks it, it cannot grant it.
type Permissions struct {
	Accessibility   bool
	InputMonitoring bool
}

// AllGranted reports whether recording may start.
func (p Permissions) AllGranted() bool { return p.Accessibility && p.InputMonitoring }

// Source delivers raw input events. Run blocks on the OS delivery loop
// until ctx is cancelled; emit is called from the delivery thread and must
// not block for long.
type Source interface {
	Run(ctx context.Context, emit func(RawEvent)) error
}

// Injector posts synthetic input.
type Injector interface {
	MoveTo(x, y int) error
	Click(x, y, button, clicks int) error
	Scroll(x, y, dx, dy int) error
	KeyPress(keycode int, mods uint8) error
}

// Screen samples the current UI focus.
type Screen interface {
	Frontmost() (AppInfo, error)
	WindowTitle(pid int) (string, error)
}

// Clipboard reads and writes the system pasteboard.
type Clipboard interface {
	ReadClipboard() (string, error)
	WriteClipboard(text string) error
}

// Apps lists, activates, and inspects running applications.
type Apps interface {
	RunningApps() ([]AppInfo, error)
	ActivateApp(name string) error
	ElementTree(appName string, maxDepth int) (*uitree.Node, error)
}

// Driver is the full OS surface.
type Driver interface {
	Source
	Injector
	Screen
	Clipboard
	Apps
	Probe() Permissions
}
