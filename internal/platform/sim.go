package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"desktrace/internal/uitree"
)

// Sim is an in-memory driver. Tests script raw input through Send, set the
// frontmost app and clipboard directly, and inspect every injection the
// replayer or automation engine performed.
type Sim struct {
	mu sync.Mutex

	perms     Permissions
	clipboard string

	frontName  string
	frontPID   int
	frontTitle string

	trees map[string]*uitree.Node

	injected []Injection
	raw      chan RawEvent

	// InjectErr, when set, is returned by every injection call.
	InjectErr error
}

// Injection records one synthetic input call in arrival order.
type Injection struct {
	Op      string // "move", "click", "scroll", "key", "clipboard"
	X, Y    int
	Button  int
	Clicks  int
	DX, DY  int
	Keycode int
	Mods    uint8
	Text    string
}

// NewSim returns a simulated driver with all permissions granted.
func NewSim() *Sim {
	return &Sim{
		perms: Permissions{Accessibility: true, InputMonitoring: true},
		trees: make(map[string]*uitree.Node),
		raw:   make(chan RawEvent, 256),
	}
}

// SetPermissions overrides the probed permission state.
func (s *Sim) SetPermissions(p Permissions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms = p
}

// Probe reports the configured permission state, honoring env overrides.
func (s *Sim) Probe() Permissions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return probeOverrides(s.perms)
}

// Send scripts one raw input event into the source stream.
func (s *Sim) Send(ev RawEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.raw <- ev
}

// Run forwards scripted events to emit until ctx is cancelled.
func (s *Sim) Run(ctx context.Context, emit func(RawEvent)) error {
	if !s.Probe().AllGranted() {
		return ErrPermissionDenied
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.raw:
			emit(ev)
		}
	}
}

// SetFrontmost sets the app and window title the Screen methods report.
func (s *Sim) SetFrontmost(name string, pid int, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frontName, s.frontPID, s.frontTitle = name, pid, title
}

func (s *Sim) Frontmost() (AppInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frontName == "" {
		return AppInfo{}, fmt.Errorf("no frontmost app configured")
	}
	return AppInfo{Name: s.frontName, PID: s.frontPID}, nil
}

func (s *Sim) WindowTitle(pid int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pid != s.frontPID {
		return "", fmt.Errorf("unknown pid %d", pid)
	}
	return s.frontTitle, nil
}

// SetClipboard seeds the pasteboard content.
func (s *Sim) SetClipboard(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clipboard = text
}

func (s *Sim) ReadClipboard() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clipboard, nil
}

func (s *Sim) WriteClipboard(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InjectErr != nil {
		return s.InjectErr
	}
	s.clipboard = text
	s.injected = append(s.injected, Injection{Op: "clipboard", Text: text})
	return nil
}

// SetTree registers the accessibility tree served for an app name.
func (s *Sim) SetTree(appName string, root *uitree.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[appName] = root
}

func (s *Sim) RunningApps() ([]AppInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.trees))
	for name := range s.trees {
		names = append(names, name)
	}
	sort.Strings(names)
	apps := make([]AppInfo, 0, len(names))
	for i, name := range names {
		apps = append(apps, AppInfo{Name: name, PID: 1000 + i})
	}
	return apps, nil
}

func (s *Sim) ActivateApp(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trees[name]; !ok {
		return fmt.Errorf("app %q: %w", name, ErrAppNotRunning)
	}
	s.frontName = name
	return nil
}

func (s *Sim) ElementTree(appName string, maxDepth int) (*uitree.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, ok := s.trees[appName]
	if !ok {
		return nil, fmt.Errorf("app %q: %w", appName, ErrAppNotRunning)
	}
	return root.Prune(maxDepth), nil
}

func (s *Sim) record(in Injection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InjectErr != nil {
		return s.InjectErr
	}
	s.injected = append(s.injected, in)
	return nil
}

func (s *Sim) MoveTo(x, y int) error {
	return s.record(Injection{Op: "move", X: x, Y: y})
}

func (s *Sim) Click(x, y, button, clicks int) error {
	return s.record(Injection{Op: "click", X: x, Y: y, Button: button, Clicks: clicks})
}

func (s *Sim) Scroll(x, y, dx, dy int) error {
	return s.record(Injection{Op: "scroll", X: x, Y: y, DX: dx, DY: dy})
}

func (s *Sim) KeyPress(keycode int, mods uint8) error {
	return s.record(Injection{Op: "key", Keycode: keycode, Mods: mods})
}

// Injected returns a copy of all recorded injections.
func (s *Sim) Injected() []Injection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Injection, len(s.injected))
	copy(out, s.injected)
	return out
}
