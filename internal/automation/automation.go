// Package automation drives applications through their accessibility
// trees: locating elements by selector and acting on them with synthetic
// input.
package automation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"desktrace/internal/event"
	"desktrace/internal/platform"
	"desktrace/internal/uitree"
)

// AppNotFoundError is returned when no running application matches a name.
type AppNotFoundError struct {
	Name string
}

func (e *AppNotFoundError) Error() string {
	return fmt.Sprintf("application %q not running", e.Name)
}

// ElementNotFoundError is returned when a selector matches nothing in an
// application's tree.
type ElementNotFoundError struct {
	App      string
	Selector string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("no element matching %q in %q", e.Selector, e.App)
}

// ActionResult describes the element an action landed on and where.
type ActionResult struct {
	App      string `json:"app"`
	Selector string `json:"selector"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value,omitempty"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// Sink receives the element context of each performed action, letting an
// active recording annotate itself with what automation touched.
type Sink func(role, name, value string)

// Engine performs selector-driven UI actions through a platform driver.
type Engine struct {
	driver platform.Driver

	mu   sync.Mutex
	sink Sink
}

// NewEngine builds an automation engine over the given driver.
func NewEngine(driver platform.Driver) *Engine {
	return &Engine{driver: driver}
}

// SetSink installs or clears the action context sink.
func (e *Engine) SetSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
}

func (e *Engine) notify(n *uitree.Node) {
	e.mu.Lock()
	s := e.sink
	e.mu.Unlock()
	if s != nil {
		s(n.Role, n.Name, n.Value)
	}
}

// Apps lists the running applications.
func (e *Engine) Apps() ([]platform.AppInfo, error) {
	return e.driver.RunningApps()
}

// Activate brings an application to the front. The name is matched
// case-insensitively against the running applications.
func (e *Engine) Activate(name string) error {
	apps, err := e.driver.RunningApps()
	if err != nil {
		return fmt.Errorf("list applications: %w", err)
	}
	for _, app := range apps {
		if strings.EqualFold(app.Name, name) {
			return e.driver.ActivateApp(app.Name)
		}
	}
	return &AppNotFoundError{Name: name}
}

// Tree returns an application's accessibility tree, pruned to maxDepth
// levels (-1 for the full tree).
func (e *Engine) Tree(app string, maxDepth int) (*uitree.Node, error) {
	tree, err := e.driver.ElementTree(app, maxDepth)
	if err != nil {
		if errors.Is(err, platform.ErrAppNotRunning) {
			return nil, &AppNotFoundError{Name: app}
		}
		// Permission and driver failures keep their cause so callers can
		// distinguish them from an unknown app.
		return nil, fmt.Errorf("element tree for %q: %w", app, err)
	}
	return tree, nil
}

// Find returns every element matching the selector, in pre-order.
func (e *Engine) Find(app, selector string) ([]*uitree.Node, error) {
	sel, err := uitree.Parse(selector)
	if err != nil {
		return nil, err
	}
	tree, err := e.Tree(app, -1)
	if err != nil {
		return nil, err
	}
	return tree.FindAll(sel), nil
}

// First returns the first matching element in pre-order.
func (e *Engine) First(app, selector string) (*uitree.Node, error) {
	sel, err := uitree.Parse(selector)
	if err != nil {
		return nil, err
	}
	tree, err := e.Tree(app, -1)
	if err != nil {
		return nil, err
	}
	node := tree.Find(sel)
	if node == nil {
		return nil, &ElementNotFoundError{App: app, Selector: selector}
	}
	return node, nil
}

// Click clicks the center of the first element matching the selector.
func (e *Engine) Click(app, selector string) (ActionResult, error) {
	node, err := e.First(app, selector)
	if err != nil {
		return ActionResult{}, err
	}
	x, y := node.Frame.Center()
	if err := e.driver.MoveTo(x, y); err != nil {
		return ActionResult{}, fmt.Errorf("move to element: %w", err)
	}
	if err := e.driver.Click(x, y, 0, 1); err != nil {
		return ActionResult{}, fmt.Errorf("click element: %w", err)
	}
	e.notify(node)
	return result(app, selector, node, x, y), nil
}

// Type clicks the element to focus it, then types the text.
func (e *Engine) Type(app, selector, text string) (ActionResult, error) {
	res, err := e.Click(app, selector)
	if err != nil {
		return ActionResult{}, err
	}
	for _, ch := range text {
		keycode, shift, ok := event.CharToKeycode(ch)
		if !ok {
			continue
		}
		var mods uint8
		if shift {
			mods = event.ModShift
		}
		if err := e.driver.KeyPress(keycode, mods); err != nil {
			return ActionResult{}, fmt.Errorf("type into element: %w", err)
		}
	}
	return res, nil
}

// Scroll scrolls at the center of the first element matching the selector.
func (e *Engine) Scroll(app, selector string, dx, dy int) (ActionResult, error) {
	node, err := e.First(app, selector)
	if err != nil {
		return ActionResult{}, err
	}
	x, y := node.Frame.Center()
	if err := e.driver.Scroll(x, y, dx, dy); err != nil {
		return ActionResult{}, fmt.Errorf("scroll element: %w", err)
	}
	e.notify(node)
	return result(app, selector, node, x, y), nil
}

// PressKey posts a single key press to the frontmost application.
func (e *Engine) PressKey(keycode int, mods uint8) error {
	return e.driver.KeyPress(keycode, mods)
}

// Shortcut presses cmd plus a character, e.g. Shortcut('s') to save.
func (e *Engine) Shortcut(ch rune) error {
	keycode, shift, ok := event.CharToKeycode(ch)
	if !ok {
		return fmt.Errorf("no keycode for %q", ch)
	}
	mods := event.ModCmd
	if shift {
		mods |= event.ModShift
	}
	return e.driver.KeyPress(keycode, mods)
}

// Scrape flattens an application's visible text into one string. An empty
// separator defaults to " | ".
func (e *Engine) Scrape(app, sep string) (string, error) {
	if sep == "" {
		sep = " | "
	}
	tree, err := e.Tree(app, -1)
	if err != nil {
		return "", err
	}
	return tree.Scrape(sep), nil
}

func result(app, selector string, n *uitree.Node, x, y int) ActionResult {
	return ActionResult{
		App:      app,
		Selector: selector,
		Role:     n.Role,
		Name:     n.Name,
		Value:    n.Value,
		X:        x,
		Y:        y,
	}
}
