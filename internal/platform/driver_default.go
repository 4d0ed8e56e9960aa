//go:build !darwin

package platform

import (
	"context"

	"desktrace/internal/uitree"
)

// New returns the OS driver. On platforms without a capture backend the
// stub reports no permissions and fails every real hook with
// ErrUnsupported; use NewSim for tests.
func New() Driver { return stubDriver{} }

type stubDriver struct{}

func (stubDriver) Probe() Permissions {
	return probeOverrides(Permissions{})
}

func (stubDriver) Run(ctx context.Context, emit func(RawEvent)) error { return ErrUnsupported }

func (stubDriver) MoveTo(x, y int) error                  { return ErrUnsupported }
func (stubDriver) Click(x, y, button, clicks int) error   { return ErrUnsupported }
func (stubDriver) Scroll(x, y, dx, dy int) error          { return ErrUnsupported }
func (stubDriver) KeyPress(keycode int, mods uint8) error { return ErrUnsupported }

func (stubDriver) Frontmost() (AppInfo, error)      { return AppInfo{}, ErrUnsupported }
func (stubDriver) WindowTitle(pid int) (string, error) { return "", ErrUnsupported }

func (stubDriver) ReadClipboard() (string, error)    { return "", ErrUnsupported }
func (stubDriver) WriteClipboard(text string) error  { return ErrUnsupported }

func (stubDriver) RunningApps() ([]AppInfo, error) { return nil, ErrUnsupported }
func (stubDriver) ActivateApp(name string) error   { return ErrUnsupported }
func (stubDriver) ElementTree(appName string, maxDepth int) (*uitree.Node, error) {
	return nil, ErrUnsupported
}
