//go:build darwin

package platform

/*
#cgo darwin CFLAGS: -x objective-c -fmodules -fobjc-arc
#cgo darwin LDFLAGS: -framework CoreGraphics -framework ApplicationServices -framework Cocoa
#include <ApplicationServices/ApplicationServices.h>
#include <Cocoa/Cocoa.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdint.h>

static Boolean dtAXTrusted(void) {
	return AXIsProcessTrusted();
}

static Boolean dtListenAccess(void) {
	return CGPreflightListenEventAccess();
}

extern CGEventRef dtHandleTapEvent(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *userInfo);

static CGEventMask dtCaptureMask(void) {
	return CGEventMaskBit(kCGEventLeftMouseDown) |
	       CGEventMaskBit(kCGEventRightMouseDown) |
	       CGEventMaskBit(kCGEventOtherMouseDown) |
	       CGEventMaskBit(kCGEventMouseMoved) |
	       CGEventMaskBit(kCGEventLeftMouseDragged) |
	       CGEventMaskBit(kCGEventRightMouseDragged) |
	       CGEventMaskBit(kCGEventScrollWheel) |
	       CGEventMaskBit(kCGEventKeyDown);
}

static CFRunLoopSourceRef dtCreateTap(uintptr_t handle, CFMachPortRef *tapOut) {
	CFMachPortRef tap = CGEventTapCreate(kCGSessionEventTap,
	                                     kCGTailAppendEventTap,
	                                     kCGEventTapOptionListenOnly,
	                                     dtCaptureMask(),
	                                     dtHandleTapEvent,
	                                     (void *)handle);
	if (tap == NULL) {
		return NULL;
	}
	CGEventTapEnable(tap, true);
	CFRunLoopSourceRef source = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, tap, 0);
	*tapOut = tap;
	return source;
}

static double dtEventX(CGEventRef e) { return CGEventGetLocation(e).x; }
static double dtEventY(CGEventRef e) { return CGEventGetLocation(e).y; }
static int64_t dtEventFlags(CGEventRef e) { return (int64_t)CGEventGetFlags(e); }
static int64_t dtEventKeycode(CGEventRef e) {
	return CGEventGetIntegerValueField(e, kCGKeyboardEventKeycode);
}
static int64_t dtEventClicks(CGEventRef e) {
	return CGEventGetIntegerValueField(e, kCGMouseEventClickState);
}
static int64_t dtEventScrollDY(CGEventRef e) {
	return CGEventGetIntegerValueField(e, kCGScrollWheelEventDeltaAxis1);
}
static int64_t dtEventScrollDX(CGEventRef e) {
	return CGEventGetIntegerValueField(e, kCGScrollWheelEventDeltaAxis2);
}

static void dtPostMouse(CGEventType type, double x, double y, int button) {
	CGMouseButton btn = button == 1 ? kCGMouseButtonRight
	                  : button == 2 ? kCGMouseButtonCenter
	                  : kCGMouseButtonLeft;
	CGEventRef e = CGEventCreateMouseEvent(NULL, type, CGPointMake(x, y), btn);
	if (e != NULL) {
		CGEventPost(kCGHIDEventTap, e);
		CFRelease(e);
	}
}

static void dtPostScroll(int dx, int dy) {
	CGEventRef e = CGEventCreateScrollWheelEvent(NULL, kCGScrollEventUnitLine, 2, dy, dx);
	if (e != NULL) {
		CGEventPost(kCGHIDEventTap, e);
		CFRelease(e);
	}
}

static void dtPostKey(uint16_t keycode, bool down, uint64_t flags) {
	CGEventRef e = CGEventCreateKeyboardEvent(NULL, (CGKeyCode)keycode, down);
	if (e != NULL) {
		CGEventSetFlags(e, (CGEventFlags)flags);
		CGEventPost(kCGHIDEventTap, e);
		CFRelease(e);
	}
}

static CFStringRef dtFrontAppName(void) {
	NSRunningApplication *app = [[NSWorkspace sharedWorkspace] frontmostApplication];
	if (app == nil) {
		return NULL;
	}
	NSString *name = app.localizedName ?: @"";
	return (__bridge_retained CFStringRef)name;
}

static int dtFrontAppPID(void) {
	NSRunningApplication *app = [[NSWorkspace sharedWorkspace] frontmostApplication];
	if (app == nil) {
		return -1;
	}
	return (int)app.processIdentifier;
}

static CFStringRef dtRunningAppList(void) {
	NSMutableString *out = [NSMutableString string];
	for (NSRunningApplication *app in [[NSWorkspace sharedWorkspace] runningApplications]) {
		if (app.activationPolicy != NSApplicationActivationPolicyRegular) {
			continue;
		}
		NSString *name = app.localizedName ?: @"";
		[out appendFormat:@"%@\t%d\n", name, (int)app.processIdentifier];
	}
	return (__bridge_retained CFStringRef)out;
}

static CFStringRef dtCopyWindowTitle(int pid) {
	AXUIElementRef app = AXUIElementCreateApplication((pid_t)pid);
	if (app == NULL) {
		return NULL;
	}
	CFTypeRef window = NULL;
	CFStringRef title = NULL;
	if (AXUIElementCopyAttributeValue(app, kAXFocusedWindowAttribute, &window) == kAXErrorSuccess && window != NULL) {
		AXUIElementCopyAttributeValue((AXUIElementRef)window, kAXTitleAttribute, (CFTypeRef *)&title);
		CFRelease(window);
	}
	CFRelease(app);
	return title;
}

static AXUIElementRef dtAppElement(int pid) {
	return AXUIElementCreateApplication((pid_t)pid);
}

static CFStringRef dtCopyStringAttr(AXUIElementRef elem, CFStringRef attr) {
	CFTypeRef value = NULL;
	if (AXUIElementCopyAttributeValue(elem, attr, &value) != kAXErrorSuccess || value == NULL) {
		return NULL;
	}
	if (CFGetTypeID(value) != CFStringGetTypeID()) {
		CFRelease(value);
		return NULL;
	}
	return (CFStringRef)value;
}

static CFArrayRef dtCopyChildren(AXUIElementRef elem) {
	CFTypeRef value = NULL;
	if (AXUIElementCopyAttributeValue(elem, kAXChildrenAttribute, &value) != kAXErrorSuccess || value == NULL) {
		return NULL;
	}
	if (CFGetTypeID(value) != CFArrayGetTypeID()) {
		CFRelease(value);
		return NULL;
	}
	return (CFArrayRef)value;
}

static AXUIElementRef dtChildAt(CFArrayRef children, long i) {
	return (AXUIElementRef)CFArrayGetValueAtIndex(children, i);
}

static bool dtElementFrame(AXUIElementRef elem, double *x, double *y, double *w, double *h) {
	CFTypeRef posValue = NULL, sizeValue = NULL;
	CGPoint pos; CGSize size;
	bool ok = false;
	if (AXUIElementCopyAttributeValue(elem, kAXPositionAttribute, &posValue) == kAXErrorSuccess &&
	    AXUIElementCopyAttributeValue(elem, kAXSizeAttribute, &sizeValue) == kAXErrorSuccess &&
	    AXValueGetValue((AXValueRef)posValue, kAXValueTypeCGPoint, &pos) &&
	    AXValueGetValue((AXValueRef)sizeValue, kAXValueTypeCGSize, &size)) {
		*x = pos.x; *y = pos.y; *w = size.width; *h = size.height;
		ok = true;
	}
	if (posValue != NULL) CFRelease(posValue);
	if (sizeValue != NULL) CFRelease(sizeValue);
	return ok;
}
*/
import "C"

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"runtime/cgo"
	"strconv"
	"strings"
	"time"
	"unsafe"

	"desktrace/internal/uitree"
)

// maxChildren bounds fan-out per node so pathological trees stay cheap.
const maxChildren = 200

// New returns the Quartz/AX-backed driver.
func New() Driver { return &darwinDriver{} }

type darwinDriver struct{}

func (d *darwinDriver) Probe() Permissions {
	probed := Permissions{
		Accessibility:   C.dtAXTrusted() != C.Boolean(0),
		InputMonitoring: C.dtListenAccess() != C.Boolean(0),
	}
	return probeOverrides(probed)
}

type tapStream struct {
	emit  func(RawEvent)
	start time.Time
}

func (d *darwinDriver) Run(ctx context.Context, emit func(RawEvent)) error {
	if !d.Probe().AllGranted() {
		return ErrPermissionDenied
	}

	// The tap must live on the thread that services its run loop.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stream := &tapStream{emit: emit, start: time.Now()}
	handle := cgo.NewHandle(stream)
	defer handle.Delete()

	var tap C.CFMachPortRef
	source := C.dtCreateTap(C.uintptr_t(handle), &tap)
	if source == 0 {
		return fmt.Errorf("create event tap: %w", ErrPermissionDenied)
	}
	defer C.CFRelease(C.CFTypeRef(source))
	defer C.CFRelease(C.CFTypeRef(tap))

	loop := C.CFRunLoopGetCurrent()
	C.CFRunLoopAddSource(loop, source, C.kCFRunLoopCommonModes)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			C.CFRunLoopStop(loop)
		case <-done:
		}
	}()

	C.CFRunLoopRun()
	close(done)
	return ctx.Err()
}

//export dtHandleTapEvent
func dtHandleTapEvent(_ C.CGEventTapProxy, eventType C.CGEventType, cgEvent C.CGEventRef, userInfo unsafe.Pointer) C.CGEventRef {
	stream, ok := cgo.Handle(uintptr(userInfo)).Value().(*tapStream)
	if !ok {
		return cgEvent
	}

	raw := RawEvent{
		Time:      time.Now(),
		X:         int(C.dtEventX(cgEvent)),
		Y:         int(C.dtEventY(cgEvent)),
		Modifiers: modifiersFromFlags(uint64(C.dtEventFlags(cgEvent))),
	}

	switch eventType {
	case C.kCGEventLeftMouseDown, C.kCGEventRightMouseDown, C.kCGEventOtherMouseDown:
		raw.Kind = RawClick
		raw.Clicks = int(C.dtEventClicks(cgEvent))
		switch eventType {
		case C.kCGEventRightMouseDown:
			raw.Button = 1
		case C.kCGEventOtherMouseDown:
			raw.Button = 2
		}
	case C.kCGEventMouseMoved, C.kCGEventLeftMouseDragged, C.kCGEventRightMouseDragged:
		raw.Kind = RawMove
	case C.kCGEventScrollWheel:
		raw.Kind = RawScroll
		raw.DY = int(C.dtEventScrollDY(cgEvent))
		raw.DX = int(C.dtEventScrollDX(cgEvent))
	case C.kCGEventKeyDown:
		raw.Kind = RawKeyDown
		raw.Keycode = int(C.dtEventKeycode(cgEvent))
	default:
		return cgEvent
	}

	// Listen-only tap: never alter or suppress the original event.
	stream.emit(raw)
	return cgEvent
}

// Quartz flag bits → packed modifier byte.
func modifiersFromFlags(flags uint64) uint8 {
	var m uint8
	if flags&0x20000 != 0 {
		m |= 1 << 0 // shift
	}
	if flags&0x40000 != 0 {
		m |= 1 << 1 // ctrl
	}
	if flags&0x80000 != 0 {
		m |= 1 << 2 // option
	}
	if flags&0x100000 != 0 {
		m |= 1 << 3 // command
	}
	if flags&0x10000 != 0 {
		m |= 1 << 4 // capslock
	}
	if flags&0x800000 != 0 {
		m |= 1 << 5 // fn
	}
	return m
}

func flagsFromModifiers(mods uint8) uint64 {
	var flags uint64
	if mods&(1<<0) != 0 {
		flags |= 0x20000
	}
	if mods&(1<<1) != 0 {
		flags |= 0x40000
	}
	if mods&(1<<2) != 0 {
		flags |= 0x80000
	}
	if mods&(1<<3) != 0 {
		flags |= 0x100000
	}
	return flags
}

func (d *darwinDriver) MoveTo(x, y int) error {
	C.dtPostMouse(C.kCGEventMouseMoved, C.double(x), C.double(y), 0)
	return nil
}

func (d *darwinDriver) Click(x, y, button, clicks int) error {
	var down, up C.CGEventType
	switch button {
	case 1:
		down, up = C.kCGEventRightMouseDown, C.kCGEventRightMouseUp
	case 2:
		down, up = C.kCGEventOtherMouseDown, C.kCGEventOtherMouseUp
	default:
		down, up = C.kCGEventLeftMouseDown, C.kCGEventLeftMouseUp
	}
	if clicks < 1 {
		clicks = 1
	}
	for i := 0; i < clicks; i++ {
		C.dtPostMouse(down, C.double(x), C.double(y), C.int(button))
		time.Sleep(10 * time.Millisecond)
		C.dtPostMouse(up, C.double(x), C.double(y), C.int(button))
		if clicks > 1 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	return nil
}

func (d *darwinDriver) Scroll(x, y, dx, dy int) error {
	if err := d.MoveTo(x, y); err != nil {
		return err
	}
	C.dtPostScroll(C.int(dx), C.int(dy))
	return nil
}

func (d *darwinDriver) KeyPress(keycode int, mods uint8) error {
	flags := flagsFromModifiers(mods)
	C.dtPostKey(C.uint16_t(keycode), true, C.uint64_t(flags))
	time.Sleep(10 * time.Millisecond)
	C.dtPostKey(C.uint16_t(keycode), false, C.uint64_t(flags))
	return nil
}

func (d *darwinDriver) Frontmost() (AppInfo, error) {
	pid := int(C.dtFrontAppPID())
	if pid < 0 {
		return AppInfo{}, fmt.Errorf("no frontmost application")
	}
	name := cfString(C.dtFrontAppName())
	return AppInfo{Name: name, PID: pid}, nil
}

func (d *darwinDriver) WindowTitle(pid int) (string, error) {
	return cfString(C.dtCopyWindowTitle(C.int(pid))), nil
}

func (d *darwinDriver) ReadClipboard() (string, error) {
	out, err := exec.Command("pbpaste").Output()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return string(out), nil
}

func (d *darwinDriver) WriteClipboard(text string) error {
	cmd := exec.Command("pbcopy")
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

func (d *darwinDriver) RunningApps() ([]AppInfo, error) {
	listing := cfString(C.dtRunningAppList())
	var apps []AppInfo
	for _, line := range strings.Split(listing, "\n") {
		name, pidStr, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}
		apps = append(apps, AppInfo{Name: name, PID: pid})
	}
	return apps, nil
}

func (d *darwinDriver) ActivateApp(name string) error {
	if err := exec.Command("open", "-a", name).Run(); err != nil {
		return fmt.Errorf("activate %q: %w", name, err)
	}
	return nil
}

func (d *darwinDriver) ElementTree(appName string, maxDepth int) (*uitree.Node, error) {
	if !d.Probe().Accessibility {
		return nil, ErrPermissionDenied
	}
	apps, err := d.RunningApps()
	if err != nil {
		return nil, err
	}
	pid := -1
	for _, app := range apps {
		if strings.EqualFold(app.Name, appName) {
			pid = app.PID
			break
		}
	}
	if pid < 0 {
		return nil, fmt.Errorf("app %q: %w", appName, ErrAppNotRunning)
	}

	elem := C.dtAppElement(C.int(pid))
	if elem == 0 {
		return nil, fmt.Errorf("no accessibility element for pid %d", pid)
	}
	defer C.CFRelease(C.CFTypeRef(elem))

	return buildNode(elem, 0, maxDepth), nil
}

func buildNode(elem C.AXUIElementRef, depth, maxDepth int) *uitree.Node {
	node := &uitree.Node{
		Role: cfString(C.dtCopyStringAttr(elem, C.kAXRoleAttribute)),
		Name: cfString(C.dtCopyStringAttr(elem, C.kAXTitleAttribute)),
	}
	if node.Name == "" {
		node.Name = cfString(C.dtCopyStringAttr(elem, C.kAXDescriptionAttribute))
	}
	node.Value = cfString(C.dtCopyStringAttr(elem, C.kAXValueAttribute))

	var x, y, w, h C.double
	if C.dtElementFrame(elem, &x, &y, &w, &h) {
		node.Frame = uitree.Frame{X: float64(x), Y: float64(y), Width: float64(w), Height: float64(h)}
	}

	if depth >= maxDepth && maxDepth >= 0 {
		return node
	}

	children := C.dtCopyChildren(elem)
	if children == 0 {
		return node
	}
	defer C.CFRelease(C.CFTypeRef(children))

	count := int(C.CFArrayGetCount(children))
	if count > maxChildren {
		count = maxChildren
	}
	for i := 0; i < count; i++ {
		child := C.dtChildAt(children, C.long(i))
		node.Children = append(node.Children, buildNode(child, depth+1, maxDepth))
	}
	return node
}

func cfString(str C.CFStringRef) string {
	if str == 0 {
		return ""
	}
	defer C.CFRelease(C.CFTypeRef(str))
	length := C.CFStringGetLength(str)
	if length == 0 {
		return ""
	}
	bufSize := C.CFIndex(1 + 4*length)
	buf := make([]byte, int(bufSize))
	if C.CFStringGetCString(str, (*C.char)(unsafe.Pointer(&buf[0])), bufSize, C.kCFStringEncodingUTF8) == C.Boolean(0) {
		return ""
	}
	return C.GoString((*C.char)(unsafe.Pointer(&buf[0])))
}
