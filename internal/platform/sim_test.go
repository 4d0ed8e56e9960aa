package platform

import (
	"context"
	"testing"
	"time"

	"desktrace/internal/uitree"
)

func TestEnvPermissionOverride(t *testing.T) {
	old := lookupEnv
	defer func() { lookupEnv = old }()

	env := map[string]string{envAccessibility: "denied"}
	lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	sim := NewSim()
	perms := sim.Probe()
	if perms.Accessibility {
		t.Error("expected accessibility override to deny")
	}
	if !perms.InputMonitoring {
		t.Error("expected input monitoring untouched")
	}

	env[envAccessibility] = "granted"
	env[envInputMonitoring] = "true"
	if !sim.Probe().AllGranted() {
		t.Error("expected all granted after overrides")
	}
}

func TestSim_RunDeliversScriptedEvents(t *testing.T) {
	sim := NewSim()
	sim.Send(RawEvent{Kind: RawKeyDown, Keycode: 0})
	sim.Send(RawEvent{Kind: RawClick, X: 5, Y: 6, Clicks: 1})

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan RawEvent, 4)
	done := make(chan error, 1)
	go func() {
		done <- sim.Run(ctx, func(ev RawEvent) { got <- ev })
	}()

	first := <-got
	second := <-got
	if first.Kind != RawKeyDown || second.Kind != RawClick {
		t.Errorf("unexpected order: %v then %v", first.Kind, second.Kind)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestSim_RunRequiresPermissions(t *testing.T) {
	sim := NewSim()
	sim.SetPermissions(Permissions{})

	err := sim.Run(context.Background(), func(RawEvent) {})
	if err != ErrPermissionDenied {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSim_TreeAndApps(t *testing.T) {
	sim := NewSim()
	sim.SetTree("Notes", &uitree.Node{Role: "Window", Children: []*uitree.Node{
		{Role: "Button", Name: "New"},
	}})

	apps, err := sim.RunningApps()
	if err != nil || len(apps) != 1 || apps[0].Name != "Notes" {
		t.Fatalf("unexpected apps %v, err %v", apps, err)
	}

	tree, err := sim.ElementTree("Notes", -1)
	if err != nil || tree.Count() != 2 {
		t.Fatalf("unexpected tree %v, err %v", tree, err)
	}

	if _, err := sim.ElementTree("Missing", -1); err == nil {
		t.Error("expected error for unknown app")
	}

	if err := sim.ActivateApp("Notes"); err != nil {
		t.Errorf("activate: %v", err)
	}
	front, err := sim.Frontmost()
	if err != nil || front.Name != "Notes" {
		t.Errorf("expected Notes frontmost, got %v err %v", front, err)
	}
}

func TestSim_RecordsInjections(t *testing.T) {
	sim := NewSim()
	sim.MoveTo(1, 2)
	sim.Click(3, 4, 0, 1)
	sim.KeyPress(36, 0)
	sim.WriteClipboard("copied")

	in := sim.Injected()
	if len(in) != 4 {
		t.Fatalf("expected 4 injections, got %d", len(in))
	}
	if in[0].Op != "move" || in[1].Op != "click" || in[2].Op != "key" || in[3].Op != "clipboard" {
		t.Errorf("unexpected ops: %+v", in)
	}
	if text, _ := sim.ReadClipboard(); text != "copied" {
		t.Errorf("expected clipboard write-through, got %q", text)
	}
}
