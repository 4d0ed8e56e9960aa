package automation

import (
	"errors"
	"testing"

	"desktrace/internal/platform"
	"desktrace/internal/uitree"
)

func checkoutSim() *platform.Sim {
	sim := platform.NewSim()
	sim.SetTree("Shop", &uitree.Node{
		Role: "Window", Name: "Checkout",
		Frame: uitree.Frame{Width: 800, Height: 600},
		Children: []*uitree.Node{
			{Role: "TextField", Name: "Email", Frame: uitree.Frame{X: 100, Y: 100, Width: 200, Height: 30}},
			{Role: "StaticText", Name: "Order total", Value: "$42.00", Frame: uitree.Frame{X: 100, Y: 160, Width: 200, Height: 20}},
			{Role: "Button", Name: "Submit", Frame: uitree.Frame{X: 100, Y: 200, Width: 120, Height: 40}},
		},
	})
	return sim
}

func TestActivate(t *testing.T) {
	sim := checkoutSim()
	e := NewEngine(sim)

	if err := e.Activate("shop"); err != nil {
		t.Fatalf("case-insensitive activate: %v", err)
	}
	front, _ := sim.Frontmost()
	if front.Name != "Shop" {
		t.Errorf("frontmost = %q", front.Name)
	}

	var notFound *AppNotFoundError
	if err := e.Activate("Missing"); !errors.As(err, &notFound) {
		t.Errorf("expected AppNotFoundError, got %v", err)
	}
}

func TestFindAndFirst(t *testing.T) {
	e := NewEngine(checkoutSim())

	nodes, err := e.Find("Shop", "role:Button")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "Submit" {
		t.Errorf("unexpected find result: %+v", nodes)
	}

	node, err := e.First("Shop", "role:StaticText and name:total")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if node.Value != "$42.00" {
		t.Errorf("unexpected node: %+v", node)
	}

	var notFound *ElementNotFoundError
	if _, err := e.First("Shop", "role:Slider"); !errors.As(err, &notFound) {
		t.Fatalf("expected ElementNotFoundError, got %v", err)
	}
	if notFound.Selector != "role:Slider" {
		t.Errorf("error selector = %q", notFound.Selector)
	}

	if _, err := e.First("Shop", "bogus"); err == nil {
		t.Error("expected selector parse error")
	}
}

func TestClick_AimsAtCenter(t *testing.T) {
	sim := checkoutSim()
	e := NewEngine(sim)

	var gotRole, gotName string
	e.SetSink(func(role, name, value string) { gotRole, gotName = role, name })

	res, err := e.Click("Shop", "name:Submit")
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if res.X != 160 || res.Y != 220 {
		t.Errorf("click point = (%d, %d)", res.X, res.Y)
	}
	if res.Role != "Button" || res.Name != "Submit" {
		t.Errorf("unexpected result: %+v", res)
	}
	if gotRole != "Button" || gotName != "Submit" {
		t.Errorf("sink got role %q name %q", gotRole, gotName)
	}

	in := sim.Injected()
	if len(in) != 2 || in[0].Op != "move" || in[1].Op != "click" {
		t.Fatalf("unexpected injections: %+v", in)
	}
	if in[1].X != 160 || in[1].Y != 220 || in[1].Clicks != 1 {
		t.Errorf("click injection: %+v", in[1])
	}
}

func TestType_FocusesThenTypes(t *testing.T) {
	sim := checkoutSim()
	e := NewEngine(sim)

	if _, err := e.Type("Shop", "role:TextField", "Hi"); err != nil {
		t.Fatalf("type: %v", err)
	}

	in := sim.Injected()
	// move + click to focus, then H (shifted) and i.
	if len(in) != 4 {
		t.Fatalf("expected 4 injections, got %+v", in)
	}
	if in[2].Op != "key" || in[2].Keycode != 4 || in[2].Mods == 0 {
		t.Errorf("expected shifted h, got %+v", in[2])
	}
	if in[3].Op != "key" || in[3].Keycode != 34 || in[3].Mods != 0 {
		t.Errorf("expected plain i, got %+v", in[3])
	}
}

func TestShortcut(t *testing.T) {
	sim := checkoutSim()
	e := NewEngine(sim)

	if err := e.Shortcut('s'); err != nil {
		t.Fatalf("shortcut: %v", err)
	}
	in := sim.Injected()
	if len(in) != 1 || in[0].Keycode != 1 || in[0].Mods&8 == 0 {
		t.Errorf("expected cmd+s, got %+v", in)
	}
}

func TestScrape(t *testing.T) {
	e := NewEngine(checkoutSim())
	got, err := e.Scrape("Shop", "")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	want := "Checkout | Email | $42.00 | Submit"
	if got != want {
		t.Errorf("scrape = %q, want %q", got, want)
	}

	got, err = e.Scrape("Shop", "\n")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if got != "Checkout\nEmail\n$42.00\nSubmit" {
		t.Errorf("custom separator scrape = %q", got)
	}
}

func TestTree_UnknownApp(t *testing.T) {
	e := NewEngine(checkoutSim())
	var notFound *AppNotFoundError
	if _, err := e.Tree("Missing", -1); !errors.As(err, &notFound) {
		t.Errorf("expected AppNotFoundError, got %v", err)
	}
}

// deniedTreeDriver fails tree reads the way the OS does when the
// accessibility authorization is missing.
type deniedTreeDriver struct{ platform.Driver }

func (deniedTreeDriver) ElementTree(app string, maxDepth int) (*uitree.Node, error) {
	return nil, platform.ErrPermissionDenied
}

func TestTree_PermissionDeniedKeepsCause(t *testing.T) {
	e := NewEngine(deniedTreeDriver{checkoutSim()})

	_, err := e.Tree("Shop", -1)
	if !errors.Is(err, platform.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	var notFound *AppNotFoundError
	if errors.As(err, &notFound) {
		t.Errorf("permission failure misreported as unknown app: %v", err)
	}
}
