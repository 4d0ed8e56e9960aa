package event

import (
	"encoding/json"
	"fmt"
)

// Wire format: one compact JSON object per event. "e" selects the variant,
// "t" is integer milliseconds since recording start. Field names follow the
// short codes documented on each payload struct.

type wireClick struct {
	T int64 `json:"t"`
	E Kind  `json:"e"`
	X int   `json:"x"`
	Y int   `json:"y"`
	B int   `json:"b"`
	N int   `json:"n"`
	M uint8 `json:"m"`
}

type wireMove struct {
	T int64 `json:"t"`
	E Kind  `json:"e"`
	X int   `json:"x"`
	Y int   `json:"y"`
}

type wireScroll struct {
	T  int64 `json:"t"`
	E  Kind  `json:"e"`
	X  int   `json:"x"`
	Y  int   `json:"y"`
	DX int   `json:"dx"`
	DY int   `json:"dy"`
}

type wireKey struct {
	T int64 `json:"t"`
	E Kind  `json:"e"`
	K int   `json:"k"`
	M uint8 `json:"m"`
}

type wireText struct {
	T int64  `json:"t"`
	E Kind   `json:"e"`
	S string `json:"s"`
}

type wireApp struct {
	T int64  `json:"t"`
	E Kind   `json:"e"`
	N string `json:"n"`
	P int    `json:"p"`
}

type wireWindow struct {
	T int64   `json:"t"`
	E Kind    `json:"e"`
	A string  `json:"a"`
	W *string `json:"w,omitempty"`
}

type wireClipboard struct {
	T int64  `json:"t"`
	E Kind   `json:"e"`
	O string `json:"o"`
	S string `json:"s"`
}

type wireContext struct {
	T int64   `json:"t"`
	E Kind    `json:"e"`
	R string  `json:"r"`
	N *string `json:"n,omitempty"`
	V *string `json:"v,omitempty"`
}

// MarshalJSON encodes the event in the compact line format.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindClick:
		return json.Marshal(wireClick{e.T, e.Kind, e.X, e.Y, e.Button, e.Clicks, e.Modifiers})
	case KindMove:
		return json.Marshal(wireMove{e.T, e.Kind, e.X, e.Y})
	case KindScroll:
		return json.Marshal(wireScroll{e.T, e.Kind, e.X, e.Y, e.DX, e.DY})
	case KindKey:
		return json.Marshal(wireKey{e.T, e.Kind, e.Keycode, e.Modifiers})
	case KindText:
		return json.Marshal(wireText{e.T, e.Kind, e.Text})
	case KindAppSwitch:
		return json.Marshal(wireApp{e.T, e.Kind, e.Name, e.PID})
	case KindWindowFocus:
		return json.Marshal(wireWindow{e.T, e.Kind, e.App, optional(e.Title)})
	case KindClipboard:
		return json.Marshal(wireClipboard{e.T, e.Kind, e.Op, e.Text})
	case KindContext:
		return json.Marshal(wireContext{e.T, e.Kind, e.Role, optional(e.Name), optional(e.Text)})
	default:
		return nil, fmt.Errorf("marshal event: unknown kind %q", e.Kind)
	}
}

// UnmarshalJSON decodes one event line.
func (e *Event) UnmarshalJSON(data []byte) error {
	var probe struct {
		E Kind `json:"e"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	switch probe.E {
	case KindClick:
		var w wireClick
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{T: w.T, Kind: w.E, X: w.X, Y: w.Y, Button: w.B, Clicks: w.N, Modifiers: w.M}
	case KindMove:
		var w wireMove
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{T: w.T, Kind: w.E, X: w.X, Y: w.Y}
	case KindScroll:
		var w wireScroll
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{T: w.T, Kind: w.E, X: w.X, Y: w.Y, DX: w.DX, DY: w.DY}
	case KindKey:
		var w wireKey
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{T: w.T, Kind: w.E, Keycode: w.K, Modifiers: w.M}
	case KindText:
		var w wireText
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{T: w.T, Kind: w.E, Text: w.S}
	case KindAppSwitch:
		var w wireApp
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{T: w.T, Kind: w.E, Name: w.N, PID: w.P}
	case KindWindowFocus:
		var w wireWindow
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{T: w.T, Kind: w.E, App: w.A, Title: deref(w.W)}
	case KindClipboard:
		var w wireClipboard
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{T: w.T, Kind: w.E, Op: w.O, Text: w.S}
	case KindContext:
		var w wireContext
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{T: w.T, Kind: w.E, Role: w.R, Name: deref(w.N), Text: deref(w.V)}
	default:
		return fmt.Errorf("unmarshal event: unknown kind %q", probe.E)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
