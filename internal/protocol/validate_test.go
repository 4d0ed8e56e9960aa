package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	payload := RecordingUpdatePayload{
		ID:    "test-id",
		Name:  "demo",
		State: "recording",
	}

	msg, err := NewMessage(TypeRecordingUpdate, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != TypeRecordingUpdate {
		t.Errorf("expected type %s, got %s", TypeRecordingUpdate, msg.Type)
	}

	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p RecordingUpdatePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ID != "test-id" {
		t.Errorf("expected ID 'test-id', got %s", p.ID)
	}
}

func TestValidateClientMessage_ValidRecordingStart(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeRecordingStart,
		"payload":   map[string]interface{}{"name": "checkout flow"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	result, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if result.Type != TypeRecordingStart {
		t.Errorf("expected type %s, got %s", TypeRecordingStart, result.Type)
	}
}

func TestValidateClientMessage_ValidReplayStart(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeReplayStart,
		"payload":   map[string]interface{}{"file": "demo_20260101_120000.jsonl", "speed": 2.0},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
}

func TestValidateClientMessage_PayloadlessStop(t *testing.T) {
	data := []byte(`{"type":"recording.stop","timestamp":"2026-01-01T00:00:00.000Z"}`)

	_, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected stop without payload to validate, got %v", err)
	}
}

func TestValidateClientMessage_InvalidJSON(t *testing.T) {
	_, err := ValidateClientMessage([]byte("not json"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateClientMessage_MissingType(t *testing.T) {
	msg := map[string]interface{}{
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestValidateClientMessage_UnknownType(t *testing.T) {
	msg := map[string]interface{}{
		"type":      "unknown.action",
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestValidateClientMessage_MissingPayload(t *testing.T) {
	data := []byte(`{"type":"recording.start","timestamp":"2026-01-01T00:00:00.000Z"}`)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing payload")
	}
}

func TestValidateClientMessage_MissingName(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeRecordingStart,
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestValidateClientMessage_MissingSelector(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeClick,
		"payload":   map[string]interface{}{"app": "Shop"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing selector")
	}
}

func TestValidateClientMessage_NegativeSpeed(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeReplayStart,
		"payload":   map[string]interface{}{"file": "demo.jsonl", "speed": -1.0},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for negative speed")
	}
}

func TestValidateClientMessage_TreeRequestValid(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeRequestTree,
		"payload":   map[string]interface{}{"app": "Shop", "maxDepth": 3},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(ErrWorkflowNotFound, "workflow xyz not found")
	if err != nil {
		t.Fatalf("NewErrorMessage failed: %v", err)
	}
	if msg.Type != TypeError {
		t.Errorf("expected type %s, got %s", TypeError, msg.Type)
	}

	var p ErrorPayload
	json.Unmarshal(msg.Payload, &p)
	if p.Code != ErrWorkflowNotFound {
		t.Errorf("expected code %s, got %s", ErrWorkflowNotFound, p.Code)
	}
}
