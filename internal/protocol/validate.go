package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeRecordingStart:   true,
	TypeRecordingStop:    true,
	TypeWorkflowsRequest: true,
	TypeWorkflowDelete:   true,
	TypeReplayStart:      true,
	TypeReplayCancel:     true,
	TypeRequestApps:      true,
	TypeRequestTree:      true,
	TypeActivate:         true,
	TypeClick:            true,
	TypeTypeText:         true,
	TypeScrape:           true,
}

// payloadlessTypes need no payload at all.
var payloadlessTypes = map[string]bool{
	TypeRecordingStop:    true,
	TypeWorkflowsRequest: true,
	TypeReplayCancel:     true,
	TypeRequestApps:      true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if payloadlessTypes[msg.Type] {
		return &msg, nil
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	// Validate required payload fields per type.
	switch msg.Type {
	case TypeRecordingStart:
		var p RecordingStartPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("missing required field 'name' in %s payload", msg.Type)
		}

	case TypeWorkflowDelete:
		var p WorkflowDeletePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.File == "" {
			return nil, fmt.Errorf("missing required field 'file' in %s payload", msg.Type)
		}

	case TypeReplayStart:
		var p ReplayStartPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.File == "" {
			return nil, fmt.Errorf("missing required field 'file' in %s payload", msg.Type)
		}
		if p.Speed < 0 {
			return nil, fmt.Errorf("field 'speed' must not be negative in %s payload", msg.Type)
		}

	case TypeRequestTree, TypeActivate, TypeScrape:
		var p AppPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.App == "" {
			return nil, fmt.Errorf("missing required field 'app' in %s payload", msg.Type)
		}

	case TypeClick:
		var p ClickPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.App == "" || p.Selector == "" {
			return nil, fmt.Errorf("missing required field 'app' or 'selector' in %s payload", msg.Type)
		}

	case TypeTypeText:
		var p TypeTextPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.App == "" || p.Selector == "" {
			return nil, fmt.Errorf("missing required field 'app' or 'selector' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
