package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"desktrace/internal/event"
	"desktrace/internal/store"
	"desktrace/internal/uitree"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeRecordingUpdate  = "recording.update"
	TypeRecordingEvent   = "recording.event"
	TypeRecordingStopped = "recording.stopped"
	TypeWorkflowsUpdate  = "workflows.update"
	TypeReplayUpdate     = "replay.update"
	TypeAppsList         = "automation.apps"
	TypeTree             = "automation.tree"
	TypeActionResult     = "automation.result"
	TypeScrapeResult     = "automation.scrape"
	TypeError            = "error"
)

// Client → Server message types.
const (
	TypeRecordingStart   = "recording.start"
	TypeRecordingStop    = "recording.stop"
	TypeWorkflowsRequest = "workflows.request"
	TypeWorkflowDelete   = "workflow.delete"
	TypeReplayStart      = "replay.start"
	TypeReplayCancel     = "replay.cancel"
	TypeRequestApps      = "automation.requestApps"
	TypeRequestTree      = "automation.requestTree"
	TypeActivate         = "automation.activate"
	TypeClick            = "automation.click"
	TypeTypeText         = "automation.type"
	TypeScrape           = "automation.requestScrape"
)

// Error codes.
const (
	ErrRecordingActive   = "RECORDING_ACTIVE"
	ErrNoRecording       = "NO_RECORDING"
	ErrWorkflowNotFound  = "WORKFLOW_NOT_FOUND"
	ErrReplayActive      = "REPLAY_ACTIVE"
	ErrNoReplay          = "NO_REPLAY"
	ErrPermissionDenied  = "PERMISSION_DENIED"
	ErrAutomationFailed  = "AUTOMATION_FAILED"
	ErrInvalidMessage    = "INVALID_MESSAGE"
	ErrStorageFailed     = "STORAGE_FAILED"
)

// Server → Client payloads.

// RecordingUpdatePayload announces recording lifecycle transitions.
type RecordingUpdatePayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"` // "recording" | "stopped"
	Events int    `json:"events"`
}

// RecordingEventPayload streams one captured event to subscribers.
type RecordingEventPayload struct {
	RecordingID string      `json:"recordingId"`
	Event       event.Event `json:"event"`
}

// RecordingStoppedPayload reports the saved file of a finished recording.
type RecordingStoppedPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	File   string `json:"file"`
	Events int    `json:"events"`
}

// WorkflowsUpdatePayload carries the current workflow listing.
type WorkflowsUpdatePayload struct {
	Workflows []store.Entry `json:"workflows"`
}

// ReplayUpdatePayload reports replay progress and completion.
type ReplayUpdatePayload struct {
	File     string `json:"file"`
	State    string `json:"state"` // "running" | "done" | "cancelled" | "failed"
	Injected int    `json:"injected"`
	Skipped  int    `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

// AppsListPayload lists running applications.
type AppsListPayload struct {
	Apps []AppEntry `json:"apps"`
}

type AppEntry struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
}

// TreePayload carries an application's accessibility tree.
type TreePayload struct {
	App  string       `json:"app"`
	Tree *uitree.Node `json:"tree"`
}

// ActionResultPayload reports a performed automation action.
type ActionResultPayload struct {
	App      string `json:"app"`
	Action   string `json:"action"`
	Selector string `json:"selector,omitempty"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value,omitempty"`
	X        int    `json:"x,omitempty"`
	Y        int    `json:"y,omitempty"`
}

// ScrapeResultPayload carries an application's flattened visible text.
type ScrapeResultPayload struct {
	App  string `json:"app"`
	Text string `json:"text"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type RecordingStartPayload struct {
	Name string `json:"name"`
}

type WorkflowDeletePayload struct {
	File string `json:"file"`
}

type ReplayStartPayload struct {
	File  string  `json:"file"`
	Speed float64 `json:"speed"`
}

type AppPayload struct {
	App string `json:"app"`
}

type TreeRequestPayload struct {
	App      string `json:"app"`
	MaxDepth int    `json:"maxDepth"`
}

type ClickPayload struct {
	App      string `json:"app"`
	Selector string `json:"selector"`
}

type TypeTextPayload struct {
	App      string `json:"app"`
	Selector string `json:"selector"`
	Text     string `json:"text"`
}
