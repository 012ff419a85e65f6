package models

import (
	"encoding/json"
	"time"
)

// ActionPayload is the opaque descriptor of a user action replayed against the backend.
type ActionPayload struct {
	Method string          `json:"method"`
	Target string          `json:"target"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// QueuedAction represents a pending action held by the offline queue.
type QueuedAction struct {
	ID         string        `json:"id"`
	Payload    ActionPayload `json:"payload"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	Attempts   int           `json:"attempts"`
	LastError  string        `json:"last_error,omitempty"`
}

// SyncState is a point-in-time view of the offline queue.
type SyncState struct {
	IsOnline     bool           `json:"is_online"`
	IsProcessing bool           `json:"is_processing"`
	Queue        []QueuedAction `json:"queue"`
}

// CloneActions returns an independent copy of the slice.
func CloneActions(actions []QueuedAction) []QueuedAction {
	if len(actions) == 0 {
		return []QueuedAction{}
	}
	dup := make([]QueuedAction, len(actions))
	copy(dup, actions)
	return dup
}
