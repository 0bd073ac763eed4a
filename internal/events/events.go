// Package events fans sync-engine notifications out to in-process listeners
// such as the CLI and the log.
package events

import (
	"time"
)

// Type identifies an event.
type Type string

const (
	// ModeChanged is emitted after the coordinator switches backend.
	ModeChanged Type = "mode.changed"
	// MigrationCompleted is emitted after local books were copied to an empty remote.
	MigrationCompleted Type = "migration.completed"
	// MigrationSkipped is emitted when a sign-in did not migrate local books.
	MigrationSkipped Type = "migration.skipped"
	// SnapshotApplied is emitted each time a remote snapshot replaces the projection.
	SnapshotApplied Type = "snapshot.applied"
	// TransitionFailed is emitted when an identity transition aborts.
	TransitionFailed Type = "transition.failed"
	// BookChanged is emitted after a local-mode mutation.
	BookChanged Type = "book.changed"
)

// Event is a single notification. UserID, when set, limits delivery to
// clients connected for that user.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Type      Type      `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	BookID    string    `json:"bookId,omitempty"`
}

// ModeData is the payload of ModeChanged.
type ModeData struct {
	Mode   string `json:"mode"`
	UserID string `json:"userId,omitempty"`
}

// MigrationData is the payload of MigrationCompleted and MigrationSkipped.
type MigrationData struct {
	Reason string `json:"reason,omitempty"`
	Count  int    `json:"count"`
}

// SnapshotData is the payload of SnapshotApplied.
type SnapshotData struct {
	Count int `json:"count"`
}

// FailureData is the payload of TransitionFailed.
type FailureData struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// BookData is the payload of BookChanged.
type BookData struct {
	Op string `json:"op"`
}

// New builds an event stamped with the current time.
func New(t Type, userID string, data any) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Type:      t,
		UserID:    userID,
		Data:      data,
	}
}
