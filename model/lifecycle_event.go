package model

import "time"

type LifecycleEventKind string

const (
	// EventOrphanedBlob is emitted when a blob was stored but its record could not be written.
	EventOrphanedBlob LifecycleEventKind = "orphaned_blob"
	// EventDeletionExhausted is emitted when a deletion sequence ran out of retries.
	EventDeletionExhausted LifecycleEventKind = "deletion_exhausted"
)

// LifecycleEvent is published for conditions that need out-of-band handling.
type LifecycleEvent struct {
	Kind       LifecycleEventKind `json:"kind"`
	RecordID   string             `json:"record_id,omitempty"`
	OwnerID    string             `json:"owner_id,omitempty"`
	StorageKey string             `json:"storage_key"`
	Attempts   int                `json:"attempts,omitempty"`
	Error      string             `json:"error,omitempty"`
	At         time.Time          `json:"at"`
}
