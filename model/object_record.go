package model

import "time"

// DeletionState tracks where a record is in its deletion sequence.
type DeletionState string

const (
	StatePending  DeletionState = "pending"
	StateInFlight DeletionState = "in_flight"
	StateDeleted  DeletionState = "deleted"
)

// ObjectRecord is one stored, still-live ephemeral object.
// Timestamps are unix milliseconds.
type ObjectRecord struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`

	OwnerID     string `gorm:"column:owner_id;size:128;index;not null" json:"owner_id"`
	DisplayName string `gorm:"column:display_name;size:255;not null" json:"display_name"`

	StorageKey  string `gorm:"column:storage_key;size:512;uniqueIndex;not null" json:"storage_key"`
	Size        int64  `gorm:"column:size;not null;default:0" json:"size"`
	ContentType string `gorm:"column:content_type;size:128;not null;default:''" json:"content_type"`

	RetrievalHandle string `gorm:"column:retrieval_handle;type:text" json:"retrieval_handle"`
	HandleExpires   int64  `gorm:"column:handle_expires;not null;default:0" json:"handle_expires"`

	Created int64 `gorm:"column:created_at;index;not null" json:"created_at"`
	Expires int64 `gorm:"column:expires_at;index;not null" json:"expires_at"`

	DeletionState DeletionState `gorm:"column:deletion_state;size:16;index;not null" json:"-"`
	// ClaimedAt is when the running deletion sequence last confirmed its
	// claim. Zero unless the record is in flight.
	ClaimedAt int64 `gorm:"column:claimed_at;not null;default:0" json:"-"`
}

// TableName returns the database table name.
func (ObjectRecord) TableName() string {
	return "object_record"
}

func (r *ObjectRecord) CreatedAt() time.Time {
	return time.UnixMilli(r.Created)
}

func (r *ObjectRecord) ExpiresAt() time.Time {
	return time.UnixMilli(r.Expires)
}

func (r *ObjectRecord) HandleExpiresAt() time.Time {
	return time.UnixMilli(r.HandleExpires)
}
