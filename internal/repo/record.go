package repo

import (
	"Go_Drop/model"
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrDuplicateKey is returned when a record's id or storage key already exists.
	ErrDuplicateKey = errors.New("repo: duplicate storage key")

	// ErrRecordNotFound is returned when the addressed record does not exist.
	ErrRecordNotFound = errors.New("repo: record not found")
)

// RecordStore is the durable table of live object records.
type RecordStore struct {
	db    *gorm.DB
	cache *OwnerCache
}

// NewRecordStore wraps db. cache may be nil.
func NewRecordStore(db *gorm.DB, cache *OwnerCache) *RecordStore {
	return &RecordStore{db: db, cache: cache}
}

// Create inserts a new record in the pending state.
func (s *RecordStore) Create(ctx context.Context, rec *model.ObjectRecord) error {
	if rec.DeletionState == "" {
		rec.DeletionState = model.StatePending
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, rec.StorageKey)
		}
		return err
	}
	s.cache.Invalidate(ctx, rec.OwnerID)
	return nil
}

// Get loads one record by id.
func (s *RecordStore) Get(ctx context.Context, id string) (*model.ObjectRecord, error) {
	var rec model.ObjectRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByOwner returns every non-deleted record of owner, oldest first.
func (s *RecordStore) GetByOwner(ctx context.Context, ownerID string) ([]model.ObjectRecord, error) {
	if records, ok := s.cache.Get(ctx, ownerID); ok {
		return records, nil
	}

	records := []model.ObjectRecord{}
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND deletion_state <> ?", ownerID, model.StateDeleted).
		Order("created_at ASC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, ownerID, records)
	return records, nil
}

// MarkInFlight claims the deletion of a pending record and stamps the claim
// with at. It returns false when the record is absent or another execution
// already claimed it.
func (s *RecordStore) MarkInFlight(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.ObjectRecord{}).
		Where("id = ? AND deletion_state = ?", id, model.StatePending).
		Updates(map[string]interface{}{
			"deletion_state": model.StateInFlight,
			"claimed_at":     at.UnixMilli(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RenewClaim moves the claim stamped at claimed forward to at. It returns
// false when the claim was reset or taken over since.
func (s *RecordStore) RenewClaim(ctx context.Context, id string, claimed, at time.Time) (bool, error) {
	q := s.db.WithContext(ctx).
		Model(&model.ObjectRecord{}).
		Where("id = ? AND deletion_state = ? AND claimed_at = ?", id, model.StateInFlight, claimed.UnixMilli())
	if at.UnixMilli() <= claimed.UnixMilli() {
		// mysql reports zero affected rows for a no-op update.
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return false, err
		}
		return n == 1, nil
	}
	res := q.Update("claimed_at", at.UnixMilli())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ResetStaleClaim returns an in-flight record to pending when its claim was
// last confirmed at or before claimedBefore. Fresher claims belong to a live
// deletion sequence and are left alone; the bool reports whether a reset
// happened.
func (s *RecordStore) ResetStaleClaim(ctx context.Context, id string, claimedBefore time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.ObjectRecord{}).
		Where("id = ? AND deletion_state = ? AND claimed_at <= ?", id, model.StateInFlight, claimedBefore.UnixMilli()).
		Updates(map[string]interface{}{
			"deletion_state": model.StatePending,
			"claimed_at":     0,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteRecord removes a record regardless of state. Removing an absent
// record succeeds; the bool reports whether a row was there.
func (s *RecordStore) DeleteRecord(ctx context.Context, id string) (bool, error) {
	var found []model.ObjectRecord
	if err := s.db.WithContext(ctx).Select("id", "owner_id").Where("id = ?", id).Limit(1).Find(&found).Error; err != nil {
		return false, err
	}
	if len(found) == 0 {
		return false, nil
	}
	rec := found[0]

	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.ObjectRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	s.cache.Invalidate(ctx, rec.OwnerID)
	return res.RowsAffected > 0, nil
}

// ListDue returns records expiring at or before at, in any state.
func (s *RecordStore) ListDue(ctx context.Context, at time.Time) ([]model.ObjectRecord, error) {
	records := []model.ObjectRecord{}
	err := s.db.WithContext(ctx).
		Where("expires_at <= ?", at.UnixMilli()).
		Order("expires_at ASC").
		Find(&records).Error
	return records, err
}

// ListPending returns every record still waiting for its trigger.
func (s *RecordStore) ListPending(ctx context.Context) ([]model.ObjectRecord, error) {
	records := []model.ObjectRecord{}
	err := s.db.WithContext(ctx).
		Where("deletion_state = ?", model.StatePending).
		Order("expires_at ASC").
		Find(&records).Error
	return records, err
}

// UpdateHandle stores a freshly issued retrieval handle on rec.
func (s *RecordStore) UpdateHandle(ctx context.Context, rec *model.ObjectRecord, handle string, expires time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.ObjectRecord{}).
		Where("id = ? AND deletion_state = ?", rec.ID, model.StatePending).
		Updates(map[string]interface{}{
			"retrieval_handle": handle,
			"handle_expires":   expires.UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	rec.RetrievalHandle = handle
	rec.HandleExpires = expires.UnixMilli()
	s.cache.Invalidate(ctx, rec.OwnerID)
	return nil
}
