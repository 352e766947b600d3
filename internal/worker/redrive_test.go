package worker

import (
	"Go_Drop/internal/repo"
	"Go_Drop/model"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureArmer struct {
	mu    sync.Mutex
	armed []model.ObjectRecord
}

func (a *captureArmer) Arm(rec model.ObjectRecord) {
	a.mu.Lock()
	a.armed = append(a.armed, rec)
	a.mu.Unlock()
}

type fakeAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (f *fakeAck) Ack(bool) error {
	f.acked++
	return nil
}

func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked++
	f.requeue = requeue
	return nil
}

func newTestRecords(t *testing.T) *repo.RecordStore {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repo.NewRecordStore(db, nil)
}

func seed(t *testing.T, records *repo.RecordStore, id string, state model.DeletionState) {
	t.Helper()
	now := time.Now()
	require.NoError(t, records.Create(context.Background(), &model.ObjectRecord{
		ID:            id,
		OwnerID:       "alice",
		DisplayName:   "a.txt",
		StorageKey:    "objects/" + id + "/a.txt",
		Created:       now.Add(-time.Hour).UnixMilli(),
		Expires:       now.Add(-time.Minute).UnixMilli(),
		DeletionState: state,
	}))
}

func exhausted(id string, at time.Time) model.LifecycleEvent {
	return model.LifecycleEvent{Kind: model.EventDeletionExhausted, RecordID: id, Attempts: 6, At: at}
}

func TestRedriveResetsInFlightRecord(t *testing.T) {
	records := newTestRecords(t)
	armer := &captureArmer{}
	seed(t, records, "r1", model.StateInFlight)

	r := NewRedriver(records, armer, time.Minute)
	require.NoError(t, r.Handle(context.Background(), exhausted("r1", time.Now().Add(-time.Hour))))

	got, err := records.Get(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, model.StatePending, got.DeletionState)
	require.Len(t, armer.armed, 1)
	require.Equal(t, model.StatePending, armer.armed[0].DeletionState)
}

func TestRedriveLeavesNewerClaimAlone(t *testing.T) {
	records := newTestRecords(t)
	armer := &captureArmer{}
	seed(t, records, "r1", model.StatePending)
	exhaustedAt := time.Now().Add(-time.Hour)

	// Another process picked the record up after it was given up on.
	ok, err := records.MarkInFlight(context.Background(), "r1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	r := NewRedriver(records, armer, time.Minute)
	require.NoError(t, r.Handle(context.Background(), exhausted("r1", exhaustedAt)))

	got, err := records.Get(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, model.StateInFlight, got.DeletionState)
	require.Empty(t, armer.armed)
}

func TestRedriveSkipsGoneAndOtherKinds(t *testing.T) {
	records := newTestRecords(t)
	armer := &captureArmer{}
	r := NewRedriver(records, armer, 0)

	require.NoError(t, r.Handle(context.Background(), exhausted("missing", time.Now())))
	require.NoError(t, r.Handle(context.Background(), model.LifecycleEvent{Kind: model.EventOrphanedBlob, StorageKey: "k"}))
	require.Empty(t, armer.armed)
}

func TestRedriveWaitsForDelay(t *testing.T) {
	records := newTestRecords(t)
	armer := &captureArmer{}
	seed(t, records, "r1", model.StateInFlight)
	r := NewRedriver(records, armer, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Handle(ctx, exhausted("r1", time.Now()))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, armer.armed)
}

func TestSettle(t *testing.T) {
	records := newTestRecords(t)
	seed(t, records, "r1", model.StateInFlight)
	r := NewRedriver(records, &captureArmer{}, 0)

	ack := &fakeAck{}
	r.settle(context.Background(), []byte("{not json"), ack)
	require.Equal(t, 1, ack.acked)

	body, err := json.Marshal(exhausted("r1", time.Now()))
	require.NoError(t, err)
	ack = &fakeAck{}
	r.settle(context.Background(), body, ack)
	require.Equal(t, 1, ack.acked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewRedriver(records, &captureArmer{}, time.Hour)
	ack = &fakeAck{}
	slow.settle(ctx, body, ack)
	require.Equal(t, 1, ack.nacked)
	require.True(t, ack.requeue)
}
