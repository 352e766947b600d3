package service

import (
	"Go_Drop/internal/lifecycle"
	"Go_Drop/internal/repo"
	"Go_Drop/internal/storage"
	"Go_Drop/model"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureArmer struct {
	mu    sync.Mutex
	armed []model.ObjectRecord
}

func (a *captureArmer) Arm(rec model.ObjectRecord) {
	a.mu.Lock()
	a.armed = append(a.armed, rec)
	a.mu.Unlock()
}

type captureSink struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (c *captureSink) PublishEvent(_ context.Context, ev model.LifecycleEvent) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

type unavailableStore struct{}

func (unavailableStore) Put(context.Context, io.Reader, int64, string, storage.PutOptions) (storage.PutResult, error) {
	return storage.PutResult{}, fmt.Errorf("%w: connection refused", storage.ErrStorageUnavailable)
}

func (unavailableStore) IssueRetrievalHandle(context.Context, string, time.Duration, string) (string, error) {
	return "", storage.ErrStorageUnavailable
}

func (unavailableStore) Delete(context.Context, string) error {
	return storage.ErrStorageUnavailable
}

// leakyStore stores nothing and reports that its failed Put left the blob behind.
type leakyStore struct {
	unavailableStore
}

func (leakyStore) Put(_ context.Context, _ io.Reader, _ int64, key string, _ storage.PutOptions) (storage.PutResult, error) {
	return storage.PutResult{}, fmt.Errorf("%w: %w: presign %s", storage.ErrOrphaned, storage.ErrStorageUnavailable, key)
}

// brokenReader yields n bytes and then fails.
type brokenReader struct {
	n int
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if b.n <= 0 {
		return 0, errors.New("client went away")
	}
	if len(p) > b.n {
		p = p[:b.n]
	}
	for i := range p {
		p[i] = 'x'
	}
	b.n -= len(p)
	return len(p), nil
}

// failingRecords refuses every Create with err.
type failingRecords struct {
	*repo.RecordStore
	err error
}

func (f failingRecords) Create(context.Context, *model.ObjectRecord) error {
	return f.err
}

type captureProgress struct {
	mu          sync.Mutex
	transferred int64
	total       int64
}

func (p *captureProgress) Progress(_ string, transferred, total int64) {
	p.mu.Lock()
	p.transferred = transferred
	p.total = total
	p.mu.Unlock()
}

func newTestRecords(t *testing.T) *repo.RecordStore {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repo.NewRecordStore(db, nil)
}

func testOptions(clock *fakeClock) Options {
	opts := Options{
		DefaultLifetime: 12 * time.Hour,
		MaxLifetime:     7 * 24 * time.Hour,
	}
	if clock != nil {
		opts.Now = clock.Now
	}
	return opts
}

func ingest(t *testing.T, svc *ObjectService, owner, name, body string, lifetime time.Duration) *model.ObjectRecord {
	t.Helper()
	rec, err := svc.Ingest(context.Background(), IngestRequest{
		OwnerID:     owner,
		DisplayName: name,
		Body:        strings.NewReader(body),
		Size:        int64(len(body)),
		ContentType: "application/octet-stream",
		Lifetime:    lifetime,
	})
	require.NoError(t, err)
	return rec
}

func TestIngestThenListUntilExpiry(t *testing.T) {
	records := newTestRecords(t)
	blobs := storage.NewMemoryStore()
	armer := &captureArmer{}
	clock := &fakeClock{now: time.Now().Truncate(time.Millisecond)}
	t0 := clock.Now()
	svc := NewObjectService(blobs, records, armer, testOptions(clock))

	rec := ingest(t, svc, "alice", "report.pdf", "hello", time.Hour)
	require.Equal(t, t0.UnixMilli(), rec.Created)
	require.Equal(t, t0.Add(time.Hour).UnixMilli(), rec.Expires)
	require.Equal(t, model.StatePending, rec.DeletionState)
	require.True(t, strings.HasPrefix(rec.StorageKey, "objects/"))
	require.True(t, strings.HasSuffix(rec.StorageKey, "/report.pdf"))
	require.True(t, blobs.Has(rec.StorageKey))
	require.Len(t, armer.armed, 1)
	require.Equal(t, rec.ID, armer.armed[0].ID)

	clock.Advance(30 * time.Minute)
	active, err := svc.ListActive(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "report.pdf", active[0].DisplayName)
	require.Equal(t, rec.RetrievalHandle, active[0].RetrievalHandle)
	require.True(t, active[0].ExpiresAt.Equal(t0.Add(time.Hour)))

	// Expired but not yet deleted is already hidden.
	clock.Advance(30 * time.Minute)
	active, err = svc.ListActive(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, active)
	require.NotNil(t, active)
}

func TestIngestDefaultsAndValidation(t *testing.T) {
	records := newTestRecords(t)
	clock := &fakeClock{now: time.Now().Truncate(time.Millisecond)}
	svc := NewObjectService(storage.NewMemoryStore(), records, &captureArmer{}, testOptions(clock))

	rec := ingest(t, svc, "alice", "a.txt", "x", 0)
	require.Equal(t, (12 * time.Hour).Milliseconds(), rec.Expires-rec.Created)

	_, err := svc.Ingest(context.Background(), IngestRequest{
		OwnerID: "alice", DisplayName: "a.txt", Body: strings.NewReader("x"), Lifetime: 8 * 24 * time.Hour,
	})
	require.ErrorIs(t, err, ErrLifetimeTooLong)

	_, err = svc.Ingest(context.Background(), IngestRequest{
		OwnerID: "", DisplayName: "a.txt", Body: strings.NewReader("x"),
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Ingest(context.Background(), IngestRequest{
		OwnerID: "alice", DisplayName: "  ", Body: strings.NewReader("x"),
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestIngestPutFailureWritesNoRecord(t *testing.T) {
	records := newTestRecords(t)
	armer := &captureArmer{}
	svc := NewObjectService(unavailableStore{}, records, armer, testOptions(nil))

	_, err := svc.Ingest(context.Background(), IngestRequest{
		OwnerID: "alice", DisplayName: "a.txt", Body: strings.NewReader("x"), Size: 1,
	})
	require.ErrorIs(t, err, storage.ErrStorageUnavailable)

	owned, err := records.GetByOwner(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, owned)
	require.Empty(t, armer.armed)
}

func TestIngestPutLeftoverReportsOrphan(t *testing.T) {
	records := newTestRecords(t)
	sink := &captureSink{}
	opts := testOptions(nil)
	opts.Events = sink
	svc := NewObjectService(leakyStore{}, records, &captureArmer{}, opts)

	_, err := svc.Ingest(context.Background(), IngestRequest{
		OwnerID: "alice", DisplayName: "a.txt", Body: strings.NewReader("x"), Size: 1,
	})
	require.ErrorIs(t, err, storage.ErrStorageUnavailable)
	require.ErrorIs(t, err, storage.ErrOrphaned)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	require.Equal(t, model.EventOrphanedBlob, ev.Kind)
	require.Equal(t, "alice", ev.OwnerID)
	require.True(t, strings.HasSuffix(ev.StorageKey, "/a.txt"))

	owned, err := records.GetByOwner(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, owned)
}

func TestIngestRecordFailureReportsOrphan(t *testing.T) {
	records := newTestRecords(t)
	blobs := storage.NewMemoryStore()
	sink := &captureSink{}
	armer := &captureArmer{}
	opts := testOptions(nil)
	opts.Events = sink
	dup := fmt.Errorf("%w: objects/x/a.txt", repo.ErrDuplicateKey)
	svc := NewObjectService(blobs, failingRecords{RecordStore: records, err: dup}, armer, opts)

	_, err := svc.Ingest(context.Background(), IngestRequest{
		OwnerID: "alice", DisplayName: "a.txt", Body: strings.NewReader("x"), Size: 1,
	})
	require.ErrorIs(t, err, repo.ErrDuplicateKey)
	require.Empty(t, armer.armed)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	require.Equal(t, model.EventOrphanedBlob, ev.Kind)
	require.Equal(t, "alice", ev.OwnerID)
	// The blob is reported, not removed.
	require.True(t, blobs.Has(ev.StorageKey))
}

func TestSameNameDifferentOwners(t *testing.T) {
	records := newTestRecords(t)
	blobs := storage.NewMemoryStore()
	sched := lifecycle.New(records, blobs, lifecycle.Options{
		RetryMax:    1,
		RetryDelays: []time.Duration{time.Millisecond},
	})
	defer sched.Stop()
	svc := NewObjectService(blobs, records, sched, testOptions(nil))

	short := ingest(t, svc, "alice", "report.pdf", "a", 100*time.Millisecond)
	long := ingest(t, svc, "bob", "report.pdf", "b", time.Hour)
	require.NotEqual(t, short.StorageKey, long.StorageKey)

	require.Eventually(t, func() bool {
		_, err := records.Get(context.Background(), short.ID)
		return errors.Is(err, repo.ErrRecordNotFound)
	}, 5*time.Second, 10*time.Millisecond)
	require.False(t, blobs.Has(short.StorageKey))

	require.True(t, blobs.Has(long.StorageKey))
	active, err := svc.ListActive(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, long.ID, active[0].ID)

	active, err = svc.ListActive(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestListActiveOwnerIsolationAndOrder(t *testing.T) {
	records := newTestRecords(t)
	clock := &fakeClock{now: time.Now().Truncate(time.Millisecond)}
	svc := NewObjectService(storage.NewMemoryStore(), records, &captureArmer{}, testOptions(clock))

	first := ingest(t, svc, "alice", "one.txt", "1", time.Hour)
	clock.Advance(time.Second)
	ingest(t, svc, "bob", "other.txt", "2", time.Hour)
	clock.Advance(time.Second)
	second := ingest(t, svc, "alice", "two.txt", "3", time.Hour)

	active, err := svc.ListActive(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, first.ID, active[0].ID)
	require.Equal(t, second.ID, active[1].ID)

	active, err = svc.ListActive(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestRefreshHandle(t *testing.T) {
	records := newTestRecords(t)
	clock := &fakeClock{now: time.Now().Truncate(time.Millisecond)}
	t0 := clock.Now()
	svc := NewObjectService(storage.NewMemoryStore(), records, &captureArmer{}, testOptions(clock))

	rec := ingest(t, svc, "alice", "a.txt", "x", time.Hour)

	_, err := svc.RefreshHandle(context.Background(), "bob", rec.ID)
	require.ErrorIs(t, err, repo.ErrRecordNotFound)

	_, err = svc.RefreshHandle(context.Background(), "alice", "missing")
	require.ErrorIs(t, err, repo.ErrRecordNotFound)

	clock.Advance(30 * time.Minute)
	obj, err := svc.RefreshHandle(context.Background(), "alice", rec.ID)
	require.NoError(t, err)
	require.NotEqual(t, rec.RetrievalHandle, obj.RetrievalHandle)

	got, err := records.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, obj.RetrievalHandle, got.RetrievalHandle)
	// The handle never outlives the object.
	require.Equal(t, t0.Add(time.Hour).UnixMilli(), got.HandleExpires)

	clock.Advance(time.Hour)
	_, err = svc.RefreshHandle(context.Background(), "alice", rec.ID)
	require.ErrorIs(t, err, repo.ErrRecordNotFound)
}

func TestIngestReportsProgress(t *testing.T) {
	records := newTestRecords(t)
	progress := &captureProgress{}
	opts := testOptions(nil)
	opts.Progress = progress
	svc := NewObjectService(storage.NewMemoryStore(), records, &captureArmer{}, opts)

	body := strings.Repeat("z", 4096)
	ingest(t, svc, "alice", "z.bin", body, time.Hour)
	require.Equal(t, int64(len(body)), progress.transferred)
	require.Equal(t, int64(len(body)), progress.total)

	// The logger sink accepts unknown totals and repeated keys.
	logger := NewProgressLogger()
	logger.Progress("k", 10, 0)
	logger.Progress("k", 50, 100)
	logger.Progress("k", 60, 100)
	logger.Progress("k", 100, 100)
	require.Empty(t, logger.last)
}

func TestFailedUploadReleasesProgressState(t *testing.T) {
	records := newTestRecords(t)
	logger := NewProgressLogger()
	opts := testOptions(nil)
	opts.Progress = logger
	svc := NewObjectService(storage.NewMemoryStore(), records, &captureArmer{}, opts)

	_, err := svc.Ingest(context.Background(), IngestRequest{
		OwnerID: "alice", DisplayName: "big.bin", Body: &brokenReader{n: 1000}, Size: 4096,
	})
	require.ErrorIs(t, err, storage.ErrStorageUnavailable)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Empty(t, logger.last)
}
