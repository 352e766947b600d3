package service

import (
	"Go_Drop/internal/metrics"
	"Go_Drop/internal/mq"
	"Go_Drop/internal/repo"
	"Go_Drop/internal/storage"
	"Go_Drop/model"
	"Go_Drop/utils"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidRequest is returned when an ingest request is missing its owner or name.
	ErrInvalidRequest = errors.New("service: invalid request")

	// ErrLifetimeTooLong is returned when the requested lifetime exceeds the configured maximum.
	ErrLifetimeTooLong = errors.New("service: lifetime too long")
)

// Records is the part of the metadata store the service reads and writes.
type Records interface {
	Create(ctx context.Context, rec *model.ObjectRecord) error
	Get(ctx context.Context, id string) (*model.ObjectRecord, error)
	GetByOwner(ctx context.Context, ownerID string) ([]model.ObjectRecord, error)
	UpdateHandle(ctx context.Context, rec *model.ObjectRecord, handle string, expires time.Time) error
}

// Armer schedules the deletion of a freshly created record.
type Armer interface {
	Arm(rec model.ObjectRecord)
}

type Options struct {
	DefaultLifetime time.Duration
	MaxLifetime     time.Duration
	MaxHandleTTL    time.Duration

	Events   mq.Sink
	Metrics  metrics.Lifecycle
	Progress storage.ProgressSink
	Now      func() time.Time
}

// ObjectService accepts uploads and answers ownership queries.
type ObjectService struct {
	blobs   storage.Store
	records Records
	armer   Armer
	opts    Options
}

func NewObjectService(blobs storage.Store, records Records, armer Armer, opts Options) *ObjectService {
	if opts.DefaultLifetime <= 0 {
		opts.DefaultLifetime = 12 * time.Hour
	}
	if opts.MaxHandleTTL <= 0 || opts.MaxHandleTTL > storage.MaxHandleTTL {
		opts.MaxHandleTTL = storage.MaxHandleTTL
	}
	if opts.Events == nil {
		opts.Events = mq.Noop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ObjectService{blobs: blobs, records: records, armer: armer, opts: opts}
}

type IngestRequest struct {
	OwnerID     string
	DisplayName string
	Body        io.Reader
	// Size is the body length in bytes, or -1 when unknown.
	Size        int64
	ContentType string
	// Lifetime <= 0 selects the configured default.
	Lifetime    time.Duration
}

// ActiveObject is the owner-facing view of a live record.
type ActiveObject struct {
	ID              string
	DisplayName     string
	Size            int64
	RetrievalHandle string
	ExpiresAt       time.Time
}

// progressForgetter is implemented by progress sinks that keep per-key state.
type progressForgetter interface {
	Forget(key string)
}

// BuildStorageKey builds the object path for a new upload.
func BuildStorageKey(displayName string) string {
	return fmt.Sprintf("objects/%s/%s", utils.NewID(), utils.SanitizeObjectName(displayName))
}

// Ingest stores the body, records it and arms its deletion trigger.
func (s *ObjectService) Ingest(ctx context.Context, req IngestRequest) (*model.ObjectRecord, error) {
	owner := strings.TrimSpace(req.OwnerID)
	name := strings.TrimSpace(req.DisplayName)
	if owner == "" || name == "" || req.Body == nil {
		s.opts.Metrics.IncIngested("invalid")
		return nil, ErrInvalidRequest
	}
	lifetime := req.Lifetime
	if lifetime <= 0 {
		lifetime = s.opts.DefaultLifetime
	}
	if s.opts.MaxLifetime > 0 && lifetime > s.opts.MaxLifetime {
		s.opts.Metrics.IncIngested("invalid")
		return nil, fmt.Errorf("%w: %s > %s", ErrLifetimeTooLong, lifetime, s.opts.MaxLifetime)
	}
	size := req.Size
	if size < 0 {
		size = -1
	}

	key := BuildStorageKey(name)
	if f, ok := s.opts.Progress.(progressForgetter); ok {
		defer f.Forget(key)
	}
	res, err := s.blobs.Put(ctx, req.Body, size, key, storage.PutOptions{
		ContentType: req.ContentType,
		DisplayName: name,
		HandleTTL:   s.handleTTL(lifetime),
		Progress:    s.opts.Progress,
	})
	if err != nil {
		if errors.Is(err, storage.ErrOrphaned) {
			s.orphaned(ctx, &model.ObjectRecord{OwnerID: owner, StorageKey: key}, err)
		}
		s.opts.Metrics.IncIngested("storage_error")
		return nil, fmt.Errorf("put object: %w", err)
	}

	now := s.opts.Now()
	rec := &model.ObjectRecord{
		ID:              utils.NewID(),
		OwnerID:         owner,
		DisplayName:     name,
		StorageKey:      res.StorageKey,
		Size:            size,
		ContentType:     req.ContentType,
		RetrievalHandle: res.RetrievalHandle,
		HandleExpires:   res.HandleExpires.UnixMilli(),
		Created:         now.UnixMilli(),
		Expires:         now.Add(lifetime).UnixMilli(),
		DeletionState:   model.StatePending,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		s.orphaned(ctx, rec, err)
		s.opts.Metrics.IncIngested("record_error")
		return nil, fmt.Errorf("create record: %w", err)
	}

	s.armer.Arm(*rec)
	s.opts.Metrics.IncIngested("ok")
	log.Info().
		Str("id", rec.ID).
		Str("owner", owner).
		Str("storage_key", rec.StorageKey).
		Time("expires_at", rec.ExpiresAt()).
		Msg("object ingested")
	return rec, nil
}

// orphaned reports a blob that was stored but has no record pointing at it.
func (s *ObjectService) orphaned(ctx context.Context, rec *model.ObjectRecord, cause error) {
	logger := log.With().
		Str("owner", rec.OwnerID).
		Str("storage_key", rec.StorageKey).
		Logger()
	if errors.Is(cause, repo.ErrDuplicateKey) {
		logger.Error().Err(cause).Msg("storage key collision; keys must be unique")
	}
	logger.Warn().Err(cause).Msg("orphaned blob")
	s.opts.Metrics.IncOrphanedBlob()

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	ev := model.LifecycleEvent{
		Kind:       model.EventOrphanedBlob,
		RecordID:   rec.ID,
		OwnerID:    rec.OwnerID,
		StorageKey: rec.StorageKey,
		Error:      cause.Error(),
		At:         s.opts.Now(),
	}
	if err := s.opts.Events.PublishEvent(pubCtx, ev); err != nil {
		logger.Warn().Err(err).Msg("publish orphaned blob event failed")
	}
}

// ListActive returns the owner's objects that have not yet expired, oldest first.
func (s *ObjectService) ListActive(ctx context.Context, ownerID string) ([]ActiveObject, error) {
	records, err := s.records.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	now := s.opts.Now().UnixMilli()
	out := make([]ActiveObject, 0, len(records))
	for i := range records {
		if records[i].Expires <= now {
			continue
		}
		out = append(out, toActive(&records[i]))
	}
	return out, nil
}

// RefreshHandle issues a new retrieval handle for one of the owner's live
// objects. Objects of other owners are reported as not found.
func (s *ObjectService) RefreshHandle(ctx context.Context, ownerID, id string) (*ActiveObject, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	if rec.OwnerID != ownerID || rec.DeletionState != model.StatePending || rec.Expires <= now.UnixMilli() {
		return nil, repo.ErrRecordNotFound
	}

	ttl := s.handleTTL(rec.ExpiresAt().Sub(now))
	handle, err := s.blobs.IssueRetrievalHandle(ctx, rec.StorageKey, ttl, rec.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("issue handle: %w", err)
	}
	if err := s.records.UpdateHandle(ctx, rec, handle, now.Add(ttl)); err != nil {
		return nil, fmt.Errorf("store handle: %w", err)
	}
	obj := toActive(rec)
	return &obj, nil
}

// handleTTL keeps a handle from outliving its object or the backend limit.
func (s *ObjectService) handleTTL(remaining time.Duration) time.Duration {
	if remaining <= 0 || remaining > s.opts.MaxHandleTTL {
		return s.opts.MaxHandleTTL
	}
	return remaining
}

func toActive(rec *model.ObjectRecord) ActiveObject {
	return ActiveObject{
		ID:              rec.ID,
		DisplayName:     rec.DisplayName,
		Size:            rec.Size,
		RetrievalHandle: rec.RetrievalHandle,
		ExpiresAt:       rec.ExpiresAt(),
	}
}
