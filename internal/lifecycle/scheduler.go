// Package lifecycle arms, fires and recovers the deletion triggers of ephemeral objects.
//
// Timers live in memory, but every decision is taken against the metadata
// store: a trigger claims its record with MarkInFlight before touching the
// blob store, so duplicate triggers for one id (a re-arm after recovery, a
// sweep racing a timer, a second process) collapse into a single deletion
// sequence. A claim is renewed before every retry and only claims older
// than ClaimLease are taken back by Recover, so a process starting next to
// a live one never restarts a sequence that is still running.
package lifecycle

import (
	"Go_Drop/internal/metrics"
	"Go_Drop/internal/mq"
	"Go_Drop/internal/storage"
	"Go_Drop/model"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RecordStore is the part of the metadata store the scheduler drives.
type RecordStore interface {
	MarkInFlight(ctx context.Context, id string, at time.Time) (bool, error)
	RenewClaim(ctx context.Context, id string, claimed, at time.Time) (bool, error)
	ResetStaleClaim(ctx context.Context, id string, claimedBefore time.Time) (bool, error)
	DeleteRecord(ctx context.Context, id string) (bool, error)
	ListDue(ctx context.Context, at time.Time) ([]model.ObjectRecord, error)
	ListPending(ctx context.Context) ([]model.ObjectRecord, error)
}

// BlobDeleter removes objects from the blob store.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Locker guards the recovery pass across processes.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

type Options struct {
	// RetryMax is the number of retries after the first delete attempt.
	RetryMax int
	// RetryDelays is indexed by retry number; the last entry repeats.
	RetryDelays   []time.Duration
	Rate          float64
	Burst         int
	SweepInterval time.Duration
	// ClaimLease is how long an unrenewed claim is honoured before Recover
	// takes it back. Zero derives it from the retry schedule.
	ClaimLease time.Duration

	Events  mq.Sink
	Metrics metrics.Lifecycle
	Lock    Locker
	Now     func() time.Time
}

type trigger struct {
	timer *time.Timer
	seq   uint64
}

type Scheduler struct {
	records RecordStore
	blobs   BlobDeleter
	opts    Options
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timers  map[string]*trigger
	seq     uint64
	stopped bool
}

func New(records RecordStore, blobs BlobDeleter, opts Options) *Scheduler {
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
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
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = DefaultClaimLease(opts.RetryMax, opts.RetryDelays)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	var limiter *rate.Limiter
	if opts.Rate <= 0 {
		limiter = rate.NewLimiter(rate.Inf, burst)
	} else {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		records: records,
		blobs:   blobs,
		opts:    opts,
		limiter: limiter,
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[string]*trigger),
	}
}

// Arm schedules the deletion of rec at its expiry. A record that is already
// due fires on the next scheduling opportunity. Arming an id that already has
// a timer in this process replaces that timer.
func (s *Scheduler) Arm(rec model.ObjectRecord) {
	delay := rec.ExpiresAt().Sub(s.opts.Now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old, ok := s.timers[rec.ID]; ok {
		old.timer.Stop()
	}
	s.seq++
	seq := s.seq
	t := &trigger{seq: seq}
	s.timers[rec.ID] = t
	t.timer = time.AfterFunc(delay, func() { s.onFire(rec, seq) })
	armed := len(s.timers)
	s.mu.Unlock()

	s.opts.Metrics.SetArmed(armed)
	log.Debug().Str("id", rec.ID).Dur("delay", delay).Msg("deletion trigger armed")
}

// Armed returns the number of timers waiting to fire.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) onFire(rec model.ObjectRecord, seq uint64) {
	s.mu.Lock()
	if t, ok := s.timers[rec.ID]; ok && t.seq == seq {
		delete(s.timers, rec.ID)
	}
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	armed := len(s.timers)
	s.mu.Unlock()
	defer s.wg.Done()

	s.opts.Metrics.SetArmed(armed)
	s.fire(s.ctx, rec)
}

// fire runs one trigger: claim, then drive the deletion sequence.
func (s *Scheduler) fire(ctx context.Context, rec model.ObjectRecord) {
	logger := log.With().
		Str("id", rec.ID).
		Str("owner", rec.OwnerID).
		Str("storage_key", rec.StorageKey).
		Logger()

	claimedAt := s.opts.Now()
	claimed, err := s.records.MarkInFlight(ctx, rec.ID, claimedAt)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Still pending; the next sweep re-arms it.
		logger.Warn().Err(err).Msg("claim deletion failed")
		s.opts.Metrics.IncDeletion("claim_error")
		return
	}
	if !claimed {
		logger.Debug().Msg("deletion already claimed")
		return
	}
	s.drive(ctx, rec, claimedAt, logger)
}

func (s *Scheduler) drive(ctx context.Context, rec model.ObjectRecord, claimedAt time.Time, logger zerolog.Logger) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= s.opts.RetryMax; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, pickRetryDelay(attempt, s.opts.RetryDelays)) {
				break
			}
			var held bool
			claimedAt, held = s.renew(ctx, rec.ID, claimedAt, logger)
			if !held {
				s.opts.Metrics.IncDeletion("claim_lost")
				logger.Warn().Int("attempts", attempts).Msg("deletion claim taken over; stopping this sequence")
				return
			}
		}
		attempts++
		lastErr = s.deleteOnce(ctx, rec, logger)
		if lastErr == nil {
			s.opts.Metrics.IncDeletion("deleted")
			logger.Info().Int("attempts", attempts).Msg("object deleted")
			return
		}
		if ctx.Err() != nil {
			break
		}
		logger.Warn().Err(lastErr).Int("attempt", attempts).Msg("deletion attempt failed")
	}

	if ctx.Err() != nil {
		// Left in flight; the recovery pass on next start re-drives it.
		s.opts.Metrics.IncDeletion("abandoned")
		logger.Info().Msg("deletion abandoned on shutdown")
		return
	}

	s.opts.Metrics.IncDeletion("exhausted")
	logger.Error().Err(lastErr).Int("attempts", attempts).Msg("deletion exhausted; record left in flight for recovery")
	s.publish(ctx, model.LifecycleEvent{
		Kind:       model.EventDeletionExhausted,
		RecordID:   rec.ID,
		OwnerID:    rec.OwnerID,
		StorageKey: rec.StorageKey,
		Attempts:   attempts,
		Error:      errString(lastErr),
		At:         s.opts.Now(),
	})
}

// renew pushes the claim forward before a retry. A store error keeps the
// current claim; only a claim that is provably gone stops the sequence.
func (s *Scheduler) renew(ctx context.Context, id string, claimedAt time.Time, logger zerolog.Logger) (time.Time, bool) {
	now := s.opts.Now()
	held, err := s.records.RenewClaim(ctx, id, claimedAt, now)
	if err != nil {
		logger.Warn().Err(err).Msg("renew deletion claim failed")
		return claimedAt, true
	}
	if !held {
		return claimedAt, false
	}
	if now.After(claimedAt) {
		return now, true
	}
	return claimedAt, true
}

// deleteOnce deletes the blob then the record. Only ErrStorageUnavailable
// from the blob store stops the sequence; every other outcome means the
// object is gone as far as the owner can tell.
func (s *Scheduler) deleteOnce(ctx context.Context, rec model.ObjectRecord, logger zerolog.Logger) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.opts.Metrics.IncDeleteAttempt()
	if err := s.blobs.Delete(ctx, rec.StorageKey); err != nil {
		if errors.Is(err, storage.ErrStorageUnavailable) || ctx.Err() != nil {
			return err
		}
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Msg("unexpected blob delete error treated as deleted")
		}
	}
	if _, err := s.records.DeleteRecord(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *Scheduler) publish(ctx context.Context, ev model.LifecycleEvent) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.opts.Events.PublishEvent(pubCtx, ev); err != nil {
		log.Warn().Err(err).Str("kind", string(ev.Kind)).Str("storage_key", ev.StorageKey).Msg("publish lifecycle event failed")
	}
}

// Recover rebuilds timer state from the metadata store. Due pending records
// fire at once. Due in-flight records whose claim is older than ClaimLease
// are reset to pending and fired; fresher claims belong to a sequence still
// running elsewhere and are skipped. Due records already marked deleted are
// removed without touching the blob store, and records not yet due are
// armed for their expiry.
func (s *Scheduler) Recover(ctx context.Context) error {
	if s.opts.Lock != nil {
		if err := s.opts.Lock.Lock(ctx); err != nil {
			return fmt.Errorf("recovery lock: %w", err)
		}
		defer func() {
			if err := s.opts.Lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("release recovery lock failed")
			}
		}()
	}

	now := s.opts.Now()
	due, err := s.records.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due records: %w", err)
	}

	staleBefore := now.Add(-s.opts.ClaimLease)
	rearmed, live := 0, 0
	for _, rec := range due {
		switch rec.DeletionState {
		case model.StateDeleted:
			if _, err := s.records.DeleteRecord(ctx, rec.ID); err != nil {
				return fmt.Errorf("purge deleted record %s: %w", rec.ID, err)
			}
		case model.StateInFlight:
			reset, err := s.records.ResetStaleClaim(ctx, rec.ID, staleBefore)
			if err != nil {
				return fmt.Errorf("reset record %s: %w", rec.ID, err)
			}
			if !reset {
				live++
				log.Debug().Str("id", rec.ID).Time("claimed_at", time.UnixMilli(rec.ClaimedAt)).Msg("deletion claimed by a live sequence")
				continue
			}
			rec.DeletionState = model.StatePending
			rec.ClaimedAt = 0
			s.Arm(rec)
			rearmed++
		default:
			s.Arm(rec)
			rearmed++
		}
		s.opts.Metrics.IncRecovered(string(rec.DeletionState))
	}

	pending, err := s.records.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending records: %w", err)
	}
	upcoming := 0
	for _, rec := range pending {
		if rec.Expires > now.UnixMilli() {
			s.Arm(rec)
			upcoming++
		}
	}

	log.Info().
		Int("due", len(due)).
		Int("rearmed", rearmed).
		Int("live_claims", live).
		Int("upcoming", upcoming).
		Msg("lifecycle recovery complete")
	return nil
}

// Run sweeps for due pending records every SweepInterval until ctx is done.
// It catches records created by another process and triggers whose claim
// failed.
func (s *Scheduler) Run(ctx context.Context) {
	if s.opts.SweepInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	due, err := s.records.ListDue(ctx, s.opts.Now())
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("sweep: list due records failed")
		}
		return
	}
	for _, rec := range due {
		if rec.DeletionState == model.StatePending {
			s.Arm(rec)
		}
	}
}

// Stop cancels every timer and waits for running deletion sequences to
// return. Sequences cut short stay in flight for the next recovery pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.opts.Metrics.SetArmed(0)
}

// DefaultClaimLease covers a whole retry schedule plus a minute of slack for
// the delete calls themselves.
func DefaultClaimLease(retryMax int, delays []time.Duration) time.Duration {
	lease := time.Minute
	for attempt := 1; attempt <= retryMax; attempt++ {
		lease += pickRetryDelay(attempt, delays)
	}
	return lease
}

func pickRetryDelay(attempt int, delays []time.Duration) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	index := attempt - 1
	if index < 0 {
		index = 0
	}
	if index >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[index]
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
