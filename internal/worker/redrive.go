// Package worker consumes lifecycle events from RabbitMQ.
package worker

import (
	"Go_Drop/internal/repo"
	"Go_Drop/model"
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

type Records interface {
	Get(ctx context.Context, id string) (*model.ObjectRecord, error)
	ResetStaleClaim(ctx context.Context, id string, claimedBefore time.Time) (bool, error)
}

type Armer interface {
	Arm(rec model.ObjectRecord)
}

// Redriver gives exhausted deletions another full retry sequence once
// Delay has passed since they were given up on.
type Redriver struct {
	records Records
	armer   Armer
	delay   time.Duration
	now     func() time.Time
}

func NewRedriver(records Records, armer Armer, delay time.Duration) *Redriver {
	return &Redriver{records: records, armer: armer, delay: delay, now: time.Now}
}

// Handle redrives one event. Events of other kinds, records that are
// already gone and records claimed again after the event are accepted
// without action.
func (r *Redriver) Handle(ctx context.Context, ev model.LifecycleEvent) error {
	if ev.Kind != model.EventDeletionExhausted {
		return nil
	}
	if wait := ev.At.Add(r.delay).Sub(r.now()); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	rec, err := r.records.Get(ctx, ev.RecordID)
	if errors.Is(err, repo.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	switch rec.DeletionState {
	case model.StateInFlight:
		reset, err := r.records.ResetStaleClaim(ctx, rec.ID, ev.At)
		if err != nil {
			return err
		}
		if !reset {
			log.Debug().Str("id", rec.ID).Msg("record claimed again since exhaustion; not redriven")
			return nil
		}
		rec.DeletionState = model.StatePending
		rec.ClaimedAt = 0
	case model.StateDeleted:
		return nil
	}
	r.armer.Arm(*rec)
	log.Info().
		Str("id", rec.ID).
		Str("storage_key", rec.StorageKey).
		Int("attempts", ev.Attempts).
		Msg("exhausted deletion redriven")
	return nil
}

// Run consumes deliveries until ctx is done or the channel closes.
func (r *Redriver) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("redrive worker: delivery channel closed")
			}
			r.settle(ctx, delivery.Body, delivery)
		}
	}
}

// acknowledger is the part of amqp.Delivery that settle uses.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (r *Redriver) settle(ctx context.Context, body []byte, ack acknowledger) {
	var ev model.LifecycleEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn().Err(err).Msg("redrive worker: invalid message")
		_ = ack.Ack(false)
		return
	}
	if err := r.Handle(ctx, ev); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = ack.Nack(false, true)
			return
		}
		log.Warn().Err(err).Str("id", ev.RecordID).Msg("redrive worker: redrive failed")
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
}
