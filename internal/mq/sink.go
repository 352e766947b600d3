package mq

import (
	"Go_Drop/model"
	"context"
	"errors"
)

// Sink receives lifecycle events that need out-of-band attention.
type Sink interface {
	PublishEvent(ctx context.Context, ev model.LifecycleEvent) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) PublishEvent(context.Context, model.LifecycleEvent) error { return nil }

// Fanout delivers each event to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) PublishEvent(ctx context.Context, ev model.LifecycleEvent) error {
	var errs []error
	for _, sink := range f {
		if err := sink.PublishEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
