package mq

import (
	"Go_Drop/model"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	events []model.LifecycleEvent
	err    error
}

func (c *captureSink) PublishEvent(_ context.Context, ev model.LifecycleEvent) error {
	c.events = append(c.events, ev)
	return c.err
}

func TestFanoutDeliversToAll(t *testing.T) {
	boom := errors.New("boom")
	a := &captureSink{}
	b := &captureSink{err: boom}
	ev := model.LifecycleEvent{Kind: model.EventOrphanedBlob, StorageKey: "k"}

	err := Fanout{a, Noop{}, b}.PublishEvent(context.Background(), ev)
	require.ErrorIs(t, err, boom)
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
}

func TestRoutingKey(t *testing.T) {
	key, err := routingKey(model.EventOrphanedBlob)
	require.NoError(t, err)
	require.Equal(t, RoutingOrphan, key)

	key, err = routingKey(model.EventDeletionExhausted)
	require.NoError(t, err)
	require.Equal(t, RoutingDLQ, key)

	_, err = routingKey("other")
	require.Error(t, err)
}
