package mq

import (
	"Go_Drop/model"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeLifecycle = "lifecycle.exchange"

	QueueOrphan = "lifecycle.orphan.queue"
	QueueDLQ    = "lifecycle.dlq.queue"

	RoutingOrphan = "lifecycle.orphan"
	RoutingDLQ    = "lifecycle.dlq"
)

// routingKey picks the queue a lifecycle event goes to.
func routingKey(kind model.LifecycleEventKind) (string, error) {
	switch kind {
	case model.EventOrphanedBlob:
		return RoutingOrphan, nil
	case model.EventDeletionExhausted:
		return RoutingDLQ, nil
	default:
		return "", fmt.Errorf("mq: unknown event kind %q", kind)
	}
}

type Client struct {
	url       string
	mu        sync.Mutex
	conn      *amqp.Connection //tcp
	channel   *amqp.Channel    // AMQP
	publishMu sync.Mutex
}

// Dial connects to RabbitMQ and declares the lifecycle topology.
func Dial(url string) (*Client, error) {
	c := &Client{url: url}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	c.conn = conn
	c.channel = ch
	return nil
}

// ensure reconnects when the connection or channel was closed underneath us.
func (c *Client) ensure() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c.channel, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		ExchangeLifecycle,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}
	for queue, key := range map[string]string{QueueOrphan: RoutingOrphan, QueueDLQ: RoutingDLQ} {
		if _, err := ch.QueueDeclare(
			queue,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return err
		}
		if err := ch.QueueBind(
			queue,
			key,
			ExchangeLifecycle,
			false,
			nil,
		); err != nil {
			return err
		}
	}
	return nil
}

// PublishEvent routes a lifecycle event to its durable queue.
func (c *Client) PublishEvent(ctx context.Context, ev model.LifecycleEvent) error {
	key, err := routingKey(ev.Kind)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ch, err := c.ensure()
	if err != nil {
		return err
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Type:         string(ev.Kind),
	}
	return ch.PublishWithContext(
		ctx,
		ExchangeLifecycle,
		key,
		false,
		false,
		msg,
	)
}

// Consume starts a manual-ack consumer on queue.
func (c *Client) Consume(queue string, prefetch int) (<-chan amqp.Delivery, error) {
	ch, err := c.ensure()
	if err != nil {
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	return ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
}
