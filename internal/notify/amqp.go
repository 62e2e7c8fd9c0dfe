package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"uyim.org/internal/obs"
)

// QueuePublisher pushes notifications to a durable RabbitMQ queue for
// out-of-process consumers (mail, push). It reconnects lazily and never
// panics; any error is logged and returned so callers can ignore it.
type QueuePublisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewQueuePublisher(url, queue string) *QueuePublisher {
	if queue == "" {
		queue = "occupancy.notifications"
	}
	return &QueuePublisher{url: url, queue: queue}
}

func (p *QueuePublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	// Idempotent declare; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

// Publish sends one notification as a persistent JSON message.
func (p *QueuePublisher) Publish(ctx context.Context, body any) error {
	ch, err := p.channel()
	if err != nil {
		obs.Logger().Printf(`{"level":"warn","msg":"amqp connect failed","error":%q}`, err.Error())
		return err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         data,
	})
	if err != nil {
		obs.Logger().Printf(`{"level":"warn","msg":"amqp publish failed","error":%q}`, err.Error())
		p.reset()
	}
	return err
}

func (p *QueuePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close tears down the connection.
func (p *QueuePublisher) Close() {
	p.reset()
}
