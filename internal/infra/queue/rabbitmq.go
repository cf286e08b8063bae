package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"billtracker/internal/domain"
	"billtracker/internal/infra/metrics"
)

// RabbitAlertQueue implements the dispatch queue on an AMQP broker.
// Jobs are published persistent to a durable queue; a nack requeues.
type RabbitAlertQueue struct {
	conn  *amqp.Connection
	pub   *amqp.Channel
	queue string

	deliveries <-chan amqp.Delivery
}

var _ domain.AlertQueue = (*RabbitAlertQueue)(nil)

// NewRabbitAlertQueue connects to the broker and declares the queue.
func NewRabbitAlertQueue(amqpURL, queue string) (*RabbitAlertQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitAlertQueue{conn: conn, pub: ch, queue: queue}, nil
}

// Enqueue publishes a dispatch job.
func (q *RabbitAlertQueue) Enqueue(ctx context.Context, job domain.DispatchJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive blocks until a job is delivered or the context ends.
func (q *RabbitAlertQueue) Receive(ctx context.Context) (domain.DispatchJob, domain.AlertQueueAckFunc, error) {
	if q.deliveries == nil {
		ch, err := q.conn.Channel()
		if err != nil {
			return domain.DispatchJob{}, nil, fmt.Errorf("open channel: %w", err)
		}
		if err := ch.Qos(1, 0, false); err != nil {
			ch.Close()
			return domain.DispatchJob{}, nil, fmt.Errorf("set qos: %w", err)
		}
		deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			ch.Close()
			return domain.DispatchJob{}, nil, fmt.Errorf("start consumer: %w", err)
		}
		q.deliveries = deliveries
	}

	select {
	case <-ctx.Done():
		return domain.DispatchJob{}, nil, ctx.Err()
	case delivery, ok := <-q.deliveries:
		if !ok {
			q.deliveries = nil
			return domain.DispatchJob{}, nil, errors.New("rabbitmq queue: consumer channel closed")
		}
		var job domain.DispatchJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			// poison message, drop it
			_ = delivery.Nack(false, false)
			return domain.DispatchJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return delivery.Ack(false)
			}
			return delivery.Nack(false, true)
		}
		return job, ack, nil
	}
}

// Close releases the broker connection.
func (q *RabbitAlertQueue) Close() error {
	return q.conn.Close()
}
