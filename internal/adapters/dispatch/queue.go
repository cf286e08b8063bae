// Package dispatch adapts the domain Dispatcher onto the alert queue.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"billtracker/internal/domain"
	"billtracker/internal/infra/metrics"
)

// Queue hands alerts to the external delivery worker by publishing
// dispatch jobs. Rendering and quiet hours live on the worker side.
type Queue struct {
	queue domain.AlertQueue
	log   zerolog.Logger
	now   func() time.Time
}

var _ domain.Dispatcher = (*Queue)(nil)

// NewQueue creates a queue-backed dispatcher.
func NewQueue(queue domain.AlertQueue, logger zerolog.Logger) *Queue {
	return &Queue{queue: queue, log: logger, now: time.Now}
}

// Send publishes a single-alert dispatch job.
func (q *Queue) Send(ctx context.Context, alert domain.Alert, user domain.User, bill domain.Bill) (domain.DispatchResult, error) {
	job := domain.DispatchJob{
		ID:       uuid.NewString(),
		Mode:     domain.DispatchModeSingle,
		UserID:   user.ID,
		AlertIDs: []int64{alert.ID},
		Queued:   q.now().UTC(),
	}
	err := q.queue.Enqueue(ctx, job)
	metrics.ObserveDispatchJob(string(domain.DispatchModeSingle), err)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("enqueue alert %d: %w", alert.ID, err)
	}
	q.log.Debug().
		Str("job_id", job.ID).
		Int64("alert_id", alert.ID).
		Int64("user_id", user.ID).
		Str("bill_number", bill.BillNumber).
		Msg("alert queued for delivery")
	return domain.DispatchResult{Success: true, Message: job.ID}, nil
}

// SendDigest publishes a digest dispatch job covering a similarity group.
func (q *Queue) SendDigest(ctx context.Context, user domain.User, group domain.AlertGroup) (domain.DispatchResult, error) {
	ids := make([]int64, 0, len(group.SimilarIDs)+1)
	ids = append(ids, group.RepresentativeID)
	ids = append(ids, group.SimilarIDs...)
	job := domain.DispatchJob{
		ID:       uuid.NewString(),
		Mode:     domain.DispatchModeDigest,
		UserID:   user.ID,
		AlertIDs: ids,
		Theme:    group.CommonTheme,
		Queued:   q.now().UTC(),
	}
	err := q.queue.Enqueue(ctx, job)
	metrics.ObserveDispatchJob(string(domain.DispatchModeDigest), err)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("enqueue digest for user %d: %w", user.ID, err)
	}
	q.log.Debug().
		Str("job_id", job.ID).
		Int64("user_id", user.ID).
		Int("alerts", len(ids)).
		Str("theme", group.CommonTheme).
		Msg("digest queued for delivery")
	return domain.DispatchResult{Success: true, Message: job.ID}, nil
}
