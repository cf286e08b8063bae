// Package dispatch drains pending alerts into the delivery queue and
// composes periodic digests.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"billtracker/internal/domain"
	"billtracker/internal/usecase/dedup"
)

// Config holds delivery tunables.
type Config struct {
	// PendingBatch caps how many pending alerts one cycle drains.
	PendingBatch int
	// DigestLookback is the window daily digests cover.
	DigestLookback time.Duration
	// WeeklyLookback is the window weekly summaries cover.
	WeeklyLookback time.Duration
	// MinGroupSize is the smallest similarity group worth a digest;
	// smaller groups go out as individual alerts.
	MinGroupSize int
}

// DefaultConfig returns the stock delivery tunables.
func DefaultConfig() Config {
	return Config{
		PendingBatch:   100,
		DigestLookback: 24 * time.Hour,
		WeeklyLookback: 168 * time.Hour,
		MinGroupSize:   2,
	}
}

// Report summarizes one delivery cycle.
type Report struct {
	Dispatched int
	Digests    int
	Failed     int
	Skipped    int
}

// Service moves alerts from the store into the delivery queue.
type Service struct {
	alerts     domain.AlertRepo
	users      domain.UserRepo
	bills      domain.BillRepo
	dispatcher domain.Dispatcher
	dedup      *dedup.Engine
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

// NewService creates the delivery service.
func NewService(alerts domain.AlertRepo, users domain.UserRepo, bills domain.BillRepo, dispatcher domain.Dispatcher, dedupEngine *dedup.Engine, cfg Config, logger zerolog.Logger) *Service {
	if cfg.PendingBatch == 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		alerts:     alerts,
		users:      users,
		bills:      bills,
		dispatcher: dispatcher,
		dedup:      dedupEngine,
		cfg:        cfg,
		log:        logger,
		now:        time.Now,
	}
}

// ProcessPending drains up to PendingBatch unsent alerts into the queue and
// marks the successfully queued ones as sent. Alerts for inactive users are
// skipped but left pending so a reactivated user still gets them.
func (s *Service) ProcessPending(ctx context.Context) (Report, error) {
	var report Report

	pending, err := s.alerts.ListPendingAlerts(ctx, s.cfg.PendingBatch)
	if err != nil {
		return report, fmt.Errorf("list pending alerts: %w", err)
	}
	if len(pending) == 0 {
		return report, nil
	}

	active, err := s.activeUsers(ctx)
	if err != nil {
		return report, err
	}

	for _, alert := range pending {
		user, ok := active[alert.UserID]
		if !ok {
			report.Skipped++
			continue
		}
		bill, err := s.bills.GetBill(ctx, alert.BillID)
		if err != nil {
			report.Failed++
			s.log.Warn().Err(err).Int64("alert_id", alert.ID).Int64("bill_id", alert.BillID).Msg("load bill for dispatch failed")
			continue
		}
		res, err := s.dispatcher.Send(ctx, alert, user, bill)
		if err != nil || !res.Success {
			report.Failed++
			s.log.Warn().Err(err).Int64("alert_id", alert.ID).Msg("dispatch failed, alert stays pending")
			continue
		}
		if err := s.alerts.MarkSent(ctx, alert.ID, s.now().UTC()); err != nil {
			report.Failed++
			s.log.Error().Err(err).Int64("alert_id", alert.ID).Msg("mark sent failed")
			continue
		}
		report.Dispatched++
	}

	s.log.Info().
		Int("dispatched", report.Dispatched).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("pending alerts processed")
	return report, nil
}

// DailyDigests groups each user's recent similar alerts and queues one digest
// per group of MinGroupSize or more. Grouped alerts are marked sent so the
// pending drain does not re-deliver them individually.
func (s *Service) DailyDigests(ctx context.Context) (Report, error) {
	return s.digests(ctx, s.cfg.DigestLookback, true)
}

// WeeklySummaries queues a summary digest per similarity group over the weekly
// window. Already-sent alerts are included for recap; nothing is re-marked.
func (s *Service) WeeklySummaries(ctx context.Context) (Report, error) {
	return s.digests(ctx, s.cfg.WeeklyLookback, false)
}

func (s *Service) digests(ctx context.Context, lookback time.Duration, markSent bool) (Report, error) {
	var report Report

	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		return report, fmt.Errorf("list active users: %w", err)
	}
	for _, user := range users {
		groups, err := s.dedup.GroupSimilar(ctx, user.ID, lookback)
		if err != nil {
			report.Failed++
			s.log.Warn().Err(err).Int64("user_id", user.ID).Msg("group alerts for digest failed")
			continue
		}
		for _, group := range groups {
			if group.TotalCount < s.cfg.MinGroupSize {
				report.Skipped++
				continue
			}
			res, err := s.dispatcher.SendDigest(ctx, user, group)
			if err != nil || !res.Success {
				report.Failed++
				s.log.Warn().Err(err).Int64("user_id", user.ID).Str("theme", group.CommonTheme).Msg("digest dispatch failed")
				continue
			}
			report.Digests++
			if !markSent {
				continue
			}
			for _, id := range append([]int64{group.RepresentativeID}, group.SimilarIDs...) {
				if err := s.alerts.MarkSent(ctx, id, s.now().UTC()); err != nil {
					s.log.Error().Err(err).Int64("alert_id", id).Msg("mark digest member sent failed")
				}
			}
		}
	}

	s.log.Info().
		Int("digests", report.Digests).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("lookback", lookback).
		Msg("digest cycle finished")
	return report, nil
}

func (s *Service) activeUsers(ctx context.Context) (map[int64]domain.User, error) {
	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	byID := make(map[int64]domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}
