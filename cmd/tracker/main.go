package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	classifieradapter "billtracker/internal/adapters/classifier"
	dispatchadapter "billtracker/internal/adapters/dispatch"
	"billtracker/internal/adapters/repo"
	"billtracker/internal/adapters/snapshot"
	"billtracker/internal/domain"
	"billtracker/internal/infra/cache"
	"billtracker/internal/infra/config"
	"billtracker/internal/infra/db"
	httpinfra "billtracker/internal/infra/http"
	logpkg "billtracker/internal/infra/log"
	"billtracker/internal/infra/metrics"
	"billtracker/internal/infra/openai"
	"billtracker/internal/infra/queue"
	"billtracker/internal/usecase/classify"
	"billtracker/internal/usecase/dedup"
	"billtracker/internal/usecase/detect"
	"billtracker/internal/usecase/diff"
	"billtracker/internal/usecase/dispatch"
	"billtracker/internal/usecase/priority"
	"billtracker/internal/usecase/schedule"
	"billtracker/internal/usecase/stage"
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracker: database connection failed")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	snapshots := snapshot.NewRedis(redisClient, "", 0)
	guard := cache.NewRedis(redisClient)

	var alertQueue domain.AlertQueue
	switch cfg.Queue.Backend {
	case "rabbitmq":
		rabbit, err := queue.NewRabbitAlertQueue(cfg.Queue.AMQPURL, cfg.Queue.AlertKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("tracker: rabbitmq connection failed")
		}
		defer rabbit.Close()
		alertQueue = rabbit
	default:
		alertQueue = queue.NewRedisAlertQueue(redisClient, cfg.Queue.AlertKey)
	}
	dispatcher := dispatchadapter.NewQueue(alertQueue, logger.With().Str("component", "dispatcher").Logger())

	externalTimeout := time.Duration(cfg.OpenAI.Timeout) * time.Second
	var external domain.ChangeClassifier
	if cfg.OpenAI.APIKey != "" {
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, externalTimeout)
		external = classifieradapter.NewOpenAI(client, cfg.OpenAI.Model, externalTimeout)
	}

	classifyCfg := classify.DefaultConfig()
	classifyCfg.ExternalTimeout = externalTimeout
	classifier := classify.NewClassifier(external, classifyCfg, logger.With().Str("component", "classify").Logger())
	stages := stage.NewDetector(external, externalTimeout, logger.With().Str("component", "stage").Logger())

	dedupEngine := dedup.NewEngine(store, dedup.Config{
		SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		GroupThreshold:      cfg.Dedup.GroupThreshold,
		Window:              time.Duration(cfg.Dedup.WindowHours) * time.Hour,
		RecentLimit:         cfg.Dedup.RecentLimit,
		MaxSentSimilar:      cfg.Dedup.MaxSentSimilar,
		MinResendGap:        time.Duration(cfg.Dedup.MinResendGapMinutes) * time.Minute,
	}, logger.With().Str("component", "dedup").Logger())

	detector := detect.NewService(detect.Deps{
		Bills:       store,
		Users:       store,
		Preferences: store,
		Changes:     store,
		Transitions: store,
		Alerts:      store,
		Snapshots:   snapshots,
		Diff:        diff.NewEngine(),
		Classifier:  classifier,
		Stages:      stages,
		Dedup:       dedupEngine,
		Prioritizer: priority.NewPrioritizer(priority.DefaultWeights(), priority.DefaultThresholds()),
	}, detect.Config{Workers: cfg.Check.Workers}, logger.With().Str("component", "detect").Logger())

	delivery := dispatch.NewService(store, store, store, dispatcher, dedupEngine, dispatch.DefaultConfig(), logger.With().Str("component", "dispatch").Logger())

	scheduler := schedule.NewScheduler(schedule.Config{MaxErrors: cfg.Schedule.MaxErrors}, logger.With().Str("component", "schedule").Logger())
	registerTasks(cfg, scheduler, detector, delivery, dedupEngine, store, guard, logger)

	scheduler.Start(ctx)
	defer scheduler.Stop()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	control := httpinfra.NewServer(logger, scheduler, detector)
	go func() {
		if err := control.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("tracker: control server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("tracker: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := control.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracker: control server shutdown failed")
	}
}

func registerTasks(
	cfg config.AppConfig,
	scheduler *schedule.Scheduler,
	detector *detect.Service,
	delivery *dispatch.Service,
	dedupEngine *dedup.Engine,
	changes domain.ChangeRepo,
	guard *cache.RedisCache,
	logger zerolog.Logger,
) {
	checkInterval := time.Duration(cfg.Schedule.ChangeCheckHours) * time.Hour
	scheduler.Register("change_detection", checkInterval, func(ctx context.Context) error {
		// the once-guard keeps a second instance from rechecking the same window
		return guard.Once("billtracker:task:change_detection", checkInterval-time.Minute, func() error {
			_, err := detector.RunCheck(ctx, cfg.Check.BillLimit)
			return err
		})
	})

	scheduler.Register("alert_dispatch", time.Duration(cfg.Schedule.AlertDispatchHours)*time.Hour, func(ctx context.Context) error {
		_, err := delivery.ProcessPending(ctx)
		return err
	})

	scheduler.Register("daily_digest", time.Duration(cfg.Schedule.DailyDigestHours)*time.Hour, func(ctx context.Context) error {
		_, err := delivery.DailyDigests(ctx)
		return err
	})

	scheduler.Register("weekly_summary", time.Duration(cfg.Schedule.WeeklySummaryHours)*time.Hour, func(ctx context.Context) error {
		_, err := delivery.WeeklySummaries(ctx)
		return err
	})

	scheduler.Register("cleanup", time.Duration(cfg.Schedule.CleanupHours)*time.Hour, func(ctx context.Context) error {
		if _, err := dedupEngine.Cleanup(ctx, time.Duration(cfg.Retention.DismissedAlertDays)*24*time.Hour); err != nil {
			return err
		}
		before := time.Now().UTC().AddDate(0, 0, -cfg.Retention.MinorChangeDays)
		deleted, err := changes.PurgeMinorChanges(ctx, before)
		if err != nil {
			return err
		}
		logger.Info().Int64("minor_changes_deleted", deleted).Msg("cleanup finished")
		return nil
	})

	scheduler.Register("health_check", time.Duration(cfg.Schedule.HealthCheckMinutes)*time.Minute, func(ctx context.Context) error {
		status := scheduler.Status()
		disabled := 0
		for _, t := range status.Tasks {
			if !t.Enabled {
				disabled++
			}
		}
		logger.Info().
			Int("tasks", len(status.Tasks)).
			Int("disabled", disabled).
			Int("total_runs", status.TotalRuns).
			Int("total_errors", status.TotalErrors).
			Msg("scheduler health")
		return nil
	})
}
