// Command checkonce runs a single change-detection cycle and prints the
// summary. Alerts are persisted but not dispatched; the tracker daemon
// drains them on its next cycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	classifieradapter "billtracker/internal/adapters/classifier"
	"billtracker/internal/adapters/repo"
	"billtracker/internal/adapters/snapshot"
	"billtracker/internal/domain"
	"billtracker/internal/infra/config"
	"billtracker/internal/infra/db"
	logpkg "billtracker/internal/infra/log"
	"billtracker/internal/infra/openai"
	"billtracker/internal/usecase/classify"
	"billtracker/internal/usecase/dedup"
	"billtracker/internal/usecase/detect"
	"billtracker/internal/usecase/diff"
	"billtracker/internal/usecase/priority"
	"billtracker/internal/usecase/stage"
)

func main() {
	limit := flag.Int("limit", 0, "max bills to check, 0 for all")
	flag.Parse()

	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("checkonce: database connection failed")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	snapshots := snapshot.NewRedis(redisClient, "", 0)

	externalTimeout := time.Duration(cfg.OpenAI.Timeout) * time.Second
	var external domain.ChangeClassifier
	if cfg.OpenAI.APIKey != "" {
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, externalTimeout)
		external = classifieradapter.NewOpenAI(client, cfg.OpenAI.Model, externalTimeout)
	}

	classifyCfg := classify.DefaultConfig()
	classifyCfg.ExternalTimeout = externalTimeout

	detector := detect.NewService(detect.Deps{
		Bills:       store,
		Users:       store,
		Preferences: store,
		Changes:     store,
		Transitions: store,
		Alerts:      store,
		Snapshots:   snapshots,
		Diff:        diff.NewEngine(),
		Classifier:  classify.NewClassifier(external, classifyCfg, logger),
		Stages:      stage.NewDetector(external, externalTimeout, logger),
		Dedup:       dedupEngine(cfg, store, logger),
		Prioritizer: priority.NewPrioritizer(priority.DefaultWeights(), priority.DefaultThresholds()),
	}, detect.Config{Workers: cfg.Check.Workers}, logger)

	result, err := detector.RunCheck(context.Background(), *limit)
	if err != nil {
		logger.Fatal().Err(err).Msg("checkonce: run failed")
	}

	fmt.Printf("run %s finished in %s\n", result.RunID, result.ProcessingTime.Round(time.Millisecond))
	fmt.Printf("  bills checked:     %d\n", result.BillsChecked)
	fmt.Printf("  changes detected:  %d\n", result.ChangesDetected)
	fmt.Printf("  stage transitions: %d\n", result.StageTransitions)
	fmt.Printf("  alerts created:    %d\n", result.AlertsCreated)
	fmt.Printf("  success rate:      %.0f%%\n", result.SuccessRate*100)
	if len(result.Errors) > 0 {
		fmt.Printf("  errors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("    - %s\n", e)
		}
		os.Exit(1)
	}
}

func dedupEngine(cfg config.AppConfig, store *repo.Postgres, logger zerolog.Logger) *dedup.Engine {
	return dedup.NewEngine(store, dedup.Config{
		SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		GroupThreshold:      cfg.Dedup.GroupThreshold,
		Window:              time.Duration(cfg.Dedup.WindowHours) * time.Hour,
		RecentLimit:         cfg.Dedup.RecentLimit,
		MaxSentSimilar:      cfg.Dedup.MaxSentSimilar,
		MinResendGap:        time.Duration(cfg.Dedup.MinResendGapMinutes) * time.Minute,
	}, logger)
}
