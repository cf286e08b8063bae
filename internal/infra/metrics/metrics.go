package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	BillsChecked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bills_checked_total",
		Help: "Bills processed by change detection runs",
	})
	ChangesDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "changes_detected_total",
		Help: "Detected bill changes by severity",
	}, []string{"severity"})
	StageTransitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stage_transitions_total",
		Help: "Detected bill stage transitions",
	})
	AlertsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_created_total",
		Help: "Alerts created by priority",
	}, []string{"priority"})
	AlertsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alerts_suppressed_total",
		Help: "Alert candidates suppressed by deduplication",
	})
	CheckRunSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "check_run_seconds",
		Help:    "Duration of full change detection runs",
		Buckets: prometheus.DefBuckets,
	})
	CheckErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "check_errors_total",
		Help: "Per-bill errors during change detection runs",
	})
	SchedulerTaskRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_task_runs_total",
		Help: "Scheduler task executions by outcome",
	}, []string{"task", "status"})
	DispatchJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_jobs_total",
		Help: "Dispatch jobs handed to the delivery queue",
	}, []string{"mode", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Duration of outbound network requests",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Count of outbound network requests",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Duration of LLM classification calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Tokens consumed by LLM classification calls",
	}, []string{"model", "type"})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		BillsChecked,
		ChangesDetected,
		StageTransitions,
		AlertsCreated,
		AlertsSuppressed,
		CheckRunSeconds,
		CheckErrors,
		SchedulerTaskRuns,
		DispatchJobsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer runs an HTTP server exposing /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest records duration and status of an outbound request.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration records duration and token usage of an LLM call.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveSchedulerTask records one scheduler task execution.
func ObserveSchedulerTask(task string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SchedulerTaskRuns.WithLabelValues(task, status).Inc()
}

// ObserveDispatchJob records one dispatch job handoff.
func ObserveDispatchJob(mode string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DispatchJobsTotal.WithLabelValues(mode, status).Inc()
}
