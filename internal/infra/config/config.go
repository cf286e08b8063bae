package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig describes the service configuration.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`
	Port   int    `envconfig:"PORT" default:"8080"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	OpenAI struct {
		APIKey  string `envconfig:"OPENAI_API_KEY"`
		BaseURL string `envconfig:"OPENAI_BASE_URL"`
		Model   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout int    `envconfig:"OPENAI_TIMEOUT_SECONDS" default:"15"`
	} `envconfig:""`

	Queue struct {
		Backend  string `envconfig:"QUEUE_BACKEND" default:"redis"`
		AMQPURL  string `envconfig:"AMQP_URL"`
		AlertKey string `envconfig:"ALERT_QUEUE_KEY" default:"alert_dispatch_jobs"`
	} `envconfig:""`

	Check struct {
		Workers   int `envconfig:"CHECK_WORKERS" default:"4"`
		BillLimit int `envconfig:"CHECK_BILL_LIMIT" default:"0"`
	} `envconfig:""`

	Dedup struct {
		SimilarityThreshold float64 `envconfig:"DEDUP_SIMILARITY_THRESHOLD" default:"0.75"`
		GroupThreshold      float64 `envconfig:"DEDUP_GROUP_THRESHOLD" default:"0.6"`
		WindowHours         int     `envconfig:"DEDUP_WINDOW_HOURS" default:"24"`
		RecentLimit         int     `envconfig:"DEDUP_RECENT_LIMIT" default:"20"`
		MaxSentSimilar      int     `envconfig:"DEDUP_MAX_SENT_SIMILAR" default:"3"`
		MinResendGapMinutes int     `envconfig:"DEDUP_MIN_RESEND_GAP_MINUTES" default:"60"`
	} `envconfig:""`

	Schedule struct {
		ChangeCheckHours   int `envconfig:"SCHEDULE_CHANGE_CHECK_HOURS" default:"4"`
		AlertDispatchHours int `envconfig:"SCHEDULE_ALERT_DISPATCH_HOURS" default:"1"`
		DailyDigestHours   int `envconfig:"SCHEDULE_DAILY_DIGEST_HOURS" default:"24"`
		WeeklySummaryHours int `envconfig:"SCHEDULE_WEEKLY_SUMMARY_HOURS" default:"168"`
		CleanupHours       int `envconfig:"SCHEDULE_CLEANUP_HOURS" default:"24"`
		HealthCheckMinutes int `envconfig:"SCHEDULE_HEALTH_CHECK_MINUTES" default:"30"`
		MaxErrors          int `envconfig:"SCHEDULE_MAX_ERRORS" default:"3"`
	} `envconfig:""`

	Retention struct {
		DismissedAlertDays int `envconfig:"RETENTION_DISMISSED_ALERT_DAYS" default:"30"`
		MinorChangeDays    int `envconfig:"RETENTION_MINOR_CHANGE_DAYS" default:"90"`
	} `envconfig:""`
}

// Load reads the config from the environment.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
