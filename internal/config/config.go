package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     string `validate:"required,numeric"`
	DBDriver string `validate:"oneof=sqlite mysql"`
	DBDSN    string `validate:"required"`
	LogFile  string
	LogLevel string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	SeedDemo bool

	QuotaBackend      string `validate:"oneof=db redis"`
	DailyProductLimit int    `validate:"gte=1"`

	QueueBackend      string        `validate:"oneof=memory pubsub"`
	QueueSize         int           `validate:"gte=1"`
	WorkerConcurrency int           `validate:"gte=1"`
	WorkerRPS         float64       `validate:"gte=0"`
	LockTTL           time.Duration `validate:"gte=1s"`

	RedisAddr     string `validate:"required_if=QuotaBackend redis"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	PubSubProjectID       string `validate:"required_if=QueueBackend pubsub"`
	PubSubCredentialsJSON string
	PubSubTopic           string `validate:"required_if=QueueBackend pubsub"`
	PubSubSubscription    string `validate:"required_if=QueueBackend pubsub"`
	PubSubCreateTopic     bool
}

var validate = validator.New()

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:     getenv("PORT", "8080"),
		DBDriver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBDSN:    getenv("DB_DSN", "gumroad.db"),
		LogFile:  os.Getenv("LOG_FILE"),
		LogLevel: strings.ToLower(getenv("LOG_LEVEL", "info")),
		SeedDemo: envBool("SEED_DEMO", false),

		QuotaBackend:      strings.ToLower(getenv("QUOTA_BACKEND", "db")),
		DailyProductLimit: envInt("PRODUCT_CREATION_DAILY_LIMIT", 10),

		QueueBackend:      strings.ToLower(getenv("QUEUE_BACKEND", "memory")),
		QueueSize:         envInt("QUEUE_SIZE", 256),
		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 4),
		WorkerRPS:         envFloat("WORKER_RPS", 10),
		LockTTL:           envDuration("LOCK_TTL", 2*time.Minute),

		RedisAddr:     os.Getenv("REDIS_ADDRESS"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		PubSubProjectID:       pubSubProjectID(),
		PubSubCredentialsJSON: os.Getenv("PUBSUB_CREDENTIALS_JSON"),
		PubSubTopic:           getenv("PUBSUB_TOPIC", "duplicate-product"),
		PubSubSubscription:    getenv("PUBSUB_SUBSCRIPTION", "duplicate-product-worker"),
		PubSubCreateTopic:     envBool("PUBSUB_CREATE_TOPIC", false),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func pubSubProjectID() string {
	for _, k := range []string{"PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return d
}
