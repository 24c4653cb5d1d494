package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Kafka     KafkaConfig
	Logging   LoggingConfig
	Retry     RetryConfig
	Scheduler SchedulerConfig
	Processor ProcessorConfig
	Producer  ProducerConfig
	HTTP      HTTPConfig
}

type KafkaConfig struct {
	Brokers       []string
	FetchMinBytes int
	FetchMaxBytes int
	HealthPeriod  time.Duration
}

type LoggingConfig struct {
	Level string
}

// RetryConfig drives the retrier: it consumes failed messages, reschedules
// them and quarantines the ones that run out of attempts.
type RetryConfig struct {
	FailedTopic     string
	GroupID         string
	Workers         int
	MaxAttempts     int
	BackoffStep     time.Duration
	DeadLetterTopic string
	TargetTopic     string
	ExecutionRole   string
	// PassFailureTopic receives failed messages whose retry pass itself
	// failed, for another pass. Defaults to FailedTopic.
	PassFailureTopic string
	MaxDetailBytes   int
}

type SchedulerConfig struct {
	Backend      string // sqlite or redis
	SQLitePath   string
	RedisAddr    string
	RedisDB      int
	RedisPrefix  string
	PollInterval time.Duration
	ClaimBatch   int
	Lease        time.Duration
}

type ProcessorConfig struct {
	Topic           string
	GroupID         string
	Workers         int
	FailedTopic     string
	DeadLetterTopic string
	SimulateFailure bool
	HTTPAddr        string
}

type ProducerConfig struct {
	Acks       int
	Retries    int
	Idempotent bool
}

type HTTPConfig struct {
	Addr          string
	MetricsAPIKey string
}

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Warn(".env file not found, using environment only")
	}

	brokers := parseBrokers(getEnv("KAFKA_BROKERS", "localhost:9092"))
	failedTopic := getEnv("FAILED_TOPIC", "failed-messages")
	deadLetter := getEnv("FINAL_DLQ_TOPIC", "")

	maxAttempts, err := getEnvIntStrict("MAX_RETRY_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Kafka: KafkaConfig{
			Brokers:       brokers,
			FetchMinBytes: getEnvInt("KAFKA_FETCH_MIN_BYTES", 1),
			FetchMaxBytes: getEnvInt("KAFKA_FETCH_MAX_BYTES", 10485760),
			HealthPeriod:  getEnvDuration("KAFKA_HEALTH_PERIOD", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Retry: RetryConfig{
			FailedTopic:      failedTopic,
			GroupID:          getEnv("RETRY_GROUP_ID", "retrier-group"),
			Workers:          getEnvInt("RETRY_WORKERS", 5),
			MaxAttempts:      maxAttempts,
			BackoffStep:      getEnvDuration("RETRY_BACKOFF_STEP", 60*time.Second),
			DeadLetterTopic:  deadLetter,
			TargetTopic:      getEnv("RETRY_TARGET_TOPIC", ""),
			ExecutionRole:    getEnv("SCHEDULER_EXECUTION_ROLE", ""),
			PassFailureTopic: getEnv("RETRY_PASS_FAILURE_TOPIC", failedTopic),
			MaxDetailBytes:   getEnvInt("DLQ_MAX_DETAIL_BYTES", 4096),
		},
		Scheduler: SchedulerConfig{
			Backend:      strings.ToLower(getEnv("SCHEDULER_BACKEND", BackendSQLite)),
			SQLitePath:   getEnv("SCHEDULER_SQLITE_PATH", "schedules.db"),
			RedisAddr:    getEnv("SCHEDULER_REDIS_ADDR", "localhost:6379"),
			RedisDB:      getEnvInt("SCHEDULER_REDIS_DB", 0),
			RedisPrefix:  getEnv("SCHEDULER_REDIS_PREFIX", ""),
			PollInterval: getEnvDuration("SCHEDULER_POLL_INTERVAL", time.Second),
			ClaimBatch:   getEnvInt("SCHEDULER_CLAIM_BATCH", 100),
			Lease:        getEnvDuration("SCHEDULER_LEASE", time.Minute),
		},
		Processor: ProcessorConfig{
			Topic:           getEnv("PROCESSOR_TOPIC", "orders"),
			GroupID:         getEnv("PROCESSOR_GROUP_ID", "processor-group"),
			Workers:         getEnvInt("PROCESSOR_WORKERS", 5),
			FailedTopic:     getEnv("PROCESSOR_FAILED_TOPIC", failedTopic),
			DeadLetterTopic: getEnv("PROCESSOR_DLQ_TOPIC", deadLetter),
			SimulateFailure: getEnvBool("PROCESSOR_SIMULATE_FAILURE", false),
			HTTPAddr:        getEnv("PROCESSOR_HTTP_ADDR", ":8081"),
		},
		Producer: ProducerConfig{
			Acks:       parseAcks(getEnv("KAFKA_PRODUCER_ACKS", "all")),
			Retries:    getEnvInt("KAFKA_PRODUCER_RETRIES", 3),
			Idempotent: getEnvBool("KAFKA_PRODUCER_IDEMPOTENT", true),
		},
		HTTP: HTTPConfig{
			Addr:          getEnv("HTTP_ADDR", ":8080"),
			MetricsAPIKey: getEnv("METRICS_API_KEY", ""),
		},
	}

	return cfg, nil
}

// Validate checks the settings the retrier cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}
	if c.Retry.DeadLetterTopic == "" {
		errs = append(errs, errors.New("FINAL_DLQ_TOPIC is required"))
	}
	if c.Retry.TargetTopic == "" {
		errs = append(errs, errors.New("RETRY_TARGET_TOPIC is required"))
	}
	if c.Retry.ExecutionRole == "" {
		errs = append(errs, errors.New("SCHEDULER_EXECUTION_ROLE is required"))
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRY_ATTEMPTS must be positive, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.PassFailureTopic == "" {
		errs = append(errs, errors.New("RETRY_PASS_FAILURE_TOPIC is required"))
	}
	switch c.Scheduler.Backend {
	case BackendSQLite:
		if c.Scheduler.SQLitePath == "" {
			errs = append(errs, errors.New("SCHEDULER_SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.Scheduler.RedisAddr == "" {
			errs = append(errs, errors.New("SCHEDULER_REDIS_ADDR is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SCHEDULER_BACKEND %q", c.Scheduler.Backend))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvIntStrict is getEnvInt for settings where a typo must not fall back
// to the default.
func getEnvIntStrict(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return intValue, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func parseBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	result := make([]string, 0, len(parts))
	for _, broker := range parts {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseAcks(acks string) int {
	switch strings.ToLower(acks) {
	case "all", "-1":
		return -1
	case "0":
		return 0
	case "1":
		return 1
	default:
		return -1 // default to all
	}
}
