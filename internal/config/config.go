package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DbConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type GraderConfig struct {
	WorkspaceRoot string
	// RunTimeLimitSeconds bounds every test case of run mode.
	RunTimeLimitSeconds float64
	// RunMaxTestCases caps the test cases of one run request so the whole
	// run fits within the server's write timeout.
	RunMaxTestCases         int
	DefaultTimeLimitSeconds float64
	OutputCapBytes          int
	WorkerCount             int
	QueueCapacity           int
	PullImages              bool
	RuntimesFile            string
}

type QueueConfig struct {
	// AMQPURL is empty when the AMQP consumer is disabled.
	AMQPURL   string
	QueueName string
	// DeliveryLimit is how often a request is delivered before it is
	// dead-lettered.
	DeliveryLimit     int
	RetryDelaySeconds float64
}

type LogConfig struct {
	Level string
}

type Config struct {
	Server ServerConfig
	Db     DbConfig
	Grader GraderConfig
	Queue  QueueConfig
	Log    LogConfig
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var r reader
	conf := &Config{
		Server: ServerConfig{
			Port:         r.str("PORT", "8080"),
			ReadTimeout:  r.integer("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: r.integer("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  r.integer("SERVER_IDLE_TIMEOUT", 120),
		},
		Db: DbConfig{
			Host:     r.str("DB_HOST", "localhost"),
			Port:     r.integer("DB_PORT", 5432),
			User:     r.str("DB_USER", "postgres"),
			Password: r.str("DB_PASSWORD", ""),
			Name:     r.str("DB_NAME", "gradebox"),
			SSLMode:  r.str("DB_SSLMODE", "disable"),
		},
		Grader: GraderConfig{
			WorkspaceRoot:           r.str("WORKSPACE_ROOT", os.TempDir()),
			RunTimeLimitSeconds:     r.float("RUN_TIME_LIMIT_SECONDS", 10),
			RunMaxTestCases:         r.integer("RUN_MAX_TEST_CASES", 5),
			DefaultTimeLimitSeconds: r.float("DEFAULT_TIME_LIMIT_SECONDS", 1),
			OutputCapBytes:          r.integer("OUTPUT_CAP_BYTES", 2<<20),
			WorkerCount:             r.integer("WORKER_COUNT", 5),
			QueueCapacity:           r.integer("QUEUE_CAPACITY", 100),
			PullImages:              r.boolean("PULL_IMAGES", false),
			RuntimesFile:            r.str("RUNTIMES_FILE", ""),
		},
		Queue: QueueConfig{
			AMQPURL:           r.str("AMQP_URL", ""),
			QueueName:         r.str("QUEUE_NAME", "grading_queue"),
			DeliveryLimit:     r.integer("AMQP_DELIVERY_LIMIT", 5),
			RetryDelaySeconds: r.float("AMQP_RETRY_DELAY_SECONDS", 2),
		},
		Log: LogConfig{
			Level: r.str("LOG_LEVEL", "info"),
		},
	}

	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.Grader.RunTimeLimitSeconds <= 0 {
		errs = append(errs, errors.New("RUN_TIME_LIMIT_SECONDS must be positive"))
	}
	if c.Grader.RunMaxTestCases < 1 {
		errs = append(errs, errors.New("RUN_MAX_TEST_CASES must be at least 1"))
	} else if budget := float64(c.Grader.RunMaxTestCases) * c.Grader.RunTimeLimitSeconds; budget >= float64(c.Server.WriteTimeout) {
		errs = append(errs, fmt.Errorf("RUN_MAX_TEST_CASES x RUN_TIME_LIMIT_SECONDS (%gs) must stay below SERVER_WRITE_TIMEOUT (%ds)",
			budget, c.Server.WriteTimeout))
	}
	if c.Grader.DefaultTimeLimitSeconds <= 0 {
		errs = append(errs, errors.New("DEFAULT_TIME_LIMIT_SECONDS must be positive"))
	}
	if c.Grader.OutputCapBytes < 64 {
		errs = append(errs, errors.New("OUTPUT_CAP_BYTES must be at least 64"))
	}
	if c.Grader.WorkerCount < 1 {
		errs = append(errs, errors.New("WORKER_COUNT must be at least 1"))
	}
	if c.Grader.QueueCapacity < 1 {
		errs = append(errs, errors.New("QUEUE_CAPACITY must be at least 1"))
	}
	if c.Queue.AMQPURL != "" && c.Queue.QueueName == "" {
		errs = append(errs, errors.New("QUEUE_NAME must be set when AMQP_URL is"))
	}
	if c.Queue.DeliveryLimit < 1 {
		errs = append(errs, errors.New("AMQP_DELIVERY_LIMIT must be at least 1"))
	}
	if c.Queue.RetryDelaySeconds <= 0 {
		errs = append(errs, errors.New("AMQP_RETRY_DELAY_SECONDS must be positive"))
	}
	return errors.Join(errs...)
}

// reader collects parse errors so one bad variable does not hide another.
type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return f
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return b
}
