package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// The agent runs next to the employee's device. Every setting comes from the
// environment so the same binary serves a laptop, a kiosk or a container.

type Config struct {
	IsLocalDev bool `mapstructure:"LOCAL_DEV"`

	ServerPort string `mapstructure:"SERVER_PORT"`

	// Persistent store backing the token, the dedup lock and the daily marker.
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	StorePath   string `mapstructure:"STORE_PATH"`

	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`

	BackendURL         string        `mapstructure:"BACKEND_URL"`
	GatewayTimeout     time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	GatewayMaxAttempts uint          `mapstructure:"GATEWAY_MAX_ATTEMPTS"`

	TimeZone            string        `mapstructure:"TIME_ZONE"`
	LockTTL             time.Duration `mapstructure:"LOCK_TTL"`
	PollingInterval     time.Duration `mapstructure:"POLLING_INTERVAL"`
	PollingJitter       time.Duration `mapstructure:"POLLING_JITTER"`
	ExecutionBudget     time.Duration `mapstructure:"EXECUTION_BUDGET"`
	BackgroundFetchDeny bool          `mapstructure:"BACKGROUND_FETCH_DENIED"`

	AWSRegion               string `mapstructure:"AWS_REGION"`
	AWSEndpoint             string `mapstructure:"AWS_ENDPOINT"`
	NotificationSQSQueueURL string `mapstructure:"NOTIFICATION_SQS_QUEUE_URL"`
	AlertSQSQueueURL        string `mapstructure:"ALERT_SQS_QUEUE_URL"`
	AlertsEnabled           bool   `mapstructure:"ALERTS_ENABLED"`
	AlertSender             string `mapstructure:"ALERT_SENDER"`
	AlertRecipient          string `mapstructure:"ALERT_RECIPIENT"`

	// AgentURL is where workers reach the agent's device bridge.
	AgentURL string `mapstructure:"AGENT_URL"`

	TracingEndpoint string `mapstructure:"TRACING_ENDPOINT"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	v := viper.New()
	v.SetDefault("LOCAL_DEV", false)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("STORE_DRIVER", "bolt")
	v.SetDefault("STORE_PATH", "./data")
	v.SetDefault("DB_HOST", "db")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "attendance_db")
	v.SetDefault("BACKEND_URL", "http://localhost:8081")
	v.SetDefault("GATEWAY_TIMEOUT", 10*time.Second)
	v.SetDefault("GATEWAY_MAX_ATTEMPTS", 3)
	v.SetDefault("TIME_ZONE", "Local")
	v.SetDefault("LOCK_TTL", 60*time.Second)
	v.SetDefault("POLLING_INTERVAL", 15*time.Minute)
	v.SetDefault("POLLING_JITTER", time.Minute)
	v.SetDefault("EXECUTION_BUDGET", 30*time.Second)
	v.SetDefault("BACKGROUND_FETCH_DENIED", false)
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_ENDPOINT", "http://localstack:4566")
	v.SetDefault("NOTIFICATION_SQS_QUEUE_URL", "http://localstack:4566/000000000000/notification-queue")
	v.SetDefault("ALERT_SQS_QUEUE_URL", "http://localstack:4566/000000000000/alert-queue")
	v.SetDefault("ALERTS_ENABLED", false)
	v.SetDefault("ALERT_SENDER", "attendance@attendance-agent.local")
	v.SetDefault("ALERT_RECIPIENT", "")
	v.SetDefault("AGENT_URL", "http://localhost:8080")
	v.SetDefault("TRACING_ENDPOINT", "jaeger:4317")

	// Read in environment variables that match the keys.
	v.AutomaticEnv()

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

// Validate rejects settings the agent cannot run with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case "bolt", "file", "postgres":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
	}
	if c.ExecutionBudget <= 0 || c.ExecutionBudget >= c.LockTTL {
		return fmt.Errorf("EXECUTION_BUDGET must be positive and shorter than LOCK_TTL (%s), got %s", c.LockTTL, c.ExecutionBudget)
	}
	if c.GatewayMaxAttempts == 0 {
		return fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TIME_ZONE. Calendar days and working hours are evaluated in it.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
