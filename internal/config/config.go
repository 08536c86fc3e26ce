package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrConfiguration is returned when required settings are missing or invalid
var ErrConfiguration = errors.New("invalid configuration")

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Channel     ChannelConfig
	Retention   RetentionConfig
	Distributor DistributorConfig
	Classifier  ClassifierConfig
	SMTP        SMTPConfig
	LogLevel    string
}

type ServerConfig struct {
	Port         string
	Host         string
	HistoryLimit int
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RabbitMQConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
}

// ChannelConfig names the event channel every sensor message is published on
type ChannelConfig struct {
	Topic string
}

type RetentionConfig struct {
	PerKeyCap int64
	GlobalCap int64
}

type DistributorConfig struct {
	PrefetchCount          int
	MaxInFlight            int64
	DrainTimeout           time.Duration
	StoreTimeout           time.Duration
	SubscriberWriteTimeout time.Duration
}

type ClassifierConfig struct {
	ImageURL       string
	NumericURL     string
	Secret         string
	TimeoutSeconds int
	ThresholdsFile string
}

// SMTPConfig is optional; alerts are only logged when Host is empty
type SMTPConfig struct {
	Host     string
	Port     int
	Sender   string
	Password string
}

// Enabled reports whether alerts should be sent by e-mail
func (c *SMTPConfig) Enabled() bool {
	return c.Host != ""
}

func Load() (*Config, error) {
	var missing, invalid []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	positiveInt := func(key string, val string, def int64) int64 {
		if val == "" {
			return def
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil || n <= 0 {
			invalid = append(invalid, fmt.Sprintf("%s=%q", key, val))
			return def
		}
		return n
	}

	required := func(key string) int64 {
		return positiveInt(key, get(key), 0)
	}

	optional := func(key string, def int64) int64 {
		return positiveInt(key, os.Getenv(key), def)
	}

	seconds := func(key string, def int64) time.Duration {
		return time.Duration(optional(key, def)) * time.Second
	}

	config := &Config{
		Server: ServerConfig{
			Port:         get("SERVER_PORT"),
			Host:         get("SERVER_HOST"),
			HistoryLimit: int(optional("HISTORY_LIMIT", 1000)),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),

			MaxOpenConns:    int(optional("DB_MAX_OPEN_CONNS", 25)),
			MaxIdleConns:    int(optional("DB_MAX_IDLE_CONNS", 5)),
			ConnMaxLifetime: seconds("DB_CONN_MAX_LIFETIME_SECONDS", 300),
			ConnMaxIdleTime: seconds("DB_CONN_MAX_IDLE_SECONDS", 60),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      os.Getenv("RABBITMQ_URL"),
			Host:     get("RABBITMQ_HOST"),
			Port:     get("RABBITMQ_PORT"),
			User:     get("RABBITMQ_USER"),
			Password: get("RABBITMQ_PASSWORD"),
			VHost:    get("RABBITMQ_VHOST"),
		},
		Channel: ChannelConfig{
			Topic: get("CHANNEL_TOPIC"),
		},
		Retention: RetentionConfig{
			PerKeyCap: required("RETENTION_PER_KEY_CAP"),
			GlobalCap: required("RETENTION_GLOBAL_CAP"),
		},
		Distributor: DistributorConfig{
			PrefetchCount:          int(optional("DISTRIBUTOR_PREFETCH_COUNT", 50)),
			MaxInFlight:            optional("DISTRIBUTOR_MAX_INFLIGHT", 64),
			DrainTimeout:           seconds("DISTRIBUTOR_DRAIN_TIMEOUT_SECONDS", 10),
			StoreTimeout:           seconds("STORE_TIMEOUT_SECONDS", 10),
			SubscriberWriteTimeout: seconds("SUBSCRIBER_WRITE_TIMEOUT_SECONDS", 5),
		},
		Classifier: ClassifierConfig{
			ImageURL:       os.Getenv("IMAGE_CLASSIFIER_URL"),
			NumericURL:     os.Getenv("NUMERIC_CLASSIFIER_URL"),
			Secret:         os.Getenv("CLASSIFIER_SECRET"),
			TimeoutSeconds: int(optional("CLASSIFIER_TIMEOUT_SECONDS", 10)),
			ThresholdsFile: os.Getenv("NUMERIC_THRESHOLDS_FILE"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     int(optional("SMTP_PORT", 587)),
			Sender:   os.Getenv("SMTP_SENDER"),
			Password: os.Getenv("SMTP_PASSWORD"),
		},
		LogLevel: os.Getenv("LOG_LEVEL"),
	}

	if config.SMTP.Enabled() && config.SMTP.Sender == "" {
		missing = append(missing, "SMTP_SENDER")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required environment variables: %v", ErrConfiguration, missing)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: expected positive integers: %v", ErrConfiguration, invalid)
	}

	return config, nil
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// MigrationURL returns the postgres:// URL golang-migrate expects
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
