package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type APIConfig struct {
	BaseURL              string        `yaml:"base_url"`
	Timeout              time.Duration `yaml:"timeout"`
	RetryMaxTries        uint          `yaml:"retry_max_tries"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	RetryMaxElapsed      time.Duration `yaml:"retry_max_elapsed"`
}

type Config struct {
	TerminalID  string `yaml:"terminal_id"`
	ServiceName string `yaml:"service_name"`
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	Currency    string `yaml:"currency"`

	API           APIConfig     `yaml:"api"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`

	CartStore   string        `yaml:"cart_store"`
	CartTTL     time.Duration `yaml:"cart_ttl"`
	RedisAddr   string        `yaml:"redis_addr"`
	SharedLock  bool          `yaml:"shared_lock"`
	SalesStore  string        `yaml:"sales_store"`
	MySQLDSN    string        `yaml:"mysql_dsn"`
	PostgresDSN string        `yaml:"postgres_dsn"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	// ReceiptOutput is a file path receipts are appended to; "-" is stdout.
	ReceiptOutput string `yaml:"receipt_output"`
}

func Default() Config {
	return Config{
		TerminalID:    "till-1",
		ServiceName:   "pos-register",
		HTTPAddr:      ":8080",
		GRPCAddr:      ":50051",
		LogLevel:      "info",
		LogFormat:     "json",
		Currency:      "USD",
		SubmitTimeout: 15 * time.Second,
		API: APIConfig{
			BaseURL:              "http://127.0.0.1:8000",
			Timeout:              10 * time.Second,
			RetryMaxTries:        3,
			RetryInitialInterval: 200 * time.Millisecond,
			RetryMaxElapsed:      5 * time.Second,
		},
		CartStore:  StoreMemory,
		CartTTL:    12 * time.Hour,
		RedisAddr:  "localhost:6379",
		SalesStore: StoreMemory,
		MySQLDSN:   "root:root@tcp(localhost:3306)/posregister?parseTime=true",
		KafkaTopic: "pos.sale.completed",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// POS_CONFIG_FILE if set, and POS_* environment variables, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("POS_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) LoadFromEnv() error {
	setString(&c.TerminalID, "POS_TERMINAL_ID")
	setString(&c.ServiceName, "POS_SERVICE_NAME")
	setString(&c.HTTPAddr, "POS_HTTP_ADDR")
	setString(&c.GRPCAddr, "POS_GRPC_ADDR")
	setString(&c.LogLevel, "POS_LOG_LEVEL")
	setString(&c.LogFormat, "POS_LOG_FORMAT")
	setString(&c.Currency, "POS_CURRENCY")
	setString(&c.API.BaseURL, "POS_API_BASE_URL")
	setString(&c.CartStore, "POS_CART_STORE")
	setString(&c.RedisAddr, "POS_REDIS_ADDR")
	setString(&c.SalesStore, "POS_SALES_STORE")
	setString(&c.MySQLDSN, "POS_MYSQL_DSN")
	setString(&c.PostgresDSN, "POS_POSTGRES_DSN")
	setString(&c.KafkaTopic, "POS_KAFKA_TOPIC")
	setString(&c.ReceiptOutput, "POS_RECEIPT_OUTPUT")

	if v := os.Getenv("POS_KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitCSV(v)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"POS_API_TIMEOUT", &c.API.Timeout},
		{"POS_API_RETRY_INITIAL_INTERVAL", &c.API.RetryInitialInterval},
		{"POS_API_RETRY_MAX_ELAPSED", &c.API.RetryMaxElapsed},
		{"POS_SUBMIT_TIMEOUT", &c.SubmitTimeout},
		{"POS_CART_TTL", &c.CartTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", d.key, v, ErrInvalidConfig)
		}
		*d.dst = parsed
	}

	if v := os.Getenv("POS_API_RETRY_MAX_TRIES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("POS_API_RETRY_MAX_TRIES=%q: %w", v, ErrInvalidConfig)
		}
		c.API.RetryMaxTries = uint(n)
	}
	if v := os.Getenv("POS_SHARED_LOCK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("POS_SHARED_LOCK=%q: %w", v, ErrInvalidConfig)
		}
		c.SharedLock = b
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.TerminalID) == "" {
		errs = append(errs, errors.New("terminal_id is required"))
	}
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if _, err := currency.ParseISO(c.Currency); err != nil {
		errs = append(errs, fmt.Errorf("currency %q: %w", c.Currency, err))
	}
	if c.SubmitTimeout <= 0 {
		errs = append(errs, errors.New("submit_timeout must be positive"))
	}

	switch c.CartStore {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("cart_store %q: want memory or redis", c.CartStore))
	}
	switch c.SalesStore {
	case StoreMemory, StoreMySQL:
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required for the postgres sales store"))
		}
	default:
		errs = append(errs, fmt.Errorf("sales_store %q: want memory, mysql or postgres", c.SalesStore))
	}
	if c.SharedLock && c.CartStore != StoreRedis {
		errs = append(errs, errors.New("shared_lock needs cart_store redis"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// CurrencyUnit returns the validated currency.
func (c Config) CurrencyUnit() currency.Unit {
	unit, err := currency.ParseISO(c.Currency)
	if err != nil {
		return currency.USD
	}
	return unit
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
