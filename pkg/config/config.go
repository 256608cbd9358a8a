package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Generator GeneratorConfig `mapstructure:"generator"`
}

type AppConfig struct {
	Env string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`    // debug, info, warn, error
	Encoding string `mapstructure:"encoding"` // json or console
}

type KafkaConfig struct {
	Brokers    []string      `mapstructure:"brokers"`
	Topic      string        `mapstructure:"topic"`
	GroupID    string        `mapstructure:"group_id"`
	Partitions int           `mapstructure:"partitions"`
	MinBytes   int           `mapstructure:"min_bytes"`
	MaxBytes   int           `mapstructure:"max_bytes"`
	MaxWait    time.Duration `mapstructure:"max_wait"`
}

// EngineConfig tunes the VWAP accumulators and the ingestion loop
type EngineConfig struct {
	WindowSize    int           `mapstructure:"window_size"`
	ResyncEvery   int           `mapstructure:"resync_every"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// GatewayConfig covers the subscriber-facing listeners
type GatewayConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"` // raw TCP, newline-delimited JSON
	HTTPAddr     string        `mapstructure:"http_addr"`   // websocket + status, empty disables
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
}

type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// GeneratorConfig drives the synthetic feed in cmd/generator
type GeneratorConfig struct {
	Symbols   []string      `mapstructure:"symbols"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// LoadConfig reads configuration from .env file, an optional config.yml, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// .env goes into the process environment so KAFKA_BROKERS etc. resolve like real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	}

	// "kafka.group_id" -> "KAFKA_GROUP_ID"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env vars for keys viper already knows about
	bindEnv(v, "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.partitions",
		"kafka.min_bytes", "kafka.max_bytes", "kafka.max_wait")
	bindEnv(v, "engine.window_size", "engine.resync_every", "engine.retry_interval")
	bindEnv(v, "gateway.listen_addr", "gateway.http_addr", "gateway.write_timeout",
		"gateway.send_buffer", "gateway.ping_period")
	bindEnv(v, "redis.enabled", "redis.addr", "redis.password", "redis.db", "redis.channel_prefix")
	bindEnv(v, "generator.symbols", "generator.interval", "generator.batch_size")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_trades")
	v.SetDefault("kafka.group_id", "vwap-engine-group")
	v.SetDefault("kafka.partitions", 1)
	v.SetDefault("kafka.min_bytes", 1)
	v.SetDefault("kafka.max_bytes", 10_000_000)
	v.SetDefault("kafka.max_wait", 200*time.Millisecond)

	v.SetDefault("engine.window_size", 50)
	v.SetDefault("engine.resync_every", 4096)
	v.SetDefault("engine.retry_interval", 2*time.Second)

	v.SetDefault("gateway.listen_addr", ":8888")
	v.SetDefault("gateway.http_addr", ":8080")
	v.SetDefault("gateway.write_timeout", 5*time.Second)
	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.ping_period", 50*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "vwap.")

	v.SetDefault("generator.symbols", []string{"AAPL", "GOOG", "TSLA", "AMZN"})
	v.SetDefault("generator.interval", 100*time.Millisecond)
	v.SetDefault("generator.batch_size", 5)
}

// Validate rejects configurations no service could start with
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic cannot be empty")
	}
	if c.Engine.WindowSize <= 0 {
		return fmt.Errorf("engine window size must be positive, got %d", c.Engine.WindowSize)
	}
	if c.Engine.RetryInterval <= 0 {
		return fmt.Errorf("engine retry interval must be positive, got %s", c.Engine.RetryInterval)
	}
	if c.Gateway.ListenAddr == "" {
		return fmt.Errorf("gateway listen address cannot be empty")
	}
	if c.Gateway.SendBuffer <= 0 {
		return fmt.Errorf("gateway send buffer must be positive, got %d", c.Gateway.SendBuffer)
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
