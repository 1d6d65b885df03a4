// Package config loads server settings from defaults, an optional config.yaml, an
// optional .env file and BATTLE_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/DoyleJ11/byte-battle-backend/internal/battle"
	"github.com/DoyleJ11/byte-battle-backend/internal/judge"
)

type Config struct {
	HTTP     HTTPConfig
	Battle   BattleConfig
	Liveness LivenessConfig
	Judge    JudgeConfig
	Redis    RedisConfig
	DB       DBConfig
	LogDev   bool `mapstructure:"log_dev"`
}

type HTTPConfig struct {
	Addr           string
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	OriginPatterns []string      `mapstructure:"origin_patterns"`
}

type BattleConfig struct {
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	MinDuration     time.Duration `mapstructure:"min_duration"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
	ChatLimit       int           `mapstructure:"chat_limit"`
}

type LivenessConfig struct {
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	GraceWindow       time.Duration `mapstructure:"grace_window"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

type JudgeConfig struct {
	URL            string
	Timeout        time.Duration
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type DBConfig struct {
	DSN string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 60*time.Second)
	v.SetDefault("http.write_timeout", 3*time.Second)
	v.SetDefault("http.origin_patterns", []string{})

	v.SetDefault("battle.default_duration", 10*time.Minute)
	v.SetDefault("battle.min_duration", 30*time.Second)
	v.SetDefault("battle.max_duration", time.Hour)
	v.SetDefault("battle.chat_limit", 100)

	v.SetDefault("liveness.keepalive_interval", 10*time.Second)
	v.SetDefault("liveness.heartbeat_timeout", 30*time.Second)
	v.SetDefault("liveness.grace_window", 2*time.Minute)
	v.SetDefault("liveness.sweep_interval", 5*time.Second)

	v.SetDefault("judge.url", "")
	v.SetDefault("judge.timeout", 10*time.Second)
	v.SetDefault("judge.max_attempts", 3)
	v.SetDefault("judge.initial_backoff", 500*time.Millisecond)
	v.SetDefault("judge.max_backoff", 5*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.session_ttl", 24*time.Hour)

	v.SetDefault("db.dsn", "")
	v.SetDefault("log_dev", false)
}

// Load reads configuration. dir is searched for config.yaml and .env; both are optional.
func Load(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix("BATTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	l := c.Liveness
	switch {
	case l.KeepaliveInterval <= 0 || l.SweepInterval <= 0:
		return errors.New("config: keepalive and sweep intervals must be positive")
	case l.HeartbeatTimeout <= l.KeepaliveInterval:
		return fmt.Errorf("config: heartbeat timeout %s must exceed keepalive interval %s",
			l.HeartbeatTimeout, l.KeepaliveInterval)
	case l.GraceWindow <= l.HeartbeatTimeout:
		return fmt.Errorf("config: grace window %s must exceed heartbeat timeout %s",
			l.GraceWindow, l.HeartbeatTimeout)
	case c.HTTP.ReadTimeout <= l.KeepaliveInterval:
		// an idle but healthy client would be cut off between heartbeats
		return fmt.Errorf("config: http read timeout %s must exceed keepalive interval %s",
			c.HTTP.ReadTimeout, l.KeepaliveInterval)
	}
	b := c.Battle
	if b.MinDuration <= 0 || b.MinDuration > b.MaxDuration ||
		b.DefaultDuration < b.MinDuration || b.DefaultDuration > b.MaxDuration {
		return fmt.Errorf("config: round durations must satisfy 0 < min <= default <= max, got %s/%s/%s",
			b.MinDuration, b.DefaultDuration, b.MaxDuration)
	}
	if c.Judge.MaxAttempts < 1 {
		return errors.New("config: judge max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) Rules() battle.Rules {
	return battle.Rules{
		DefaultDuration:  c.Battle.DefaultDuration,
		MinDuration:      c.Battle.MinDuration,
		MaxDuration:      c.Battle.MaxDuration,
		HeartbeatTimeout: c.Liveness.HeartbeatTimeout,
		GraceWindow:      c.Liveness.GraceWindow,
		ChatLimit:        c.Battle.ChatLimit,
	}
}

func (c *Config) RetryPolicy() judge.RetryPolicy {
	return judge.RetryPolicy{
		MaxAttempts:    c.Judge.MaxAttempts,
		AttemptTimeout: c.Judge.Timeout,
		InitialBackoff: c.Judge.InitialBackoff,
		MaxBackoff:     c.Judge.MaxBackoff,
	}
}
