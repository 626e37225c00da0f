package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Linker modes.
const (
	ModeStandalone = "standalone"
	ModeInstance   = "instance"
	ModeHost       = "host"
)

// Config holds the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Codec   CodecConfig   `yaml:"codec"`
	Linker  LinkerConfig  `yaml:"linker"`
	Match   MatchConfig   `yaml:"match"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// CodecConfig holds the battle frame key, hex encoded.
type CodecConfig struct {
	Key string `yaml:"key"`
}

type LinkerConfig struct {
	Mode              string        `yaml:"mode"`
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	InstanceID        string        `yaml:"instance_id"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ScoreInterval     time.Duration `yaml:"score_interval"`
	IdentifyTimeout   time.Duration `yaml:"identify_timeout"`
}

type MatchConfig struct {
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	File          string `yaml:"file"`
	IncludeCaller bool   `yaml:"include_caller"`
}

// Load reads the YAML file at path, if any, then applies defaults and
// environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	override := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override("HTTP_ADDR", &c.Server.HTTPAddr)
	override("REDIS_ADDR", &c.Redis.Addr)
	override("REDIS_PASSWORD", &c.Redis.Password)
	override("BATTLE_AES_KEY", &c.Codec.Key)
	override("BATTLE_JWT_SECRET", &c.Auth.JWTSecret)
	override("LINKER_MODE", &c.Linker.Mode)
	override("LINKER_URL", &c.Linker.URL)
	override("LINKER_TOKEN", &c.Linker.Token)
}

func (c *Config) setDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Auth.TokenDuration == 0 {
		c.Auth.TokenDuration = 24 * time.Hour
	}
	if c.Linker.Mode == "" {
		c.Linker.Mode = ModeStandalone
	}
	if c.Linker.HeartbeatInterval == 0 {
		c.Linker.HeartbeatInterval = 30 * time.Second
	}
	if c.Linker.ReconnectDelay == 0 {
		c.Linker.ReconnectDelay = 5 * time.Second
	}
	if c.Linker.ScoreInterval == 0 {
		c.Linker.ScoreInterval = 300 * time.Millisecond
	}
	if c.Linker.IdentifyTimeout == 0 {
		c.Linker.IdentifyTimeout = 10 * time.Second
	}
	if c.Match.LookupTimeout == 0 {
		c.Match.LookupTimeout = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	key, err := hex.DecodeString(c.Codec.Key)
	if err != nil {
		return fmt.Errorf("codec key: %w", err)
	}
	if len(key) != 16 {
		return fmt.Errorf("codec key must be 16 bytes, got %d", len(key))
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth jwt_secret is required")
	}
	switch c.Linker.Mode {
	case ModeStandalone:
	case ModeInstance:
		if c.Linker.URL == "" || c.Linker.Token == "" {
			return errors.New("instance mode needs linker url and token")
		}
	case ModeHost:
		if c.Linker.Token == "" {
			return errors.New("host mode needs a linker token")
		}
	default:
		return fmt.Errorf("unknown linker mode %q", c.Linker.Mode)
	}
	return nil
}
