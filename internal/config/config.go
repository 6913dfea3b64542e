package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

type Config struct {
	Mode Mode `mapstructure:"mode"`

	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	GCP     GCPConfig     `mapstructure:"gcp"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Fatigue FatigueConfig `mapstructure:"fatigue"`
	Turn    TurnConfig    `mapstructure:"turn"`
	Phases  PhasesConfig  `mapstructure:"phases"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Repair  RepairConfig  `mapstructure:"repair"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // "memory", "sqlite" or "firestore"
	SQLiteDSN string `mapstructure:"sqlite_dsn"`
}

type GCPConfig struct {
	Project  string `mapstructure:"project"`
	Location string `mapstructure:"location"`
}

type LLMConfig struct {
	Provider   string        `mapstructure:"provider"` // "mock", "vertex" or "openai"
	Model      string        `mapstructure:"model"`
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	APIVersion string        `mapstructure:"api_version"`
	Deployment string        `mapstructure:"deployment"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxTokens  int           `mapstructure:"max_tokens"`
}

type AuthConfig struct {
	Mode         string   `mapstructure:"mode"` // "jwt" or "static"
	JWTSecret    string   `mapstructure:"jwt_secret"`
	StaticTokens []string `mapstructure:"static_tokens"` // "token:user_id"
}

type FatigueConfig struct {
	SoftLimit             int           `mapstructure:"soft_limit"`
	HardLimit             int           `mapstructure:"hard_limit"`
	Window                time.Duration `mapstructure:"window"`
	SoftCloseUsesProvider bool          `mapstructure:"soft_close_uses_provider"`
	SoftCloseMaxTokens    int           `mapstructure:"soft_close_max_tokens"`
}

type TurnConfig struct {
	HistoryLimit int           `mapstructure:"history_limit"`
	AuditWindow  time.Duration `mapstructure:"audit_window"`
}

type PhasesConfig struct {
	ForwardOnly bool `mapstructure:"forward_only"`
}

type ToolsConfig struct {
	EnforcePhases bool `mapstructure:"enforce_phases"`
}

type RepairConfig struct {
	Backend  string        `mapstructure:"backend"` // "memory" or "redis"
	Stream   string        `mapstructure:"stream"`
	// Consumer names this instance in the Redis consumer group. It must be
	// stable across restarts so pending jobs are replayed.
	Consumer string        `mapstructure:"consumer"`
	Interval time.Duration `mapstructure:"interval"`
	MaxRetry int           `mapstructure:"max_retry"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeLocal))
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite_dsn", "file:personai.db?cache=shared&mode=rwc")

	v.SetDefault("gcp.project", "")
	v.SetDefault("gcp.location", "us-central1")

	v.SetDefault("llm.provider", "mock")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.deployment", "")
	v.SetDefault("llm.api_version", "2024-02-15-preview")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_tokens", 800)

	v.SetDefault("auth.mode", "static")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.static_tokens", []string{})

	v.SetDefault("fatigue.soft_limit", 30)
	v.SetDefault("fatigue.hard_limit", 50)
	v.SetDefault("fatigue.window", 2*time.Hour)
	v.SetDefault("fatigue.soft_close_uses_provider", false)
	v.SetDefault("fatigue.soft_close_max_tokens", 120)

	v.SetDefault("turn.history_limit", 20)
	v.SetDefault("turn.audit_window", 10*time.Minute)

	v.SetDefault("phases.forward_only", false)
	v.SetDefault("tools.enforce_phases", true)

	v.SetDefault("repair.backend", "memory")
	v.SetDefault("repair.stream", "personai:mission-repair")
	v.SetDefault("repair.consumer", "worker-1")
	v.SetDefault("repair.interval", 30*time.Second)
	v.SetDefault("repair.max_retry", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// Load reads defaults, the optional config file and PERSONAI_* env vars.
// An empty path looks for ./personai.yaml and ignores it if missing.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PERSONAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("personai")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combinations that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Mode == ModeGCP && c.GCP.Project == "" {
		return errors.New("gcp.project must be set in gcp mode")
	}
	if c.Storage.Backend == "firestore" && c.GCP.Project == "" {
		return errors.New("gcp.project is required for the firestore storage backend")
	}
	if c.LLM.Provider == "vertex" && c.GCP.Project == "" {
		return errors.New("gcp.project is required for the vertex provider")
	}
	if c.LLM.Provider == "openai" && c.LLM.Endpoint == "" {
		return errors.New("llm.endpoint is required for the openai provider")
	}
	if c.Auth.Mode == "jwt" && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required in jwt mode")
	}
	if c.Fatigue.SoftLimit <= 0 || c.Fatigue.HardLimit < c.Fatigue.SoftLimit {
		return fmt.Errorf("fatigue limits invalid: soft=%d hard=%d", c.Fatigue.SoftLimit, c.Fatigue.HardLimit)
	}
	return nil
}
