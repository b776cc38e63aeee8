package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Backend    BackendConfig    `yaml:"backend" mapstructure:"backend"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Documents  DocumentsConfig  `yaml:"documents" mapstructure:"documents"`
	Evaluation EvaluationConfig `yaml:"evaluation" mapstructure:"evaluation"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Port         string        `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// StoreConfig selects where evaluation documents live.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	DataDir     string `yaml:"data_dir" mapstructure:"data_dir"`
}

// BackendConfig points at the bid document service.
type BackendConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	RetryAttempts     int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// LLMConfig selects the provider used for extraction prompts.
type LLMConfig struct {
	Provider     string `yaml:"provider" mapstructure:"provider"`
	CdacAPIKey   string `yaml:"cdac_api_key" mapstructure:"cdac_api_key"`
	GeminiAPIKey string `yaml:"gemini_api_key" mapstructure:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model" mapstructure:"gemini_model"`
	MaxTokens    int    `yaml:"max_tokens" mapstructure:"max_tokens"`

	// Timeout bounds one direct Gemini call.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// APIKey returns the key of the selected provider.
func (c LLMConfig) APIKey() string {
	if strings.EqualFold(c.Provider, "gemini") {
		return strings.TrimSpace(c.GeminiAPIKey)
	}
	return strings.TrimSpace(c.CdacAPIKey)
}

// IsConfigured reports whether the selected provider has a key.
func (c LLMConfig) IsConfigured() bool {
	return c.APIKey() != ""
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

// DocumentsConfig locates bid PDFs. Source is a path or URL template that
// may contain "{bid}".
type DocumentsConfig struct {
	Source        string `yaml:"source" mapstructure:"source"`
	CacheDir      string `yaml:"cache_dir" mapstructure:"cache_dir"`
	CacheCapacity int    `yaml:"cache_capacity" mapstructure:"cache_capacity"`
}

type PartnerConfig struct {
	Name          string `yaml:"name" mapstructure:"name"`
	BaselinePages []int  `yaml:"baseline_pages" mapstructure:"baseline_pages"`
}

type EvaluationConfig struct {
	Partners      []PartnerConfig `yaml:"partners" mapstructure:"partners"`
	SearchResults int             `yaml:"search_results" mapstructure:"search_results"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv keeps the plain variable names working alongside the prefixed ones.
var legacyEnv = map[string]string{
	"llm.gemini_api_key": "GEMINI_API_KEY",
	"llm.cdac_api_key":   "CDAC_API_KEY",
	"store.database_url": "DATABASE_URL",
	"server.port":        "HTTP_PORT",
	"log.level":          "LOG_LEVEL",
	"auth.jwt_secret":    "JWT_SECRET",
	"backend.base_url":   "BACKEND_URL",
}

// Load reads .env (if present), then workbench.yaml (if present), then
// WORKBENCH_* environment variables over the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	v.SetConfigName("workbench")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WORKBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "WORKBENCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "bid_workbench.db")
	v.SetDefault("store.data_dir", "data/evaluations")
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", 60*time.Second)
	v.SetDefault("backend.requests_per_second", 5)
	v.SetDefault("backend.retry_attempts", 3)
	v.SetDefault("llm.provider", "cdac")
	v.SetDefault("llm.cdac_api_key", "")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.gemini_model", "gemini-1.5-flash-latest")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("documents.source", "")
	v.SetDefault("documents.cache_dir", "")
	v.SetDefault("documents.cache_capacity", 10)
	v.SetDefault("evaluation.partners", []map[string]any{
		{"name": "Abhiraj", "baseline_pages": []int{111}},
		{"name": "Shraddha", "baseline_pages": []int{336}},
		{"name": "Shankar", "baseline_pages": []int{808}},
	})
	v.SetDefault("evaluation.search_results", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks what the HTTP server cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return eris.New("config: JWT_SECRET (auth.jwt_secret) is required")
	}
	switch c.Store.Driver {
	case "", "sqlite", "file":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if len(c.Evaluation.Partners) == 0 {
		return eris.New("config: at least one evaluation partner is required")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
