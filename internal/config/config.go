package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable of the verification service.
type Config struct {
	Env        string
	Port       string
	GinMode    string
	CORSOrigin string
	LogLevel   string
	LogFile    string

	StoreDriver string // "memory" or "postgres"
	DatabaseURL string
	DB          DBConfig

	Workers        int
	QueueCapacity  int
	LeaseTTL       time.Duration
	ReaperInterval time.Duration

	RetryAttempts    int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	CallTimeout      time.Duration
	StageTimeout     time.Duration
	ClaimConcurrency int

	MajorityThreshold float64

	CachePolicy     string // "ttl" or "lru"
	CacheTTL        time.Duration
	CacheMaxEntries int

	RateLimit float64
	RateBurst int
	// CollaboratorRates overrides RateLimit per executor operation, e.g.
	// {"retrieve_evidence": 20, "extract_claims": 2}.
	CollaboratorRates map[string]float64

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OllamaURL     string
	OllamaModel   string
	RetrievalURL  string

	ReviewerJWTSecret string
}

// DBConfig holds discrete postgres connection parts, used when DatabaseURL is empty.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN builds a postgres DSN from the discrete parts.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

// PostgresDSN returns DATABASE_URL when set, otherwise the DSN built from parts.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DB.DSN()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("gin_mode", "debug")
	v.SetDefault("cors_origin", "http://localhost:5173")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_file", "")

	v.SetDefault("store_driver", "memory")
	v.SetDefault("database_url", "")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "claimcheck")
	v.SetDefault("db_sslmode", "disable")

	v.SetDefault("workers", 4)
	v.SetDefault("queue_capacity", 256)
	v.SetDefault("lease_ttl", "60s")
	v.SetDefault("reaper_interval", "15s")

	v.SetDefault("retry_attempts", 3)
	v.SetDefault("initial_backoff", "200ms")
	v.SetDefault("max_backoff", "5s")
	v.SetDefault("call_timeout", "30s")
	v.SetDefault("stage_timeout", "2m")
	v.SetDefault("claim_concurrency", 4)

	v.SetDefault("majority_threshold", 0.5)

	v.SetDefault("cache_policy", "ttl")
	v.SetDefault("cache_ttl", "168h")
	v.SetDefault("cache_max_entries", 10000)

	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_burst", 5)
	v.SetDefault("collaborator_rates", map[string]interface{}{})

	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_model", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("ollama_url", "")
	v.SetDefault("ollama_model", "")
	v.SetDefault("retrieval_url", "")

	v.SetDefault("reviewer_jwt_secret", "")
}

// Load reads .env (if present), an optional YAML config file and
// CLAIMCHECK_* environment variables, in increasing priority.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CLAIMCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:        v.GetString("env"),
		Port:       v.GetString("port"),
		GinMode:    v.GetString("gin_mode"),
		CORSOrigin: v.GetString("cors_origin"),
		LogLevel:   v.GetString("log_level"),
		LogFile:    v.GetString("log_file"),

		StoreDriver: strings.ToLower(v.GetString("store_driver")),
		DatabaseURL: v.GetString("database_url"),
		DB: DBConfig{
			Host:     v.GetString("db_host"),
			Port:     v.GetString("db_port"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			Name:     v.GetString("db_name"),
			SSLMode:  v.GetString("db_sslmode"),
		},

		Workers:        v.GetInt("workers"),
		QueueCapacity:  v.GetInt("queue_capacity"),
		LeaseTTL:       v.GetDuration("lease_ttl"),
		ReaperInterval: v.GetDuration("reaper_interval"),

		RetryAttempts:    v.GetInt("retry_attempts"),
		InitialBackoff:   v.GetDuration("initial_backoff"),
		MaxBackoff:       v.GetDuration("max_backoff"),
		CallTimeout:      v.GetDuration("call_timeout"),
		StageTimeout:     v.GetDuration("stage_timeout"),
		ClaimConcurrency: v.GetInt("claim_concurrency"),

		MajorityThreshold: v.GetFloat64("majority_threshold"),

		CachePolicy:     strings.ToLower(v.GetString("cache_policy")),
		CacheTTL:        v.GetDuration("cache_ttl"),
		CacheMaxEntries: v.GetInt("cache_max_entries"),

		RateLimit: v.GetFloat64("rate_limit"),
		RateBurst: v.GetInt("rate_burst"),

		OpenAIAPIKey:  v.GetString("openai_api_key"),
		OpenAIModel:   v.GetString("openai_model"),
		OpenAIBaseURL: v.GetString("openai_base_url"),
		OllamaURL:     v.GetString("ollama_url"),
		OllamaModel:   v.GetString("ollama_model"),
		RetrievalURL:  v.GetString("retrieval_url"),

		ReviewerJWTSecret: v.GetString("reviewer_jwt_secret"),
	}

	rates, err := collaboratorRates(v)
	if err != nil {
		return nil, err
	}
	cfg.CollaboratorRates = rates

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func collaboratorRates(v *viper.Viper) (map[string]float64, error) {
	rates := make(map[string]float64)
	for name, raw := range v.GetStringMapString("collaborator_rates") {
		r, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate %q for collaborator %s", raw, name)
		}
		rates[name] = r
	}
	return rates, nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q (supported: memory, postgres)", c.StoreDriver)
	}
	switch c.CachePolicy {
	case "ttl", "lru":
	default:
		return fmt.Errorf("unknown cache policy %q (supported: ttl, lru)", c.CachePolicy)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be > 0")
	}
	if c.ClaimConcurrency <= 0 {
		return fmt.Errorf("claim_concurrency must be > 0")
	}
	if c.MajorityThreshold <= 0 || c.MajorityThreshold > 1 {
		return fmt.Errorf("majority_threshold must be in (0, 1]")
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease_ttl must be > 0")
	}
	for name, r := range c.CollaboratorRates {
		if r <= 0 {
			return fmt.Errorf("collaborator_rates.%s must be > 0", name)
		}
	}
	if c.CachePolicy == "lru" && c.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache_max_entries must be > 0 for the lru policy")
	}
	return nil
}
