package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Data          DataConfig
	Archive       ArchiveConfig
	History       HistoryConfig
	Resolver      ResolverConfig
	Critic        CriticConfig
	LLM           LLMConfig
	Embeddings    EmbeddingsConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DataConfig struct {
	// Dir is scanned for *.csv files at startup; each becomes a table.
	Dir string
}

type ArchiveConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type HistoryConfig struct {
	// DSN empty means exchange history recording is disabled.
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ResolverConfig struct {
	InclusionThreshold    float64
	RelationshipThreshold float64
	AdmissionThreshold    float64
	SampleValues          int
	CategoricalLimit      int
}

type CriticConfig struct {
	MaxAttempts int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	MaxTokens      int64
	Temperature    float64
	Timeout        time.Duration
	SummaryEnabled bool
}

type EmbeddingsConfig struct {
	Enabled  bool
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("TABLETALK_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid TABLETALK_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "TABLETALK_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_DATA_DIR", &cfg.Data.Dir); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_ARCHIVE_ENABLED", &cfg.Archive.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_ARCHIVE_REGION", &cfg.Archive.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_ARCHIVE_BUCKET", &cfg.Archive.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_ARCHIVE_ACCESS_KEY", &cfg.Archive.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_ARCHIVE_SECRET_KEY", &cfg.Archive.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_ARCHIVE_USE_SSL", &cfg.Archive.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_ARCHIVE_PREFIX", &cfg.Archive.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_ARCHIVE_AUTO_CREATE_BUCKET", &cfg.Archive.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_HISTORY_DSN", &cfg.History.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "TABLETALK_RESOLVER_INCLUSION_THRESHOLD", &cfg.Resolver.InclusionThreshold); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "TABLETALK_RESOLVER_RELATIONSHIP_THRESHOLD", &cfg.Resolver.RelationshipThreshold); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "TABLETALK_RESOLVER_ADMISSION_THRESHOLD", &cfg.Resolver.AdmissionThreshold); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_RESOLVER_SAMPLE_VALUES", &cfg.Resolver.SampleValues); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_RESOLVER_CATEGORICAL_LIMIT", &cfg.Resolver.CategoricalLimit); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_CRITIC_MAX_ATTEMPTS", &cfg.Critic.MaxAttempts); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_LLM_API_KEY", &cfg.LLM.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_LLM_MODEL", &cfg.LLM.Model); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "TABLETALK_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "TABLETALK_LLM_TEMPERATURE", &cfg.LLM.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_LLM_TIMEOUT", &cfg.LLM.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_LLM_SUMMARY_ENABLED", &cfg.LLM.SummaryEnabled); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_EMBEDDINGS_ENABLED", &cfg.Embeddings.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_EMBEDDINGS_BASE_URL", &cfg.Embeddings.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_EMBEDDINGS_API_KEY", &cfg.Embeddings.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_EMBEDDINGS_MODEL", &cfg.Embeddings.Model); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_EMBEDDINGS_TIMEOUT", &cfg.Embeddings.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_EMBEDDINGS_CACHE_TTL", &cfg.Embeddings.CacheTTL); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "TABLETALK_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Resolver.InclusionThreshold < 0 || cfg.Resolver.InclusionThreshold > 100 {
		return Config{}, fmt.Errorf("invalid TABLETALK_RESOLVER_INCLUSION_THRESHOLD: must be in [0,100]")
	}
	if cfg.Resolver.RelationshipThreshold < 0 || cfg.Resolver.RelationshipThreshold > 100 {
		return Config{}, fmt.Errorf("invalid TABLETALK_RESOLVER_RELATIONSHIP_THRESHOLD: must be in [0,100]")
	}
	if cfg.Resolver.AdmissionThreshold < 0 || cfg.Resolver.AdmissionThreshold > 100 {
		return Config{}, fmt.Errorf("invalid TABLETALK_RESOLVER_ADMISSION_THRESHOLD: must be in [0,100]")
	}
	if cfg.Critic.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("invalid TABLETALK_CRITIC_MAX_ATTEMPTS: must be at least 1")
	}
	if cfg.Embeddings.Enabled && cfg.Embeddings.BaseURL == "" {
		return Config{}, fmt.Errorf("embeddings base URL is required when embeddings are enabled")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "tabletalk-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Data: DataConfig{
			Dir: "data",
		},
		Archive: ArchiveConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "tabletalk",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		History: HistoryConfig{
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Resolver: ResolverConfig{
			InclusionThreshold:    70,
			RelationshipThreshold: 85,
			AdmissionThreshold:    60,
			SampleValues:          5,
			CategoricalLimit:      50,
		},
		Critic: CriticConfig{
			MaxAttempts: 3,
		},
		LLM: LLMConfig{
			Model:          "claude-3-5-haiku-latest",
			MaxTokens:      1024,
			Temperature:    0.1,
			Timeout:        60 * time.Second,
			SummaryEnabled: true,
		},
		Embeddings: EmbeddingsConfig{
			Enabled:  false,
			BaseURL:  "http://localhost:11434",
			Model:    "nomic-embed-text",
			Timeout:  10 * time.Second,
			CacheTTL: time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Archive.UseSSL = true
		cfg.Archive.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
