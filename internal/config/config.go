// Package config provides configuration management for the RAG core
// engine: environment-variable overlay over built-in defaults, plus an
// optional YAML file carrying C2's per-provider threshold seed table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ragcore/internal/threshold"
)

// Config is the application configuration, grouped by concern.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Qdrant       QdrantConfig       `json:"qdrant"`
	Redis        RedisConfig        `json:"redis"`
	Providers    ProvidersConfig    `json:"providers"`
	Retrieval    RetrievalConfig    `json:"retrieval"`
	Cache        CacheConfig        `json:"cache"`
	Reprocessing ReprocessingConfig `json:"reprocessing"`
	Logging      LoggingConfig      `json:"logging"`
}

// ServerConfig is the process's own listen/timeout configuration.
type ServerConfig struct {
	Port         int `json:"port"`
	ReadTimeout  int `json:"read_timeout_seconds"`
	WriteTimeout int `json:"write_timeout_seconds"`
}

// DatabaseConfig is the relational store backing C2/C8/C9 (rdb.Store).
type DatabaseConfig struct {
	Driver          string        `json:"driver"` // "postgres" or "sqlite3"
	DSN             string        `json:"-"`       // never serialize: carries credentials
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	QueryTimeout    time.Duration `json:"query_timeout"`
}

// QdrantConfig is the vector-store adapter's connection configuration.
type QdrantConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	APIKey         string `json:"-"`
	UseTLS         bool   `json:"use_tls"`
	RetryAttempts  int    `json:"retry_attempts"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RedisConfig is C7's optional distributed cache tier. Addr == "" means
// the cache runs local-only (no KVStore wired).
type RedisConfig struct {
	Addr         string        `json:"addr"`
	Password     string        `json:"-"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	KeyPrefix    string        `json:"key_prefix"`
}

// ProviderConfig is one embedding/LLM provider's connection defaults.
type ProviderConfig struct {
	BaseURL        string        `json:"base_url"`
	DefaultModel   string        `json:"default_model"`
	RequestTimeout time.Duration `json:"request_timeout"`
	RateLimitRPM   int           `json:"rate_limit_rpm"`
	Enabled        bool          `json:"enabled"`
}

// ProvidersConfig carries each supported provider's client configuration.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai"`
	Gemini     ProviderConfig `json:"gemini"`
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenRouter ProviderConfig `json:"openrouter"`
}

// RetrievalConfig configures C2/C3: the orchestrator deadline and the
// per-provider threshold seed table, optionally overridden by a YAML file.
type RetrievalConfig struct {
	OrchestratorDeadline time.Duration             `json:"orchestrator_deadline"`
	MaxChunks            int                       `json:"max_chunks"`
	RecommendationDays   int                       `json:"recommendation_lookback_days"`
	ThresholdSeeds       map[string]ThresholdSeed  `json:"threshold_seeds,omitempty"`
}

// ThresholdSeed is the YAML-decodable shape of one provider's threshold
// config (spec §4.2). RetryList entries are strings so YAML can express
// the "no threshold" sentinel as the literal "none"; ToProviderConfigs
// converts it to threshold.ProviderConfig's []*float64.
type ThresholdSeed struct {
	Default                float64            `mapstructure:"default"`
	Min                    float64            `mapstructure:"min"`
	Max                    float64            `mapstructure:"max"`
	Step                   float64            `mapstructure:"step"`
	RetryList              []string           `mapstructure:"retry_list"`
	ContentTypeAdjustments map[string]float64 `mapstructure:"content_type_adjustments"`
}

// CacheConfig configures C7's two-tier cache.
type CacheConfig struct {
	MaxEntries          int           `json:"max_entries"`
	MaxMemoryBytes       int64         `json:"max_memory_bytes"`
	EvictionInterval     time.Duration `json:"eviction_interval"`
	DriftThreshold       float64       `json:"drift_threshold"`
	MinConfidenceToCache float64       `json:"min_confidence_to_cache"`
}

// ReprocessingConfig configures C9/C10.
type ReprocessingConfig struct {
	MaxConcurrentDocuments  int           `json:"max_concurrent_documents"`
	CheckpointInterval      int           `json:"checkpoint_interval"`
	CheckpointDir           string        `json:"checkpoint_dir"`
	MaxConcurrentOperations int           `json:"max_concurrent_operations"`
	MaxQueueSize            int           `json:"max_queue_size"`
	OperationTimeout        time.Duration `json:"operation_timeout"`
	QueueCheckInterval      time.Duration `json:"queue_check_interval"`
	SnapshotDir             string        `json:"snapshot_dir"`
	SnapshotRetention       time.Duration `json:"snapshot_retention"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns the built-in configuration before any env or YAML
// overlay is applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			QueryTimeout:    30 * time.Second,
		},
		Qdrant: QdrantConfig{
			Host:           "localhost",
			Port:           6334,
			UseTLS:         false,
			RetryAttempts:  3,
			TimeoutSeconds: 30,
		},
		Redis: RedisConfig{
			DB:           0,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			KeyPrefix:    "hybrid_cache:",
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				BaseURL:        "https://api.openai.com/v1",
				DefaultModel:   "text-embedding-3-small",
				RequestTimeout: 60 * time.Second,
				RateLimitRPM:   60,
				Enabled:        true,
			},
			Gemini: ProviderConfig{
				BaseURL:        "https://generativelanguage.googleapis.com/v1",
				DefaultModel:   "text-embedding-004",
				RequestTimeout: 60 * time.Second,
				RateLimitRPM:   60,
				Enabled:        true,
			},
			Anthropic: ProviderConfig{
				BaseURL:        "https://api.anthropic.com/v1",
				DefaultModel:   "claude-3-5-sonnet-20241022",
				RequestTimeout: 60 * time.Second,
				RateLimitRPM:   60,
				Enabled:        true,
			},
			OpenRouter: ProviderConfig{
				BaseURL:        "https://openrouter.ai/api/v1",
				DefaultModel:   "openrouter/auto",
				RequestTimeout: 60 * time.Second,
				RateLimitRPM:   60,
				Enabled:        true,
			},
		},
		Retrieval: RetrievalConfig{
			OrchestratorDeadline: 10 * time.Second,
			MaxChunks:            10,
			RecommendationDays:   7,
		},
		Cache: CacheConfig{
			MaxEntries:           1000,
			MaxMemoryBytes:       512 * 1024 * 1024,
			EvictionInterval:     5 * time.Minute,
			DriftThreshold:       0.3,
			MinConfidenceToCache: 0.3,
		},
		Reprocessing: ReprocessingConfig{
			MaxConcurrentDocuments:  5,
			CheckpointInterval:      5,
			CheckpointDir:           "./data/checkpoints",
			MaxConcurrentOperations: 3,
			MaxQueueSize:            100,
			OperationTimeout:        3600 * time.Second,
			QueueCheckInterval:      time.Second,
			SnapshotDir:             "./data/snapshots",
			SnapshotRetention:       7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads a .env file if present, overlays process environment
// variables onto DefaultConfig, and optionally decodes a YAML threshold
// seed file if thresholdFilePath is non-empty.
func LoadConfig(thresholdFilePath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	loadServerConfig(cfg)
	loadDatabaseConfig(cfg)
	loadQdrantConfig(cfg)
	loadRedisConfig(cfg)
	loadProvidersConfig(cfg)
	loadRetrievalConfig(cfg)
	loadCacheConfig(cfg)
	loadReprocessingConfig(cfg)
	loadLoggingConfig(cfg)

	if thresholdFilePath != "" {
		seeds, err := LoadThresholdSeedFile(thresholdFilePath)
		if err != nil {
			return nil, fmt.Errorf("config: loading threshold seed file: %w", err)
		}
		cfg.Retrieval.ThresholdSeeds = seeds
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadServerConfig(c *Config) {
	c.Server.Port = getIntEnvWithDefault("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getIntEnvWithDefault("SERVER_READ_TIMEOUT_SECONDS", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getIntEnvWithDefault("SERVER_WRITE_TIMEOUT_SECONDS", c.Server.WriteTimeout)
}

func loadDatabaseConfig(c *Config) {
	c.Database.Driver = getStringEnvWithDefault("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getStringEnvWithDefault("DB_DSN", c.Database.DSN)
	c.Database.MaxOpenConns = getIntEnvWithDefault("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getIntEnvWithDefault("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getDurationEnvWithDefault("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.QueryTimeout = getDurationEnvWithDefault("DB_QUERY_TIMEOUT", c.Database.QueryTimeout)
}

func loadQdrantConfig(c *Config) {
	c.Qdrant.Host = getStringEnvWithDefault("QDRANT_HOST", c.Qdrant.Host)
	c.Qdrant.Port = getIntEnvWithDefault("QDRANT_PORT", c.Qdrant.Port)
	c.Qdrant.APIKey = getStringEnvWithDefault("QDRANT_API_KEY", c.Qdrant.APIKey)
	c.Qdrant.UseTLS = getBoolEnvWithDefault("QDRANT_USE_TLS", c.Qdrant.UseTLS)
	c.Qdrant.RetryAttempts = getIntEnvWithDefault("QDRANT_RETRY_ATTEMPTS", c.Qdrant.RetryAttempts)
	c.Qdrant.TimeoutSeconds = getIntEnvWithDefault("QDRANT_TIMEOUT_SECONDS", c.Qdrant.TimeoutSeconds)
}

func loadRedisConfig(c *Config) {
	c.Redis.Addr = getStringEnvWithDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getStringEnvWithDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntEnvWithDefault("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getIntEnvWithDefault("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.DialTimeout = getDurationEnvWithDefault("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)
	c.Redis.ReadTimeout = getDurationEnvWithDefault("REDIS_READ_TIMEOUT", c.Redis.ReadTimeout)
	c.Redis.WriteTimeout = getDurationEnvWithDefault("REDIS_WRITE_TIMEOUT", c.Redis.WriteTimeout)
	c.Redis.KeyPrefix = getStringEnvWithDefault("REDIS_KEY_PREFIX", c.Redis.KeyPrefix)
}

func loadProvidersConfig(c *Config) {
	loadOneProviderConfig("OPENAI", &c.Providers.OpenAI)
	loadOneProviderConfig("GEMINI", &c.Providers.Gemini)
	loadOneProviderConfig("ANTHROPIC", &c.Providers.Anthropic)
	loadOneProviderConfig("OPENROUTER", &c.Providers.OpenRouter)
}

func loadOneProviderConfig(prefix string, p *ProviderConfig) {
	p.BaseURL = getStringEnvWithDefault(prefix+"_BASE_URL", p.BaseURL)
	p.DefaultModel = getStringEnvWithDefault(prefix+"_DEFAULT_MODEL", p.DefaultModel)
	p.RequestTimeout = getDurationEnvWithDefault(prefix+"_REQUEST_TIMEOUT", p.RequestTimeout)
	p.RateLimitRPM = getIntEnvWithDefault(prefix+"_RATE_LIMIT_RPM", p.RateLimitRPM)
	p.Enabled = getBoolEnvWithDefault(prefix+"_ENABLED", p.Enabled)
}

func loadRetrievalConfig(c *Config) {
	c.Retrieval.OrchestratorDeadline = getDurationEnvWithDefault("ORCHESTRATOR_DEADLINE", c.Retrieval.OrchestratorDeadline)
	c.Retrieval.MaxChunks = getIntEnvWithDefault("RETRIEVAL_MAX_CHUNKS", c.Retrieval.MaxChunks)
	c.Retrieval.RecommendationDays = getIntEnvWithDefault("RECOMMENDATION_LOOKBACK_DAYS", c.Retrieval.RecommendationDays)
}

func loadCacheConfig(c *Config) {
	c.Cache.MaxEntries = getIntEnvWithDefault("CACHE_MAX_ENTRIES", c.Cache.MaxEntries)
	c.Cache.MaxMemoryBytes = getInt64EnvWithDefault("CACHE_MAX_MEMORY_BYTES", c.Cache.MaxMemoryBytes)
	c.Cache.EvictionInterval = getDurationEnvWithDefault("CACHE_EVICTION_INTERVAL", c.Cache.EvictionInterval)
	c.Cache.DriftThreshold = getFloatEnvWithDefault("CACHE_DRIFT_THRESHOLD", c.Cache.DriftThreshold)
	c.Cache.MinConfidenceToCache = getFloatEnvWithDefault("CACHE_MIN_CONFIDENCE", c.Cache.MinConfidenceToCache)
}

func loadReprocessingConfig(c *Config) {
	c.Reprocessing.MaxConcurrentDocuments = getIntEnvWithDefault("REPROCESS_MAX_CONCURRENT_DOCUMENTS", c.Reprocessing.MaxConcurrentDocuments)
	c.Reprocessing.CheckpointInterval = getIntEnvWithDefault("REPROCESS_CHECKPOINT_INTERVAL", c.Reprocessing.CheckpointInterval)
	c.Reprocessing.CheckpointDir = getStringEnvWithDefault("REPROCESS_CHECKPOINT_DIR", c.Reprocessing.CheckpointDir)
	c.Reprocessing.MaxConcurrentOperations = getIntEnvWithDefault("QUEUE_MAX_CONCURRENT_OPERATIONS", c.Reprocessing.MaxConcurrentOperations)
	c.Reprocessing.MaxQueueSize = getIntEnvWithDefault("QUEUE_MAX_SIZE", c.Reprocessing.MaxQueueSize)
	c.Reprocessing.OperationTimeout = getDurationEnvWithDefault("QUEUE_OPERATION_TIMEOUT", c.Reprocessing.OperationTimeout)
	c.Reprocessing.QueueCheckInterval = getDurationEnvWithDefault("QUEUE_CHECK_INTERVAL", c.Reprocessing.QueueCheckInterval)
	c.Reprocessing.SnapshotDir = getStringEnvWithDefault("SNAPSHOT_DIR", c.Reprocessing.SnapshotDir)
	c.Reprocessing.SnapshotRetention = getDurationEnvWithDefault("SNAPSHOT_RETENTION", c.Reprocessing.SnapshotRetention)
}

func loadLoggingConfig(c *Config) {
	c.Logging.Level = getStringEnvWithDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getStringEnvWithDefault("LOG_FORMAT", c.Logging.Format)
}

func getStringEnvWithDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnvWithDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getInt64EnvWithDefault(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnvWithDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnvWithDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// LoadThresholdSeedFile decodes a YAML file of per-provider threshold
// seeds (spec §4.2) into the typed map DefaultProviderConfigs would
// otherwise return, allowing a deployer to override the built-in seed
// table without a code change.
func LoadThresholdSeedFile(path string) (map[string]ThresholdSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading threshold seed file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing threshold seed file: %w", err)
	}

	seeds := make(map[string]ThresholdSeed, len(raw))
	for provider, v := range raw {
		var seed ThresholdSeed
		if err := mapstructure.Decode(v, &seed); err != nil {
			return nil, fmt.Errorf("decoding threshold seed for %q: %w", provider, err)
		}
		seeds[provider] = seed
	}
	return seeds, nil
}

// ToProviderConfigs converts the YAML-decoded seed map into
// threshold.ProviderConfig, translating the "none" sentinel in
// RetryList to a nil *float64 (spec §4.2's "lowest entry may be no
// threshold").
func ToProviderConfigs(seeds map[string]ThresholdSeed) map[string]threshold.ProviderConfig {
	out := make(map[string]threshold.ProviderConfig, len(seeds))
	for provider, s := range seeds {
		retryList := make([]*float64, 0, len(s.RetryList))
		for _, entry := range s.RetryList {
			if strings.EqualFold(strings.TrimSpace(entry), "none") {
				retryList = append(retryList, nil)
				continue
			}
			v, err := strconv.ParseFloat(entry, 64)
			if err != nil {
				continue
			}
			retryList = append(retryList, &v)
		}
		out[provider] = threshold.ProviderConfig{
			Default:                s.Default,
			Min:                    s.Min,
			Max:                    s.Max,
			Step:                   s.Step,
			RetryList:              retryList,
			ContentTypeAdjustments: s.ContentTypeAdjustments,
		}
	}
	return out
}

// Validate rejects contradictory settings.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Reprocessing.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("config: max_concurrent_operations must be > 0")
	}
	if c.Reprocessing.MaxConcurrentDocuments <= 0 {
		return fmt.Errorf("config: max_concurrent_documents must be > 0")
	}
	if c.Reprocessing.MaxQueueSize <= 0 {
		return fmt.Errorf("config: max_queue_size must be > 0")
	}
	if c.Reprocessing.CheckpointInterval <= 0 {
		return fmt.Errorf("config: checkpoint_interval must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("config: cache max_entries must be > 0")
	}
	if c.Cache.DriftThreshold < 0 || c.Cache.DriftThreshold > 1 {
		return fmt.Errorf("config: cache drift_threshold must be in [0,1]")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("config: db max_idle_conns (%d) cannot exceed max_open_conns (%d)", c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	return nil
}
