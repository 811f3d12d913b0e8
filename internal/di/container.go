// Package di assembles every component (C1-C10) into a runnable Core,
// in dependency order, adapted from the teacher's internal/di.Container:
// one struct holding every constructed dependency, one initialize*
// method per concern, optional subsystems logged and skipped rather
// than fatal.
package di

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"ragcore/internal/cache"
	"ragcore/internal/circuitbreaker"
	"ragcore/internal/config"
	"ragcore/internal/core"
	"ragcore/internal/credentials"
	"ragcore/internal/logging"
	"ragcore/internal/orchestrator"
	"ragcore/internal/ports"
	"ragcore/internal/providers"
	"ragcore/internal/query"
	"ragcore/internal/queue"
	"ragcore/internal/rdb"
	"ragcore/internal/reprocess"
	"ragcore/internal/retrieval"
	"ragcore/internal/retry"
	"ragcore/internal/snapshot"
	"ragcore/internal/threshold"
	"ragcore/internal/vectorstore"

	_ "github.com/lib/pq"           // postgres driver, registered for database/sql
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver, for local/dev deployments
)

// Container holds every constructed dependency so main can start and
// stop it as a unit.
type Container struct {
	Config *config.Config
	Logger logging.Logger

	DB      *sql.DB
	Store   *rdb.Store
	Owners  *ownerStore
	Vectors ports.VectorStore

	Providers   map[string]*providers.Client
	Credentials *credentials.Resolver
	Thresholds  *threshold.Manager
	Retrieval   *retrieval.Engine
	Router      *query.Router
	Cache       *cache.Cache

	Orchestrator *orchestrator.Orchestrator
	Snapshots    *snapshot.Manager
	Pipeline     *reprocess.Pipeline
	Queue        *queue.Manager

	Core *core.Core
}

// New builds a Container from cfg. Subsystems are initialized in
// dependency order; a failure in a required subsystem (database,
// vector store) is fatal, while an optional one (a single disabled
// provider, Redis) is logged and the container keeps running without
// it.
func New(cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}
	c.Logger = logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level))

	if err := c.initDatabase(); err != nil {
		return nil, fmt.Errorf("di: init database: %w", err)
	}
	if err := c.initVectorStore(); err != nil {
		return nil, fmt.Errorf("di: init vector store: %w", err)
	}
	c.initProviders()
	c.initCredentials()
	c.initThresholds()
	c.Retrieval = retrieval.NewEngine(c.Vectors, c.Thresholds, c.Store, c.Store, c.Logger)
	c.Router = query.NewRouter()
	c.initCache()
	c.initOrchestrator()

	if err := c.initSnapshots(); err != nil {
		return nil, fmt.Errorf("di: init snapshots: %w", err)
	}
	if err := c.initPipeline(); err != nil {
		return nil, fmt.Errorf("di: init reprocess pipeline: %w", err)
	}
	c.initQueue()
	c.initCore()

	return c, nil
}

func (c *Container) initDatabase() error {
	dialect := rdb.DialectPostgres
	if c.Config.Database.Driver == "sqlite3" {
		dialect = rdb.DialectSQLite
	}

	db, err := sql.Open(c.Config.Database.Driver, c.Config.Database.DSN)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.Config.Database.Driver, err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)

	store, err := rdb.Open(db, dialect, c.Logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	owners, err := newOwnerStore(db, dialect)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init owner store: %w", err)
	}

	c.DB = db
	c.Store = store
	c.Owners = owners
	c.Logger.Info("database connection established", "driver", c.Config.Database.Driver)
	return nil
}

func (c *Container) initVectorStore() error {
	base, err := vectorstore.NewQdrantStore(&c.Config.Qdrant, c.Logger)
	if err != nil {
		return err
	}
	retryCfg := &retry.Config{
		MaxAttempts:     c.Config.Qdrant.RetryAttempts,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         retry.DefaultRetryIf,
	}
	cbCfg := &circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
	c.Vectors = vectorstore.NewResilientStore(base, retryCfg, cbCfg)
	c.Logger.Info("vector store ready", "host", c.Config.Qdrant.Host, "port", c.Config.Qdrant.Port)
	return nil
}

func (c *Container) initProviders() {
	c.Providers = make(map[string]*providers.Client)
	httpClient := &http.Client{}

	specs := map[string]providers.Spec{
		"openai":     providers.OpenAISpec(),
		"gemini":     providers.GeminiSpec(),
		"anthropic":  providers.AnthropicSpec(),
		"openrouter": providers.OpenRouterSpec(),
	}
	cfgs := map[string]config.ProviderConfig{
		"openai":     c.Config.Providers.OpenAI,
		"gemini":     c.Config.Providers.Gemini,
		"anthropic":  c.Config.Providers.Anthropic,
		"openrouter": c.Config.Providers.OpenRouter,
	}

	for name, spec := range specs {
		pcfg := cfgs[name]
		if !pcfg.Enabled {
			c.Logger.Info("provider disabled", "provider", name)
			continue
		}
		if pcfg.BaseURL != "" {
			spec.BaseURL = pcfg.BaseURL
		}
		retryCfg := retry.DefaultConfig()
		cbCfg := &circuitbreaker.Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}
		c.Providers[name] = providers.NewClient(spec, httpClient, retryCfg, cbCfg, c.Logger)
	}
}

func (c *Container) initCredentials() {
	clientFor := func(provider string) (credentials.Validator, error) {
		client, ok := c.Providers[provider]
		if !ok {
			return nil, fmt.Errorf("no client configured for provider %s", provider)
		}
		return client, nil
	}
	c.Credentials = credentials.NewResolver(c.Owners, c.Owners, clientFor, c.Logger)
}

func (c *Container) initThresholds() {
	seeds := config.ToProviderConfigs(c.Config.Retrieval.ThresholdSeeds)
	if len(seeds) == 0 {
		seeds = nil // Manager substitutes its own spec defaults
	}
	c.Thresholds = threshold.NewManager(seeds, c.Store, c.Logger)
}

func (c *Container) initCache() {
	var kv ports.KVStore
	if c.Config.Redis.Addr != "" {
		redisStore, err := cache.NewRedisStore(context.Background(), cache.RedisConfig{
			Addr:         c.Config.Redis.Addr,
			Password:     c.Config.Redis.Password,
			DB:           c.Config.Redis.DB,
			PoolSize:     c.Config.Redis.PoolSize,
			DialTimeout:  c.Config.Redis.DialTimeout,
			ReadTimeout:  c.Config.Redis.ReadTimeout,
			WriteTimeout: c.Config.Redis.WriteTimeout,
			KeyPrefix:    c.Config.Redis.KeyPrefix,
		})
		if err != nil {
			c.Logger.Warn("redis unavailable, cache running local-only", "error", err)
		} else {
			kv = redisStore
		}
	}
	c.Cache = cache.NewCache(cache.Config{
		MaxEntries:     c.Config.Cache.MaxEntries,
		MaxMemoryBytes: c.Config.Cache.MaxMemoryBytes,
	}, kv, c.Logger)
}

func (c *Container) initOrchestrator() {
	embedder := providerEmbedder{providers: c.Providers}
	generator := providerGenerator{providers: c.Providers}
	c.Orchestrator = orchestrator.New(
		orchestrator.Config{Deadline: c.Config.Retrieval.OrchestratorDeadline},
		embedder, generator, c.Credentials, c.Retrieval, c.Store, c.Store, c.Router, c.Cache, c.Logger,
	)
}

func (c *Container) initSnapshots() error {
	mgr, err := snapshot.NewManager(snapshot.Config{
		SnapshotDir: c.Config.Reprocessing.SnapshotDir,
		Retention:   c.Config.Reprocessing.SnapshotRetention,
	}, c.Store, c.Vectors, c.Logger)
	if err != nil {
		return err
	}
	c.Snapshots = mgr
	return nil
}

func (c *Container) initPipeline() error {
	embedder := providerEmbedder{providers: c.Providers}
	processor := textChunker{}
	files := localFileStore{}

	pipeline, err := reprocess.New(reprocess.Config{
		MaxConcurrentDocuments: c.Config.Reprocessing.MaxConcurrentDocuments,
		CheckpointInterval:     c.Config.Reprocessing.CheckpointInterval,
		CheckpointDir:          c.Config.Reprocessing.CheckpointDir,
	}, c.Store, c.Vectors, processor, embedder, c.Credentials, files, c.Snapshots, c.Logger)
	if err != nil {
		return err
	}
	c.Pipeline = pipeline
	return nil
}

func (c *Container) initQueue() {
	c.Queue = queue.New(queue.Config{
		MaxConcurrentOperations: c.Config.Reprocessing.MaxConcurrentOperations,
		MaxQueueSize:            c.Config.Reprocessing.MaxQueueSize,
		OperationTimeout:        c.Config.Reprocessing.OperationTimeout,
		CheckInterval:           c.Config.Reprocessing.QueueCheckInterval,
	}, c.Pipeline, c.Logger)
}

func (c *Container) initCore() {
	c.Core = core.New(c.Orchestrator, c.Snapshots, c.Pipeline, c.Queue, c.Thresholds, c.Logger)
}

// Close releases the container's held resources (database connection).
// The queue's own Shutdown is driven separately by the caller via
// Core.Shutdown, since it needs a context and a deadline.
func (c *Container) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
