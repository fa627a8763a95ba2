package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnemo/mnemo/config"
	"github.com/mnemo/mnemo/pkg/embedding"
	"github.com/mnemo/mnemo/pkg/llm"
	"github.com/mnemo/mnemo/pkg/logger"
	"github.com/mnemo/mnemo/pkg/memory"
	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/rag"
	"github.com/mnemo/mnemo/pkg/retrieval"
	"github.com/mnemo/mnemo/pkg/store/cache"
	"github.com/mnemo/mnemo/pkg/store/graph"
	"github.com/mnemo/mnemo/pkg/store/index"
	"github.com/mnemo/mnemo/pkg/store/vector"
	"github.com/mnemo/mnemo/pkg/telemetry/tracing"
	"github.com/mnemo/mnemo/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName   = flag.String("app-name", "", "Override app name")
	logLevel  = flag.String("log-level", "", "Override log level")
	debugMode = flag.Bool("debug", false, "Enable debug mode")
)

// core holds every constructed component of the memory system. Stores and
// providers are built once and shared by the engines wired on top of them.
type core struct {
	cache   cache.Store
	graph   *graph.BadgerStore
	catalog *index.SQLiteIndex

	embedder embedding.Provider
	model    llm.Provider

	stm        *memory.STMManager
	episodic   *memory.EpisodicEngine
	semantic   *memory.SemanticEngine
	reflection *memory.ReflectionEngine

	vectorRetriever *retrieval.VectorRetriever
	graphRetriever  *retrieval.GraphRetriever
	hybrid          *retrieval.HybridRetriever

	standardRAG *rag.StandardRAG
	agenticRAG  *rag.AgenticRAG
}

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	overrides := buildOverrides()

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)

	log.Info("Starting Mnemo",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version, log)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)

	c, err := buildCore(ctx, cfg, log, metricsManager)
	if err != nil {
		log.Error("Failed to build memory core", "error", err)
		os.Exit(1)
	}
	defer c.close(log)

	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	watcher := startWatcher(ctx, loader, log)

	log.Info("Mnemo is running",
		"cache", cfg.Cache.Type,
		"embedding_provider", cfg.Embedding.Provider,
		"llm_provider", cfg.LLM.Provider,
		"reflection_threshold", cfg.Reflection.Threshold,
		"metrics_port", cfg.Metrics.Port,
	)
	log.Info("Press Ctrl+C to stop")

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			log.Error("Error stopping config watcher", "error", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}

	log.Info("Mnemo stopped gracefully")
}

// buildCore constructs the stores, providers, engines, retrievers and RAG
// orchestrators from configuration.
func buildCore(ctx context.Context, cfg *config.Config, log logger.Logger, m *metrics.Manager) (*core, error) {
	c := &core{}

	switch cfg.Cache.Type {
	case "redis":
		store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:      cfg.Cache.Addr,
			Password:  cfg.Cache.Password,
			DB:        cfg.Cache.DB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		c.cache = store
		log.Info("Initialized Redis cache", "addr", cfg.Cache.Addr)
	case "memory":
		c.cache = cache.NewMemoryStore()
		log.Info("Initialized memory cache")
	default:
		c.cache = cache.NewMemoryStore()
		log.Warn("Unknown cache type, using memory cache", "type", cfg.Cache.Type)
	}

	vectorDB, err := vector.NewDB(vector.ChromemConfig{
		Path:     cfg.Vector.Path,
		Compress: cfg.Vector.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	episodicCol, err := vectorDB.Collection(vector.CollectionEpisodic)
	if err != nil {
		return nil, err
	}
	semanticCol, err := vectorDB.Collection(vector.CollectionSemantic)
	if err != nil {
		return nil, err
	}
	reflectionsCol, err := vectorDB.Collection(vector.CollectionReflections)
	if err != nil {
		return nil, err
	}

	c.graph, err = graph.NewBadgerStore(graph.BadgerConfig{
		Path:       cfg.Graph.Path,
		SyncWrites: cfg.Graph.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	c.catalog, err = index.NewSQLiteIndex(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("open memory index: %w", err)
	}

	var inner embedding.Provider
	switch cfg.Embedding.Provider {
	case "mock":
		inner = embedding.NewMockProvider(cfg.Embedding.Dimension)
		log.Warn("Using mock embedding provider")
	default:
		inner = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimension:  cfg.Embedding.Dimension,
			Timeout:    cfg.Embedding.Timeout,
			MaxRetries: cfg.Embedding.MaxRetries,
		})
	}
	c.embedder, err = embedding.NewCachedProvider(inner, c.cache, embedding.CachedConfig{
		CacheTTL:  cfg.Embedding.CacheTTL,
		RateLimit: cfg.Embedding.RateLimit,
	}, m)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	switch cfg.LLM.Provider {
	case "anthropic":
		model, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create llm provider: %w", err)
		}
		c.model = llm.Instrument(model, "anthropic", m)
	default:
		c.model = llm.Disabled{}
		log.Warn("No LLM provider configured, reflection and RAG degrade to heuristics")
	}

	c.stm = memory.NewSTMManager(memory.STMConfig{
		WindowSize: cfg.Memory.STMWindowSize,
		TTL:        cfg.Memory.STMTTL,
	}, c.cache, log, m)

	c.reflection = memory.NewReflectionEngine(memory.ReflectionConfig{
		Threshold:   int64(cfg.Reflection.Threshold),
		MaxMemories: cfg.Reflection.MaxMemories,
	}, c.cache, episodicCol, reflectionsCol, c.catalog, c.embedder, c.model, log, m)

	c.episodic = memory.NewEpisodicEngine(memory.EpisodicConfig{
		RecencyHalfLifeDays: cfg.Memory.RecencyHalfLifeDays,
		DefaultTopK:         cfg.Retrieval.TopK,
	}, episodicCol, c.catalog, c.embedder, c.reflection, log, m)

	c.semantic = memory.NewSemanticEngine(memory.SemanticConfig{
		DefaultTopK: cfg.Retrieval.TopK,
	}, semanticCol, c.catalog, c.graph, c.embedder, log, m)

	c.vectorRetriever = retrieval.NewVectorRetriever(map[string]vector.Store{
		vector.CollectionEpisodic:    episodicCol,
		vector.CollectionSemantic:    semanticCol,
		vector.CollectionReflections: reflectionsCol,
	}, c.embedder, log, m)
	c.graphRetriever = retrieval.NewGraphRetriever(c.graph, log, m)
	c.hybrid = retrieval.NewHybridRetriever(retrieval.HybridConfig{
		VectorWeight: cfg.Retrieval.VectorWeight,
		GraphWeight:  cfg.Retrieval.GraphWeight,
		DefaultTopK:  cfg.Retrieval.TopK,
	}, c.vectorRetriever, c.graph, log, m)

	c.standardRAG = rag.NewStandardRAG(rag.StandardConfig{
		TopK: cfg.Retrieval.TopK,
	}, c.hybrid, c.model, log, m)
	c.agenticRAG = rag.NewAgenticRAG(rag.AgenticConfig{
		MaxRefinements: cfg.Retrieval.MaxRefineIterations,
		TopK:           cfg.Retrieval.TopK,
	}, c.hybrid, c.model, log, m)

	return c, nil
}

func (c *core) close(log logger.Logger) {
	if c.catalog != nil {
		if err := c.catalog.Close(); err != nil {
			log.Error("Error closing memory index", "error", err)
		}
	}
	if c.graph != nil {
		if err := c.graph.Close(); err != nil {
			log.Error("Error closing graph store", "error", err)
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			log.Error("Error closing cache store", "error", err)
		}
	}
}

// startWatcher hot-reloads the log level when the config file changes.
// Without a config file there is nothing to watch.
func startWatcher(ctx context.Context, loader *config.Loader, log logger.Logger) *config.Watcher {
	if *configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(*configPath, loader)
	if err != nil {
		log.Warn("Config watcher unavailable", "error", err)
		return nil
	}
	watcher.OnChange(func(newCfg *config.Config) {
		log.Info("Configuration reloaded", "log_level", newCfg.Log.Level)
		log.SetLevel(logger.ParseLevel(newCfg.Log.Level))
	})
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			log.Error("Config watcher error", "error", err)
		}
	}()
	return watcher
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("Mnemo - Tiered Agent Memory Engine\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Mnemo - Tiered memory engine for AI agents\n\n")
	fmt.Printf("Usage: mnemo [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  mnemo                                  # Run with default config\n")
	fmt.Printf("  mnemo -config config.yaml              # Use specific config file\n")
	fmt.Printf("  mnemo -log-level debug                 # Override specific options\n")
	fmt.Printf("  mnemo -version                         # Print version info\n")
}
