package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "mnemo",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cache: CacheConfig{
			Type:      "redis",
			Addr:      "localhost:6379",
			DB:        0,
			KeyPrefix: "mnemo:",
		},
		Vector: VectorConfig{
			Path:     "", // in-memory
			Compress: false,
		},
		Graph: GraphConfig{
			Path:       "", // in-memory
			SyncWrites: false,
		},
		Index: IndexConfig{
			Path: "mnemo-index.db",
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimension:  1536,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			CacheTTL:   24 * time.Hour,
			RateLimit:  0,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 500,
		},
		Memory: MemoryConfig{
			STMWindowSize:       10,
			STMTTL:              time.Hour,
			RecencyHalfLifeDays: 30,
		},
		Reflection: ReflectionConfig{
			Threshold:   50,
			MaxMemories: 20,
		},
		Retrieval: RetrievalConfig{
			TopK:                10,
			VectorWeight:        0.7,
			GraphWeight:         0.3,
			MaxRefineIterations: 2,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    10 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}
