// Package config provides configuration management for Mnemo.
package config

import (
	"time"
)

// Config is the global configuration for Mnemo.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Cache is the key-value cache store configuration.
	Cache CacheConfig `mapstructure:"cache"`

	// Vector is the vector index configuration.
	Vector VectorConfig `mapstructure:"vector"`

	// Graph is the graph store configuration.
	Graph GraphConfig `mapstructure:"graph"`

	// Index is the relational memory index configuration.
	Index IndexConfig `mapstructure:"index"`

	// Embedding is the embedding provider configuration.
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// LLM is the language model provider configuration.
	LLM LLMConfig `mapstructure:"llm"`

	// Memory holds the memory engine tunables.
	Memory MemoryConfig `mapstructure:"memory"`

	// Reflection holds the reflection engine tunables.
	Reflection ReflectionConfig `mapstructure:"reflection"`

	// Retrieval holds the retriever and RAG tunables.
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`

	// Format is the output format (json or text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the log destination (stdout, stderr, or a file path).
	Output string `mapstructure:"output"`
}

// CacheConfig holds the key-value cache store settings.
type CacheConfig struct {
	// Type selects the backend: "redis" or "memory".
	Type string `mapstructure:"type" validate:"oneof=redis memory"`

	// Addr is the Redis address (host:port).
	Addr string `mapstructure:"addr"`

	// Password is the optional Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis logical database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// KeyPrefix is prepended to every cache key.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// VectorConfig holds the vector index settings.
type VectorConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path string `mapstructure:"path"`

	// Compress enables gzip compression for persisted collections.
	Compress bool `mapstructure:"compress"`
}

// GraphConfig holds the graph store settings.
type GraphConfig struct {
	// Path is the Badger data directory. Empty keeps the graph in memory only.
	Path string `mapstructure:"path"`

	// SyncWrites forces fsync on every Badger write.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// IndexConfig holds the relational memory index settings.
type IndexConfig struct {
	// Path is the SQLite database file. ":memory:" keeps the index in memory.
	Path string `mapstructure:"path" validate:"required"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the backend: "openai" or "mock".
	Provider string `mapstructure:"provider" validate:"oneof=openai mock"`

	// BaseURL is the API endpoint for OpenAI-compatible providers.
	BaseURL string `mapstructure:"base_url"`

	// APIKey is the provider API key. Falls back to OPENAI_API_KEY.
	APIKey string `mapstructure:"api_key"`

	// Model is the embedding model name.
	Model string `mapstructure:"model"`

	// Dimension is the embedding vector size.
	Dimension int `mapstructure:"dimension" validate:"min=1"`

	// Timeout bounds a single provider call.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxRetries bounds retries on transient provider failures.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`

	// CacheTTL is the lifetime of cached embeddings in the cache store.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// RateLimit caps provider calls per second. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" validate:"min=0"`
}

// LLMConfig holds the language model provider settings.
type LLMConfig struct {
	// Provider selects the backend: "anthropic" or "none".
	Provider string `mapstructure:"provider" validate:"oneof=anthropic none"`

	// APIKey is the provider API key. Falls back to ANTHROPIC_API_KEY.
	APIKey string `mapstructure:"api_key"`

	// Model is the chat model name.
	Model string `mapstructure:"model"`

	// MaxTokens bounds a single completion.
	MaxTokens int `mapstructure:"max_tokens" validate:"min=1"`
}

// MemoryConfig holds the memory engine tunables.
type MemoryConfig struct {
	// STMWindowSize is the default short-term memory window per session.
	STMWindowSize int `mapstructure:"stm_window_size" validate:"min=1,max=100"`

	// STMTTL is the short-term memory expiry, refreshed on every append.
	STMTTL time.Duration `mapstructure:"stm_ttl"`

	// RecencyHalfLifeDays controls the exponential recency decay.
	RecencyHalfLifeDays float64 `mapstructure:"recency_half_life_days" validate:"min=1"`
}

// ReflectionConfig holds the reflection engine tunables.
type ReflectionConfig struct {
	// Threshold is the default accumulated-importance trigger threshold.
	Threshold int `mapstructure:"threshold" validate:"min=1"`

	// MaxMemories caps the episodic memories consolidated per reflection.
	MaxMemories int `mapstructure:"max_memories" validate:"min=1"`
}

// RetrievalConfig holds retriever and RAG tunables.
type RetrievalConfig struct {
	// TopK is the default number of results per retrieval.
	TopK int `mapstructure:"top_k" validate:"min=1"`

	// VectorWeight is the default hybrid merge weight for vector scores.
	VectorWeight float64 `mapstructure:"vector_weight" validate:"min=0,max=1"`

	// GraphWeight is the default hybrid merge weight for graph scores.
	GraphWeight float64 `mapstructure:"graph_weight" validate:"min=0,max=1"`

	// MaxRefineIterations bounds the agentic RAG refine loop.
	MaxRefineIterations int `mapstructure:"max_refine_iterations" validate:"min=0,max=10"`
}

// MetricsConfig holds the Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled turns the metrics endpoint on.
	Enabled bool `mapstructure:"enabled"`

	// Port is the metrics HTTP port.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// Path is the metrics HTTP path.
	Path string `mapstructure:"path"`
}

// TracingConfig holds the OpenTelemetry tracing settings.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the span exporter. Only "otlp" is supported.
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds a single export batch.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are added to every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler selects the sampling strategy: always_on, always_off or ratio.
	Sampler string `mapstructure:"sampler"`

	// SampleRate is the trace ratio for the ratio sampler.
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}
