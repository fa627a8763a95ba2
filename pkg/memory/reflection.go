package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo/mnemo/pkg/embedding"
	"github.com/mnemo/mnemo/pkg/llm"
	"github.com/mnemo/mnemo/pkg/logger"
	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/store/cache"
	"github.com/mnemo/mnemo/pkg/store/index"
	"github.com/mnemo/mnemo/pkg/store/vector"
)

// reflectionSystemPrompt frames the consolidation request.
const reflectionSystemPrompt = `You are a reflection module for an AI agent's memory system. ` +
	`You distill recent experiences into durable, high-level insights.`

// fallbackInsight is stored when the language model is unavailable or its
// reply cannot be parsed.
const fallbackInsight = "Accumulated significant experiences requiring further analysis."

// insightImportance is the fixed score for stored reflections.
const insightImportance = 8

// ReflectionConfig holds reflection engine tunables.
type ReflectionConfig struct {
	// Threshold is the accumulated importance that triggers reflection.
	// Agents can override it individually.
	Threshold int64

	// MaxMemories caps the memories fed into one reflection.
	MaxMemories int
}

// DefaultReflectionConfig returns the standard tunables.
func DefaultReflectionConfig() ReflectionConfig {
	return ReflectionConfig{Threshold: 50, MaxMemories: 20}
}

// ReflectionEngine accumulates per-agent importance and, once a threshold
// is crossed, consolidates the agent's weightiest memories into insight
// records. The counter lives in the cache store so that accumulation is
// atomic across processes.
type ReflectionEngine struct {
	cfg         ReflectionConfig
	counters    cache.Store
	episodes    vector.Store
	reflections vector.Store
	catalog     index.Index
	embedder    embedding.Provider
	model       llm.Provider
	logger      logger.Logger
	metrics     *metrics.Manager
	now         func() time.Time
}

// NewReflectionEngine creates a reflection engine. episodes is the episodic
// vector collection the source memories are read from; reflections is the
// collection new insights are written to.
func NewReflectionEngine(cfg ReflectionConfig, counters cache.Store, episodes, reflections vector.Store, catalog index.Index, embedder embedding.Provider, model llm.Provider, log logger.Logger, m *metrics.Manager) *ReflectionEngine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultReflectionConfig().Threshold
	}
	if cfg.MaxMemories <= 0 {
		cfg.MaxMemories = DefaultReflectionConfig().MaxMemories
	}
	if model == nil {
		model = llm.Disabled{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NoOpManager()
	}
	return &ReflectionEngine{
		cfg:         cfg,
		counters:    counters,
		episodes:    episodes,
		reflections: reflections,
		catalog:     catalog,
		embedder:    embedder,
		model:       model,
		logger:      log,
		metrics:     m,
		now:         time.Now,
	}
}

func counterKey(agentID string) string {
	return "reflection:counter:" + agentID
}

func thresholdKey(agentID string) string {
	return "reflection:threshold:" + agentID
}

// Accumulate adds amount to the agent's importance counter and reports
// whether the threshold was crossed from below by this call. Concurrent
// writers see at most one crossing per threshold passage.
func (r *ReflectionEngine) Accumulate(ctx context.Context, agentID string, amount int) (bool, int64, error) {
	if agentID == "" {
		return false, 0, fmt.Errorf("%w: agent id is required", ErrValidation)
	}

	threshold, err := r.Threshold(ctx, agentID)
	if err != nil {
		return false, 0, err
	}

	total, err := r.counters.IncrBy(ctx, counterKey(agentID), int64(amount))
	if err != nil {
		return false, 0, fmt.Errorf("failed to accumulate importance for %s: %w", agentID, err)
	}

	before := total - int64(amount)
	crossed := before < threshold && total >= threshold
	return crossed, total, nil
}

// Accumulated returns the agent's current counter.
func (r *ReflectionEngine) Accumulated(ctx context.Context, agentID string) (int64, error) {
	raw, err := r.counters.Get(ctx, counterKey(agentID))
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter for %s: %w", agentID, err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter for %s: %w", agentID, err)
	}
	return n, nil
}

// ShouldReflect reports whether the agent's counter has reached its threshold.
func (r *ReflectionEngine) ShouldReflect(ctx context.Context, agentID string) (bool, error) {
	total, err := r.Accumulated(ctx, agentID)
	if err != nil {
		return false, err
	}
	threshold, err := r.Threshold(ctx, agentID)
	if err != nil {
		return false, err
	}
	return total >= threshold, nil
}

// Threshold returns the agent's effective threshold.
func (r *ReflectionEngine) Threshold(ctx context.Context, agentID string) (int64, error) {
	raw, err := r.counters.Get(ctx, thresholdKey(agentID))
	if errors.Is(err, cache.ErrNotFound) {
		return r.cfg.Threshold, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read threshold for %s: %w", agentID, err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return r.cfg.Threshold, nil
	}
	return n, nil
}

// SetThreshold overrides the agent's threshold. Zero removes the override.
func (r *ReflectionEngine) SetThreshold(ctx context.Context, agentID string, threshold int64) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", ErrValidation)
	}
	if threshold < 0 {
		return fmt.Errorf("%w: threshold must not be negative", ErrValidation)
	}
	if threshold == 0 {
		return r.counters.Del(ctx, thresholdKey(agentID))
	}
	return r.counters.Set(ctx, thresholdKey(agentID), strconv.FormatInt(threshold, 10), 0)
}

// ReflectionOptions narrow the memories consolidated by one reflection.
// Zero values fall back to the engine defaults.
type ReflectionOptions struct {
	// MaxMemories caps the consolidated memories.
	MaxMemories int

	// Since and Until bound the recording time of eligible memories.
	Since time.Time
	Until time.Time

	// MinImportance excludes memories scored below it.
	MinImportance int
}

// TriggerReflection consolidates the agent's weightiest memories into a new
// reflection and resets the counter. opts may be nil for the defaults. With
// no matching memories it returns ErrInsufficientData and leaves the counter
// alone.
func (r *ReflectionEngine) TriggerReflection(ctx context.Context, agentID string, opts *ReflectionOptions) (*Reflection, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", ErrValidation)
	}

	filter := index.Filter{
		AgentID:    agentID,
		MemoryType: string(TypeEpisodic),
		OrderBy:    "importance",
		Limit:      r.cfg.MaxMemories,
	}
	if opts != nil {
		if opts.MaxMemories > 0 {
			filter.Limit = opts.MaxMemories
		}
		filter.Since = opts.Since
		filter.Until = opts.Until
		filter.MinImportance = opts.MinImportance
	}

	entries, err := r.catalog.List(ctx, filter)
	if err != nil {
		r.metrics.RecordReflectionRun("error", 0)
		return nil, fmt.Errorf("failed to select memories for %s: %w", agentID, err)
	}
	if len(entries) == 0 {
		r.metrics.RecordReflectionRun("skipped", 0)
		return nil, fmt.Errorf("%w: no memories to reflect on for %s", ErrInsufficientData, agentID)
	}

	var contents []string
	var sourceIDs []string
	for _, entry := range entries {
		point, err := r.episodes.Get(ctx, entry.ID)
		if errors.Is(err, vector.ErrNotFound) {
			continue
		}
		if err != nil {
			r.metrics.RecordReflectionRun("error", 0)
			return nil, fmt.Errorf("failed to load memory %s: %w", entry.ID, err)
		}
		contents = append(contents, point.Payload.Content)
		sourceIDs = append(sourceIDs, entry.ID)
	}
	if len(contents) == 0 {
		r.metrics.RecordReflectionRun("skipped", 0)
		return nil, fmt.Errorf("%w: no memories to reflect on for %s", ErrInsufficientData, agentID)
	}

	insights := r.generateInsights(ctx, contents)

	reflection := &Reflection{
		ID:              uuid.New().String(),
		AgentID:         agentID,
		Insights:        insights,
		SourceMemoryIDs: sourceIDs,
		Importance:      insightImportance,
		Timestamp:       r.now(),
	}

	if err := r.store(ctx, reflection); err != nil {
		r.metrics.RecordReflectionRun("error", 0)
		return nil, err
	}

	if err := r.counters.Del(ctx, counterKey(agentID)); err != nil {
		r.logger.Warn("failed to reset reflection counter", "agent_id", agentID, "error", err)
	}
	r.metrics.SetAccumulatedImportance(0)
	r.metrics.RecordReflectionRun("success", len(insights))

	r.logger.Info("reflection stored",
		"agent_id", agentID, "reflection_id", reflection.ID,
		"insights", len(insights), "sources", len(sourceIDs))
	return reflection, nil
}

// generateInsights asks the language model for 3 to 5 insights and falls
// back to a generic placeholder when the call or the parse fails.
func (r *ReflectionEngine) generateInsights(ctx context.Context, contents []string) []string {
	var b strings.Builder
	b.WriteString("Recent memories:\n")
	for i, content := range contents {
		fmt.Fprintf(&b, "%d. %s\n", i+1, content)
	}
	b.WriteString("\nDistill these memories into 3-5 high-level insights about ")
	b.WriteString("patterns, lessons or notable facts. Reply with a numbered list only.")

	reply, err := r.model.Complete(ctx, reflectionSystemPrompt, b.String())
	if err != nil {
		r.logger.Warn("insight generation failed, using fallback", "error", err)
		return []string{fallbackInsight}
	}

	insights := parseNumberedList(reply)
	if len(insights) == 0 {
		r.logger.Warn("could not parse insights, using fallback")
		return []string{fallbackInsight}
	}
	return insights
}

// store writes the reflection to the vector collection and the catalog.
func (r *ReflectionEngine) store(ctx context.Context, ref *Reflection) error {
	content := strings.Join(ref.Insights, "\n")

	emb, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed reflection: %w", err)
	}

	err = r.reflections.Upsert(ctx, vector.Point{
		ID:        ref.ID,
		Embedding: emb,
		Payload: vector.Payload{
			AgentID:    ref.AgentID,
			Content:    content,
			MemoryType: string(TypeReflection),
			Importance: ref.Importance,
			Timestamp:  ref.Timestamp,
			Context: map[string]interface{}{
				"source_memory_ids": strings.Join(ref.SourceMemoryIDs, ","),
			},
		},
	})
	if err != nil {
		r.metrics.RecordMemoryWrite("reflection", "error")
		return fmt.Errorf("failed to store reflection vector: %w", err)
	}

	err = r.catalog.Record(ctx, index.Entry{
		ID:              ref.ID,
		AgentID:         ref.AgentID,
		MemoryType:      string(TypeReflection),
		StorageLocation: "vector",
		Importance:      ref.Importance,
		Metadata: map[string]interface{}{
			"insight_count": len(ref.Insights),
		},
		CreatedAt: ref.Timestamp,
	})
	if err != nil {
		r.logger.Error("consistency gap: reflection vector stored without index row",
			"reflection_id", ref.ID, "error", err)
		r.metrics.RecordMemoryWrite("reflection", "error")
		return fmt.Errorf("failed to index reflection: %w", err)
	}

	r.metrics.RecordMemoryWrite("reflection", "success")
	r.metrics.RecordImportance("reflection", ref.Importance)
	return nil
}

// GetReflections returns the agent's reflections, newest first.
func (r *ReflectionEngine) GetReflections(ctx context.Context, agentID string, limit int) ([]Reflection, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", ErrValidation)
	}

	entries, err := r.catalog.List(ctx, index.Filter{
		AgentID:    agentID,
		MemoryType: string(TypeReflection),
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reflections for %s: %w", agentID, err)
	}

	reflections := make([]Reflection, 0, len(entries))
	for _, entry := range entries {
		point, err := r.reflections.Get(ctx, entry.ID)
		if errors.Is(err, vector.ErrNotFound) {
			r.logger.Warn("consistency gap: reflection index row without vector",
				"reflection_id", entry.ID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load reflection %s: %w", entry.ID, err)
		}

		ref := Reflection{
			ID:         point.ID,
			AgentID:    point.Payload.AgentID,
			Insights:   strings.Split(point.Payload.Content, "\n"),
			Importance: point.Payload.Importance,
			Timestamp:  point.Payload.Timestamp,
		}
		if raw, ok := point.Payload.Context["source_memory_ids"].(string); ok && raw != "" {
			ref.SourceMemoryIDs = strings.Split(raw, ",")
		}
		reflections = append(reflections, ref)
	}
	return reflections, nil
}

// parseNumberedList extracts items from a numbered or bulleted reply.
func parseNumberedList(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		stripped := line
		switch {
		case strings.HasPrefix(line, "-"):
			stripped = strings.TrimSpace(line[1:])
		case strings.HasPrefix(line, "*"):
			stripped = strings.TrimSpace(line[1:])
		default:
			i := 0
			for i < len(line) && line[i] >= '0' && line[i] <= '9' {
				i++
			}
			if i == 0 {
				continue
			}
			rest := line[i:]
			if !strings.HasPrefix(rest, ".") && !strings.HasPrefix(rest, ")") {
				continue
			}
			stripped = strings.TrimSpace(rest[1:])
		}

		if stripped != "" {
			items = append(items, stripped)
		}
	}
	return items
}
