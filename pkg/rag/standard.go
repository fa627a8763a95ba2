// Package rag builds answers from retrieved memories, either in a single
// retrieve-then-generate pass or through the iterative agentic loop.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mnemo/mnemo/pkg/llm"
	"github.com/mnemo/mnemo/pkg/logger"
	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/retrieval"
)

// Sentinel errors for the orchestrators.
var (
	ErrValidation = errors.New("rag: validation failed")
)

// Retriever is the read side the orchestrators run on. The hybrid
// retriever implements it.
type Retriever interface {
	Retrieve(ctx context.Context, agentID, query string, topK int) ([]retrieval.HybridResult, error)
	RetrieveAuto(ctx context.Context, agentID, query string, topK int) ([]retrieval.HybridResult, error)
}

// Source is a memory that contributed to an answer.
type Source struct {
	ID         string  `json:"id"`
	MemoryType string  `json:"memory_type"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Request is one question against an agent's memories.
type Request struct {
	// AgentID scopes the retrieval.
	AgentID string

	// Query is the question.
	Query string

	// TopK bounds the retrieved context, defaulting to the orchestrator's
	// configured value.
	TopK int
}

func (r *Request) validate() error {
	if r.AgentID == "" {
		return fmt.Errorf("%w: agent id is required", ErrValidation)
	}
	if r.Query == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	return nil
}

// Response is a generated answer with its supporting memories.
type Response struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`

	// Confidence is set by ExecuteWithConfidence, zero otherwise.
	Confidence float64 `json:"confidence,omitempty"`
}

const defaultSystemPrompt = `You answer questions using the agent's stored memories. ` +
	`Ground every statement in the provided context and say so when the context does not cover the question.`

const citationSystemPrompt = defaultSystemPrompt +
	` Cite the memories you use with bracketed numbers like [1].`

// StandardConfig holds the single-pass orchestrator tunables.
type StandardConfig struct {
	// TopK is the default retrieved context size.
	TopK int
}

// StandardRAG is the single-pass retrieve-then-generate orchestrator.
type StandardRAG struct {
	retriever Retriever
	model     llm.Provider
	cfg       StandardConfig
	logger    logger.Logger
	metrics   *metrics.Manager
}

// NewStandardRAG creates a single-pass orchestrator.
func NewStandardRAG(cfg StandardConfig, retriever Retriever, model llm.Provider, log logger.Logger, m *metrics.Manager) *StandardRAG {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
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
	return &StandardRAG{retriever: retriever, model: model, cfg: cfg, logger: log, metrics: m}
}

// Execute retrieves context and generates an answer.
func (s *StandardRAG) Execute(ctx context.Context, req Request) (*Response, error) {
	return s.execute(ctx, req, defaultSystemPrompt, buildContext)
}

// ExecuteWithTemplate generates the prompt from a template. The template's
// {{context}} and {{query}} placeholders are replaced with the retrieved
// context block and the query.
func (s *StandardRAG) ExecuteWithTemplate(ctx context.Context, req Request, template string) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !strings.Contains(template, "{{query}}") {
		return nil, fmt.Errorf("%w: template must contain {{query}}", ErrValidation)
	}

	sources, err := s.retrieveSources(ctx, req)
	if err != nil {
		return nil, err
	}

	prompt := strings.ReplaceAll(template, "{{context}}", buildContext(sources))
	prompt = strings.ReplaceAll(prompt, "{{query}}", req.Query)

	answer := s.generate(ctx, defaultSystemPrompt, prompt, sources)
	return &Response{Answer: answer, Sources: sources}, nil
}

// ExecuteWithCitations instructs the model to cite sources by number. The
// numbering matches the order of Sources in the response.
func (s *StandardRAG) ExecuteWithCitations(ctx context.Context, req Request) (*Response, error) {
	return s.execute(ctx, req, citationSystemPrompt, buildNumberedContext)
}

// ExecuteWithConfidence answers and grades the answer by the retrieval
// scores behind it.
func (s *StandardRAG) ExecuteWithConfidence(ctx context.Context, req Request) (*Response, error) {
	resp, err := s.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Confidence = confidence(resp.Sources)
	return resp, nil
}

func (s *StandardRAG) execute(ctx context.Context, req Request, system string, render func([]Source) string) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	sources, err := s.retrieveSources(ctx, req)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Context:\n%s\nQuestion: %s", render(sources), req.Query)
	answer := s.generate(ctx, system, prompt, sources)
	return &Response{Answer: answer, Sources: sources}, nil
}

func (s *StandardRAG) retrieveSources(ctx context.Context, req Request) ([]Source, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	started := time.Now()
	results, err := s.retriever.Retrieve(ctx, req.AgentID, req.Query, topK)
	if err != nil {
		s.metrics.RecordRetrieval("rag_standard", "error", time.Since(started), 0)
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	s.metrics.RecordRetrieval("rag_standard", "success", time.Since(started), len(results))

	return toSources(results), nil
}

// generate asks the model for an answer, falling back to a stitched
// summary of the sources when the model is unavailable.
func (s *StandardRAG) generate(ctx context.Context, system, prompt string, sources []Source) string {
	answer, err := s.model.Complete(ctx, system, prompt)
	if err != nil {
		s.logger.Warn("generation failed, falling back to retrieved content", "error", err)
		return fallbackAnswer(sources)
	}
	return answer
}

// confidence grades an answer from its retrieval scores.
func confidence(sources []Source) float64 {
	if len(sources) == 0 {
		return 0.3
	}

	var maxScore, sum float64
	for _, src := range sources {
		if src.Score > maxScore {
			maxScore = src.Score
		}
		sum += src.Score
	}
	avg := sum / float64(len(sources))

	switch {
	case maxScore > 0.8 && len(sources) >= 3:
		return 0.9
	case avg > 0.6:
		return 0.7
	case maxScore > 0.5:
		return 0.5
	default:
		return 0.3
	}
}

func toSources(results []retrieval.HybridResult) []Source {
	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			ID:         r.ID,
			MemoryType: r.MemoryType,
			Content:    r.Content,
			Score:      r.Score,
		}
	}
	return sources
}

func buildContext(sources []Source) string {
	if len(sources) == 0 {
		return "(no stored memories matched)\n"
	}
	var b strings.Builder
	for _, src := range sources {
		b.WriteString("- ")
		b.WriteString(src.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func buildNumberedContext(sources []Source) string {
	if len(sources) == 0 {
		return "(no stored memories matched)\n"
	}
	var b strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, src.Content)
	}
	return b.String()
}

// fallbackAnswer stitches the strongest sources into a plain answer.
func fallbackAnswer(sources []Source) string {
	if len(sources) == 0 {
		return "No stored memories matched the question."
	}
	var parts []string
	for i, src := range sources {
		if i == 3 {
			break
		}
		parts = append(parts, src.Content)
	}
	return "Based on stored memories: " + strings.Join(parts, " ")
}
