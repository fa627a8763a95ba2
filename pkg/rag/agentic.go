package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mnemo/mnemo/pkg/llm"
	"github.com/mnemo/mnemo/pkg/logger"
	"github.com/mnemo/mnemo/pkg/metrics"
)

// State names a position in the agentic loop.
type State string

const (
	StateDraft       State = "draft"
	StateAnalyzed    State = "analyzed"
	StatePlanned     State = "planned"
	StateRetrieved   State = "retrieved"
	StateEvaluated   State = "evaluated"
	StateRefining    State = "refining"
	StateSynthesized State = "synthesized"

	// Terminal states.
	StateDone      State = "done"
	StateExhausted State = "exhausted"
	StateFailed    State = "failed"
)

// Terminal reports whether the loop stops in this state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateExhausted || s == StateFailed
}

// Step is one recorded transition of the loop.
type Step struct {
	State State     `json:"state"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

// AgenticResult is the outcome of an agentic run. State is always terminal:
// Done when the evaluator accepted the context, Exhausted when the
// refinement budget ran out and the answer is best-effort, Failed when
// retrieval itself broke.
type AgenticResult struct {
	State      State    `json:"state"`
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Iterations int      `json:"iterations"`
	Trace      []Step   `json:"trace"`
}

// AgenticConfig holds the loop tunables.
type AgenticConfig struct {
	// MaxRefinements bounds the retry loop.
	MaxRefinements int

	// TopK is the retrieved context size per iteration.
	TopK int
}

// DefaultAgenticConfig returns the standard loop bounds.
func DefaultAgenticConfig() AgenticConfig {
	return AgenticConfig{MaxRefinements: 2, TopK: 10}
}

const analyzeSystemPrompt = `You prepare retrieval queries for an AI agent's memory system. ` +
	`Rewrite the question as a short, self-contained search query. Reply with the query only.`

const evaluateSystemPrompt = `You judge whether retrieved memories can answer a question. ` +
	`Reply SUFFICIENT when they can. Otherwise reply REFINE: followed by a better search query.`

// AgenticRAG runs the analyze-retrieve-evaluate-refine loop. Every run ends
// in a terminal state after at most MaxRefinements retrieval rounds beyond
// the first.
type AgenticRAG struct {
	retriever Retriever
	model     llm.Provider
	cfg       AgenticConfig
	logger    logger.Logger
	metrics   *metrics.Manager
	now       func() time.Time
}

// NewAgenticRAG creates an agentic orchestrator.
func NewAgenticRAG(cfg AgenticConfig, retriever Retriever, model llm.Provider, log logger.Logger, m *metrics.Manager) *AgenticRAG {
	def := DefaultAgenticConfig()
	if cfg.MaxRefinements < 0 {
		cfg.MaxRefinements = def.MaxRefinements
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
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
	return &AgenticRAG{
		retriever: retriever,
		model:     model,
		cfg:       cfg,
		logger:    log,
		metrics:   m,
		now:       time.Now,
	}
}

// Execute runs the loop for one question.
func (a *AgenticRAG) Execute(ctx context.Context, req Request) (*AgenticResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	started := a.now()
	result := &AgenticResult{State: StateDraft}
	result.step(StateDraft, req.Query, a.now())

	// Draft -> Analyzed.
	searchQuery := a.analyze(ctx, req.Query)
	result.step(StateAnalyzed, searchQuery, a.now())

	// Analyzed -> Planned. Strategy selection is delegated to the
	// retriever's auto mode.
	result.step(StatePlanned, "auto strategy", a.now())

	seen := make(map[string]bool)
	accepted := false

	for {
		result.Iterations++

		// -> Retrieved.
		found, err := a.retriever.RetrieveAuto(ctx, req.AgentID, searchQuery, a.cfg.TopK)
		if err != nil {
			result.State = StateFailed
			result.step(StateFailed, err.Error(), a.now())
			a.metrics.RecordRetrieval("rag_agentic", "error", a.now().Sub(started), 0)
			return result, fmt.Errorf("retrieval failed: %w", err)
		}
		added := 0
		for _, src := range toSources(found) {
			if !seen[src.ID] {
				seen[src.ID] = true
				result.Sources = append(result.Sources, src)
				added++
			}
		}
		result.step(StateRetrieved, fmt.Sprintf("%d new sources", added), a.now())

		// -> Evaluated.
		sufficient, refined := a.evaluate(ctx, req.Query, result.Sources)
		result.step(StateEvaluated, fmt.Sprintf("sufficient=%t", sufficient), a.now())

		if sufficient {
			accepted = true
			break
		}
		if result.Iterations > a.cfg.MaxRefinements {
			break
		}

		// -> Refining.
		if refined == "" || refined == searchQuery {
			refined = req.Query + " " + searchQuery
		}
		searchQuery = refined
		result.step(StateRefining, searchQuery, a.now())
	}

	// -> Synthesized.
	result.Answer = a.synthesize(ctx, req.Query, result.Sources)
	result.step(StateSynthesized, "", a.now())

	if accepted {
		result.State = StateDone
	} else {
		result.State = StateExhausted
	}
	result.step(result.State, "", a.now())

	a.metrics.RecordRetrieval("rag_agentic", "success", a.now().Sub(started), len(result.Sources))
	a.logger.Debug("agentic run finished",
		"agent_id", req.AgentID, "state", string(result.State),
		"iterations", result.Iterations, "sources", len(result.Sources))
	return result, nil
}

func (r *AgenticResult) step(state State, note string, at time.Time) {
	r.Trace = append(r.Trace, Step{State: state, Note: note, At: at})
}

// analyze rewrites the question into a search query, keeping the original
// when the model is unavailable or replies nothing usable.
func (a *AgenticRAG) analyze(ctx context.Context, query string) string {
	reply, err := a.model.Complete(ctx, analyzeSystemPrompt, query)
	if err != nil {
		return query
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return query
	}
	// Models sometimes echo a labeled or quoted query.
	reply = strings.Trim(strings.TrimPrefix(reply, "Query:"), ` "`)
	if reply == "" {
		return query
	}
	return reply
}

// evaluate judges the gathered sources, returning a refined query when they
// fall short. Without a model it falls back to a score heuristic.
func (a *AgenticRAG) evaluate(ctx context.Context, query string, sources []Source) (bool, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nRetrieved memories:\n", query)
	if len(sources) == 0 {
		b.WriteString("(none)\n")
	}
	for i, src := range sources {
		fmt.Fprintf(&b, "%d. %s\n", i+1, src.Content)
	}

	reply, err := a.model.Complete(ctx, evaluateSystemPrompt, b.String())
	if err != nil {
		return evaluateByScore(sources), ""
	}
	return parseEvaluation(reply, sources)
}

// evaluateByScore accepts the context when any source clears 0.5.
func evaluateByScore(sources []Source) bool {
	for _, src := range sources {
		if src.Score >= 0.5 {
			return true
		}
	}
	return false
}

// parseEvaluation reads the evaluator's verdict. Unparseable replies fall
// back to the score heuristic.
func parseEvaluation(reply string, sources []Source) (bool, string) {
	trimmed := strings.TrimSpace(reply)
	upper := strings.ToUpper(trimmed)

	if strings.HasPrefix(upper, "SUFFICIENT") {
		return true, ""
	}
	if i := strings.Index(upper, "REFINE:"); i >= 0 {
		return false, strings.TrimSpace(trimmed[i+len("REFINE:"):])
	}
	return evaluateByScore(sources), ""
}

// synthesize produces the final answer from the gathered sources.
func (a *AgenticRAG) synthesize(ctx context.Context, query string, sources []Source) string {
	prompt := fmt.Sprintf("Context:\n%s\nQuestion: %s", buildContext(sources), query)
	answer, err := a.model.Complete(ctx, defaultSystemPrompt, prompt)
	if err != nil {
		a.logger.Warn("synthesis failed, falling back to retrieved content", "error", err)
		return fallbackAnswer(sources)
	}
	return answer
}
