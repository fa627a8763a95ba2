package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo/mnemo/pkg/llm"
	"github.com/mnemo/mnemo/pkg/retrieval"
)

type stubRetriever struct {
	results []retrieval.HybridResult
	err     error

	// queries records every retrieval in order.
	queries []string
}

func (s *stubRetriever) Retrieve(ctx context.Context, agentID, query string, topK int) ([]retrieval.HybridResult, error) {
	s.queries = append(s.queries, query)
	return s.results, s.err
}

func (s *stubRetriever) RetrieveAuto(ctx context.Context, agentID, query string, topK int) ([]retrieval.HybridResult, error) {
	return s.Retrieve(ctx, agentID, query, topK)
}

func hybridResult(id, content string, score float64) retrieval.HybridResult {
	hr := retrieval.HybridResult{}
	hr.ID = id
	hr.Content = content
	hr.MemoryType = "episodic"
	hr.Score = score
	return hr
}

func TestStandardExecute(t *testing.T) {
	ctx := context.Background()
	retriever := &stubRetriever{results: []retrieval.HybridResult{
		hybridResult("m-1", "the deploy pipeline runs on fridays", 0.9),
		hybridResult("m-2", "releases are tagged by the platform team", 0.7),
	}}
	model := llm.NewScripted("Deploys happen on Fridays.")
	s := NewStandardRAG(StandardConfig{}, retriever, model, nil, nil)

	resp, err := s.Execute(ctx, Request{AgentID: "agent-1", Query: "when do we deploy?"})
	require.NoError(t, err)
	assert.Equal(t, "Deploys happen on Fridays.", resp.Answer)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "m-1", resp.Sources[0].ID)

	// The retrieved content reaches the model.
	require.Len(t, model.Prompts, 1)
	assert.Contains(t, model.Prompts[0], "the deploy pipeline runs on fridays")
	assert.Contains(t, model.Prompts[0], "when do we deploy?")
}

func TestStandardExecuteValidation(t *testing.T) {
	ctx := context.Background()
	s := NewStandardRAG(StandardConfig{}, &stubRetriever{}, nil, nil, nil)

	_, err := s.Execute(ctx, Request{Query: "no agent"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Execute(ctx, Request{AgentID: "agent-1"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStandardExecuteFallsBackWithoutModel(t *testing.T) {
	ctx := context.Background()
	retriever := &stubRetriever{results: []retrieval.HybridResult{
		hybridResult("m-1", "the relevant memory", 0.9),
	}}
	s := NewStandardRAG(StandardConfig{}, retriever, llm.Disabled{}, nil, nil)

	resp, err := s.Execute(ctx, Request{AgentID: "agent-1", Query: "anything"})
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "the relevant memory")
	require.Len(t, resp.Sources, 1)
}

func TestStandardExecuteEmptyRetrieval(t *testing.T) {
	ctx := context.Background()
	s := NewStandardRAG(StandardConfig{}, &stubRetriever{}, llm.Disabled{}, nil, nil)

	resp, err := s.Execute(ctx, Request{AgentID: "agent-1", Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, "No stored memories matched the question.", resp.Answer)
	assert.Empty(t, resp.Sources)
}

func TestExecuteWithTemplate(t *testing.T) {
	ctx := context.Background()
	retriever := &stubRetriever{results: []retrieval.HybridResult{
		hybridResult("m-1", "fact one", 0.9),
	}}
	model := llm.NewScripted("templated answer")
	s := NewStandardRAG(StandardConfig{}, retriever, model, nil, nil)

	resp, err := s.ExecuteWithTemplate(ctx, Request{AgentID: "agent-1", Query: "the question"},
		"Facts:\n{{context}}\nAnswer this: {{query}}")
	require.NoError(t, err)
	assert.Equal(t, "templated answer", resp.Answer)

	require.Len(t, model.Prompts, 1)
	assert.Contains(t, model.Prompts[0], "Facts:\n- fact one")
	assert.Contains(t, model.Prompts[0], "Answer this: the question")
	assert.NotContains(t, model.Prompts[0], "{{")

	_, err = s.ExecuteWithTemplate(ctx, Request{AgentID: "agent-1", Query: "q"}, "no placeholder")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExecuteWithCitations(t *testing.T) {
	ctx := context.Background()
	retriever := &stubRetriever{results: []retrieval.HybridResult{
		hybridResult("m-1", "first fact", 0.9),
		hybridResult("m-2", "second fact", 0.8),
	}}
	model := llm.NewScripted("It is so [1].")
	s := NewStandardRAG(StandardConfig{}, retriever, model, nil, nil)

	resp, err := s.ExecuteWithCitations(ctx, Request{AgentID: "agent-1", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "It is so [1].", resp.Answer)

	// Context is numbered to match the source order.
	require.Len(t, model.Prompts, 1)
	assert.Contains(t, model.Prompts[0], "[1] first fact")
	assert.Contains(t, model.Prompts[0], "[2] second fact")
	assert.Contains(t, model.Systems[0], "[1]")
}

func TestExecuteWithConfidence(t *testing.T) {
	ctx := context.Background()
	retriever := &stubRetriever{results: []retrieval.HybridResult{
		hybridResult("m-1", "a", 0.95),
		hybridResult("m-2", "b", 0.85),
		hybridResult("m-3", "c", 0.82),
	}}
	s := NewStandardRAG(StandardConfig{}, retriever, llm.NewScripted("ok"), nil, nil)

	resp, err := s.ExecuteWithConfidence(ctx, Request{AgentID: "agent-1", Query: "q"})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
}

func TestConfidenceGrades(t *testing.T) {
	tests := []struct {
		name    string
		sources []Source
		want    float64
	}{
		{
			"strong match with broad support",
			[]Source{{Score: 0.85}, {Score: 0.4}, {Score: 0.3}},
			0.9,
		},
		{
			"high average",
			[]Source{{Score: 0.7}, {Score: 0.65}},
			0.7,
		},
		{
			"single decent match",
			[]Source{{Score: 0.55}, {Score: 0.1}},
			0.5,
		},
		{
			"weak matches",
			[]Source{{Score: 0.2}},
			0.3,
		},
		{
			"no sources",
			nil,
			0.3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, confidence(tt.sources), 1e-9)
		})
	}
}
