package llm

import (
	"context"
	"time"

	"github.com/mnemo/mnemo/pkg/metrics"
)

// instrumented wraps a Provider and records every call as a provider
// metric under the given name.
type instrumented struct {
	inner   Provider
	name    string
	metrics *metrics.Manager
}

// Instrument wraps a provider so completions show up in the provider call
// metrics. A nil manager leaves the provider unwrapped.
func Instrument(inner Provider, name string, m *metrics.Manager) Provider {
	if m == nil {
		return inner
	}
	return &instrumented{inner: inner, name: name, metrics: m}
}

func (p *instrumented) Complete(ctx context.Context, system, prompt string) (string, error) {
	started := time.Now()
	resp, err := p.inner.Complete(ctx, system, prompt)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordProviderCall(p.name, status, time.Since(started))
	return resp, err
}
