// Package mock provides test doubles for the stt package interfaces.
//
// Provider returns scripted results in order and records every request, so a
// test can assert both what the caller heard and what it asked for.
//
// Example:
//
//	p := &mock.Provider{Results: []mock.Result{
//	    {Text: "Maria Lopez"},
//	    {Err: errors.New("network down")},
//	}}
//	t, _ := p.Transcribe(ctx, stt.Request{PCM: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/torqueshop/voicedesk/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Result is one scripted outcome of Provider.Transcribe.
type Result struct {
	Text       string
	Confidence float64
	Err        error
}

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are consumed one per call. Once exhausted, Fallback is returned.
	Results []Result

	// Fallback is returned after Results is exhausted.
	Fallback Result

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result. A
// cancelled context is honoured before consuming a result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req})
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	r := p.Fallback
	if len(p.Results) > 0 {
		r = p.Results[0]
		p.Results = p.Results[1:]
	}
	if r.Err != nil {
		return stt.Transcript{}, r.Err
	}
	return stt.Transcript{Text: r.Text, Confidence: r.Confidence}, nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Requests returns a copy of every request seen so far.
func (p *Provider) Requests() []stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.Request, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Req
	}
	return out
}
