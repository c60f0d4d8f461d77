// Package mock provides a test double for the mt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/vocero-ai/vocero/pkg/provider/mt"
)

// Compile-time check that *Provider satisfies [mt.Provider].
var _ mt.Provider = (*Provider)(nil)

// TranslateCall records a single invocation of Provider.Translate.
type TranslateCall struct {
	// Ctx is the context passed to Translate.
	Ctx context.Context
	// Req is the request passed to Translate.
	Req mt.Request
}

// Provider is a mock implementation of mt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned from Translate when TranslateFn is nil.
	Result string

	// Err, if non-nil, is returned as the error from Translate.
	Err error

	// TranslateFn, if non-nil, computes the response per call and takes
	// precedence over Result/Err.
	TranslateFn func(ctx context.Context, req mt.Request) (string, error)

	// Calls records every invocation of Translate.
	Calls []TranslateCall
}

// Translate records the call and returns the configured response.
func (p *Provider) Translate(ctx context.Context, req mt.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranslateCall{Ctx: ctx, Req: req})
	fn := p.TranslateFn
	result, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return result, err
}

// CallCount returns the number of recorded Translate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
