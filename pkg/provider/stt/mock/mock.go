// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed controlled recognition results to consumers and to
// verify what audio and language were passed to the backend.
package mock

import (
	"context"
	"sync"

	"github.com/vocero-ai/vocero/pkg/provider/stt"
)

// Compile-time check that *Provider satisfies [stt.Provider].
var _ stt.Provider = (*Provider)(nil)

// RecognizeCall records a single invocation of Provider.Recognize.
type RecognizeCall struct {
	// Ctx is the context passed to Recognize.
	Ctx context.Context
	// Req is the request passed to Recognize; PCM is not copied.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned from Recognize when RecognizeFn is nil.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// RecognizeFn, if non-nil, computes the response per call and takes
	// precedence over Result/Err.
	RecognizeFn func(ctx context.Context, req stt.Request) (stt.Result, error)

	// Calls records every invocation of Recognize.
	Calls []RecognizeCall
}

// Recognize records the call and returns the configured response.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, RecognizeCall{Ctx: ctx, Req: req})
	fn := p.RecognizeFn
	result, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return result, err
}

// CallCount returns the number of recorded Recognize calls. Thread-safe.
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
