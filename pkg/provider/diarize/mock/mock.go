// Package mock provides a test double for the diarize package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/jorgevx/escriba/pkg/provider/diarize"
)

// DiarizeCall records a single invocation of Provider.Diarize.
type DiarizeCall struct {
	Path string
	Opts diarize.Options
}

// Provider is a mock implementation of diarize.Provider. The zero value
// returns an empty result for every call.
type Provider struct {
	mu sync.Mutex

	// Result is returned from Diarize when Err is nil.
	Result diarize.Result

	// Err, if non-nil, is returned from every Diarize call.
	Err error

	// Calls records every invocation.
	Calls []DiarizeCall
}

// Compile-time assertion that Provider satisfies diarize.Provider.
var _ diarize.Provider = (*Provider)(nil)

// Diarize records the call and returns the configured result or error.
func (p *Provider) Diarize(ctx context.Context, path string, opts diarize.Options) (diarize.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, DiarizeCall{Path: path, Opts: opts})
	if p.Err != nil {
		return diarize.Result{}, p.Err
	}
	return p.Result, nil
}

// CallCount returns the number of Diarize invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
