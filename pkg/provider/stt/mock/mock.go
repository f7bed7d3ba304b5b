// Package mock provides a test double for the stt package interfaces.
//
// Use Provider to return canned segments and inspect the paths and options
// the engine passed in. Err and ErrOnce drive failure-path tests, including
// the retry behaviour of the job state machine.
package mock

import (
	"context"
	"sync"

	"github.com/jorgevx/escriba/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Path string
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider. The zero value returns
// an empty result for every call.
type Provider struct {
	mu sync.Mutex

	// Result is returned from Transcribe when Err is nil.
	Result stt.Result

	// Err, if non-nil, is returned from every Transcribe call.
	Err error

	// ErrOnce, if non-nil, is returned from the next Transcribe call only and
	// then cleared. Takes precedence over Err.
	ErrOnce error

	// Calls records every invocation.
	Calls []TranscribeCall
}

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the configured result or error.
func (p *Provider) Transcribe(ctx context.Context, path string, opts stt.Options) (stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Path: path, Opts: opts})
	if p.ErrOnce != nil {
		err := p.ErrOnce
		p.ErrOnce = nil
		return stt.Result{}, err
	}
	if p.Err != nil {
		return stt.Result{}, p.Err
	}
	return p.Result, nil
}

// CallCount returns the number of Transcribe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
