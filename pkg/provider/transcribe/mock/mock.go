// Package mock provides an in-memory transcribe.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/Predictive-Systems-Inc/dr-a/pkg/provider/transcribe"
)

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Provider is a scripted transcription provider. Each call pops the next
// result from Texts; once exhausted, Fallback is returned. Err, when set,
// fails every call.
type Provider struct {
	mu       sync.Mutex
	Texts    []string
	Fallback string
	Err      error
	Calls    [][]byte
}

// Name implements transcribe.Provider.
func (p *Provider) Name() string { return "mock" }

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(_ context.Context, wav []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, append([]byte(nil), wav...))
	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Texts) > 0 {
		text := p.Texts[0]
		p.Texts = p.Texts[1:]
		return text, nil
	}
	return p.Fallback, nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
