package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Predictive-Systems-Inc/dr-a/pkg/provider/transcribe"
)

// ErrAllBackendsFailed is returned when every provider in a [Chain] fails or
// sits behind an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all transcription backends failed")

// Chain implements [transcribe.Provider] with ordered failover. The primary
// is tried first; each backend has its own [Breaker] so a dead primary is
// skipped without paying its timeout on every utterance.
type Chain struct {
	cfg BreakerConfig

	mu      sync.Mutex
	entries []chainEntry
}

type chainEntry struct {
	provider transcribe.Provider
	breaker  *Breaker
}

var _ transcribe.Provider = (*Chain)(nil)

// NewChain creates a [Chain] with primary as the preferred backend.
func NewChain(primary transcribe.Provider, cfg BreakerConfig) *Chain {
	c := &Chain{cfg: cfg}
	c.add(primary)
	return c
}

// AddFallback appends a backend tried after all earlier entries.
func (c *Chain) AddFallback(p transcribe.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(p)
}

func (c *Chain) add(p transcribe.Provider) {
	bCfg := c.cfg
	bCfg.Name = p.Name()
	c.entries = append(c.entries, chainEntry{provider: p, breaker: NewBreaker(bCfg)})
}

// Transcribe tries each backend in order until one succeeds.
func (c *Chain) Transcribe(ctx context.Context, wav []byte) (string, error) {
	c.mu.Lock()
	entries := make([]chainEntry, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	var lastErr error
	for _, e := range entries {
		var text string
		err := e.breaker.Do(func() error {
			var innerErr error
			text, innerErr = e.provider.Transcribe(ctx, wav)
			return innerErr
		})
		if err == nil {
			return text, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping transcription backend", "provider", e.provider.Name())
		} else {
			slog.Warn("transcription backend failed, trying next",
				"provider", e.provider.Name(), "err", err)
		}
	}
	return "", fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// Name reports the primary backend's name; transcript metrics attribute
// latency to the preferred provider regardless of which backend answered.
func (c *Chain) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[0].provider.Name()
}
