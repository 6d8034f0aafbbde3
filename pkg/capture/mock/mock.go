// Package mock provides scripted capture.Source and capture.Stream
// implementations for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/Predictive-Systems-Inc/dr-a/pkg/capture"
)

// Source implements capture.Source. Configure the Stream field before use;
// OpenErr forces Open to fail, exercising the no-partial-session error path.
type Source struct {
	Stream  *Stream
	OpenErr error
}

// Open returns the configured stream or OpenErr.
func (s *Source) Open(_ context.Context) (capture.Stream, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Stream == nil {
		s.Stream = NewStream(16)
	}
	return s.Stream, nil
}

// Stream implements capture.Stream with test-controllable inputs.
type Stream struct {
	batches chan []byte

	mu       sync.Mutex
	energy   float64
	frame    []byte
	frameErr error
	closed   bool
}

// NewStream creates a Stream whose batch channel holds buf elements.
func NewStream(buf int) *Stream {
	return &Stream{batches: make(chan []byte, buf)}
}

// Push delivers one PCM batch to the pipeline under test.
func (s *Stream) Push(batch []byte) { s.batches <- batch }

// SetEnergy sets the value returned by Energy.
func (s *Stream) SetEnergy(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.energy = v
}

// SetFrame sets the JPEG payload (or error) returned by Frame.
func (s *Stream) SetFrame(data []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = data
	s.frameErr = err
}

func (s *Stream) Batches() <-chan []byte { return s.batches }

func (s *Stream) Energy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.energy
}

func (s *Stream) Frame(_ float64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameErr != nil {
		return nil, s.frameErr
	}
	if s.frame == nil {
		return nil, errors.New("mock: no frame configured")
	}
	return s.frame, nil
}

// Close closes the batch channel once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.batches)
	}
	return nil
}
