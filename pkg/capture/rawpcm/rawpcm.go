// Package rawpcm implements capture.Source over a raw 16-bit little-endian
// mono PCM byte stream, such as a recording file or a pipe from a system
// recorder:
//
//	arecord -f S16_LE -r 16000 -c 1 | dr-a -input -
//
// The stream is sliced into fixed-size sample batches and delivered at
// real-time pace. The energy snapshot tracks the display level of the most
// recently delivered batch; there is no video device, so Frame always fails.
package rawpcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Predictive-Systems-Inc/dr-a/pkg/audio"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/capture"
)

// defaultBatchSamples matches the 256-sample (~16 ms at 16 kHz) batches the
// capture layer is specified to deliver.
const defaultBatchSamples = 256

// Source opens a raw PCM byte stream as a capture source.
type Source struct {
	open         func(ctx context.Context) (io.ReadCloser, error)
	rate         int
	batchSamples int
}

// Option configures a Source.
type Option func(*Source)

// WithBatchSamples overrides the per-batch sample count.
func WithBatchSamples(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.batchSamples = n
		}
	}
}

// FromFile creates a Source that reads the raw PCM file at path.
func FromFile(path string, rate int, opts ...Option) *Source {
	return newSource(func(context.Context) (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("rawpcm: open %s: %w", path, err)
		}
		return f, nil
	}, rate, opts...)
}

// FromReader creates a Source that reads r. The reader is closed when the
// stream closes if it implements io.Closer.
func FromReader(r io.Reader, rate int, opts ...Option) *Source {
	return newSource(func(context.Context) (io.ReadCloser, error) {
		if rc, ok := r.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(r), nil
	}, rate, opts...)
}

// Stdin creates a Source that reads raw PCM from standard input.
func Stdin(rate int, opts ...Option) *Source {
	return FromReader(os.Stdin, rate, opts...)
}

func newSource(open func(context.Context) (io.ReadCloser, error), rate int, opts ...Option) *Source {
	s := &Source{open: open, rate: rate, batchSamples: defaultBatchSamples}
	if s.rate <= 0 {
		s.rate = 16000
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open starts delivery. The returned stream owns the underlying reader.
func (s *Source) Open(ctx context.Context) (capture.Stream, error) {
	rc, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	st := &stream{
		r:       rc,
		rate:    s.rate,
		samples: s.batchSamples,
		batches: make(chan []byte, 8),
		done:    make(chan struct{}),
	}
	go st.run()
	return st, nil
}

type stream struct {
	r       io.ReadCloser
	rate    int
	samples int
	batches chan []byte
	done    chan struct{}

	mu     sync.Mutex
	energy float64

	closeOnce sync.Once
	closeErr  error
}

func (s *stream) run() {
	defer close(s.batches)

	// Pace file reads at the batch cadence so a recording plays back in real
	// time. A live pipe blocks in ReadFull instead and the ticker is idle.
	interval := time.Duration(s.samples) * time.Second / time.Duration(s.rate)
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		buf := make([]byte, s.samples*2)
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			buf = buf[:n]
			s.setEnergy(audio.PCMLevel(buf))
			select {
			case s.batches <- buf:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.setEnergy(0)
			return
		}
		select {
		case <-tick.C:
		case <-s.done:
			return
		}
	}
}

func (s *stream) setEnergy(v float64) {
	s.mu.Lock()
	s.energy = v
	s.mu.Unlock()
}

func (s *stream) Batches() <-chan []byte { return s.batches }

func (s *stream) Energy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.energy
}

func (s *stream) Frame(float64) ([]byte, error) {
	return nil, errors.New("rawpcm: no video device")
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.r.Close()
	})
	return s.closeErr
}

var _ capture.Source = (*Source)(nil)
var _ capture.Stream = (*stream)(nil)
