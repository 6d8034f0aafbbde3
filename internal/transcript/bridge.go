// Package transcript turns finished audio clips into an ordered conversation
// log. A single background worker submits each clip to a speech-to-text
// provider; transcription latency therefore never blocks the capture or
// session goroutines that produce the clips.
//
// Both sides of the conversation flow through the same Bridge: the user's
// assembled utterances and the model's completed audio turns. Each surviving
// transcript is appended to the log in completion order and announced to the
// optional entry callback.
package transcript

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/Predictive-Systems-Inc/dr-a/internal/observe"
	"github.com/Predictive-Systems-Inc/dr-a/internal/pipeline"
	"github.com/Predictive-Systems-Inc/dr-a/internal/session"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/provider/transcribe"
)

// Origin identifies which side of the conversation produced an entry.
type Origin string

const (
	OriginHuman Origin = "human"
	OriginModel Origin = "model"
)

// Entry is one line of the conversation log.
type Entry struct {
	Origin Origin
	Text   string
	At     time.Time
}

const (
	defaultQueueSize  = 32
	transcribeTimeout = 30 * time.Second
)

// Compile-time assertions that Bridge satisfies both clip sinks.
var (
	_ pipeline.UtteranceSink = (*Bridge)(nil)
	_ session.ModelTurnSink  = (*Bridge)(nil)
)

// BridgeOption is a functional option for configuring a [Bridge].
type BridgeOption func(*Bridge)

// WithSuppressor replaces the default refusal-phrase suppressor.
func WithSuppressor(s *Suppressor) BridgeOption {
	return func(b *Bridge) {
		b.suppressor = s
	}
}

// WithOnEntry registers a callback invoked for every entry appended to the
// log. The callback runs on the worker goroutine and must not block.
func WithOnEntry(fn func(Entry)) BridgeOption {
	return func(b *Bridge) {
		b.onEntry = fn
	}
}

// WithQueueSize sets the pending-clip queue capacity. Default: 32.
func WithQueueSize(n int) BridgeOption {
	return func(b *Bridge) {
		b.queueSize = n
	}
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) BridgeOption {
	return func(b *Bridge) {
		b.metrics = m
	}
}

type job struct {
	origin Origin
	wav    []byte
}

// Bridge is the transcription worker. Submissions are safe from any
// goroutine; the worker starts at construction and stops at Close.
type Bridge struct {
	provider   transcribe.Provider
	suppressor *Suppressor
	onEntry    func(Entry)
	queueSize  int
	metrics    *observe.Metrics
	log        *slog.Logger

	jobs chan job
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu      sync.Mutex
	entries []Entry
}

// NewBridge creates a Bridge and starts its worker goroutine.
func NewBridge(provider transcribe.Provider, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		provider:   provider,
		suppressor: NewSuppressor(),
		queueSize:  defaultQueueSize,
		metrics:    observe.DefaultMetrics(),
		log:        slog.With("component", "transcript"),
	}
	for _, o := range opts {
		o(b)
	}
	b.jobs = make(chan job, b.queueSize)
	b.done = make(chan struct{})

	b.wg.Add(1)
	go b.worker()
	return b
}

// SubmitUtterance queues a user utterance clip for transcription.
func (b *Bridge) SubmitUtterance(wav []byte) {
	b.submit(OriginHuman, wav)
}

// SubmitModelTurn queues a completed model reply clip for transcription.
func (b *Bridge) SubmitModelTurn(wav []byte) {
	b.submit(OriginModel, wav)
}

// submit enqueues without blocking. When the queue is full the clip is
// dropped: a stalled transcription provider must not back-pressure the
// realtime capture path.
func (b *Bridge) submit(origin Origin, wav []byte) {
	if len(wav) == 0 {
		return
	}
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.jobs <- job{origin: origin, wav: wav}:
	default:
		b.log.Warn("transcription queue full, dropping clip",
			"origin", origin, "bytes", len(wav))
	}
}

// Entries returns a snapshot of the conversation log in completion order.
func (b *Bridge) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Close stops the worker after it finishes the clips already queued.
// Calling Close more than once is safe.
func (b *Bridge) Close() error {
	b.once.Do(func() {
		close(b.done)
		b.wg.Wait()
	})
	return nil
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for {
		select {
		case j := <-b.jobs:
			b.process(j)
		case <-b.done:
			// Drain what was queued before shutdown so the final save sees
			// every clip that finished recording.
			for {
				select {
				case j := <-b.jobs:
					b.process(j)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
	defer cancel()

	start := time.Now()
	text, err := b.provider.Transcribe(ctx, j.wav)
	b.metrics.TranscriptionDuration.Record(context.Background(),
		time.Since(start).Seconds(),
		metric.WithAttributes(
			observe.Attr("origin", string(j.origin)),
			observe.Attr("provider", b.provider.Name()),
		))
	if err != nil {
		b.log.Warn("transcription failed", "err", err,
			"origin", j.origin, "bytes", len(j.wav))
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if b.suppressor.Suppress(text) {
		b.log.Debug("suppressed refusal transcript", "origin", j.origin)
		return
	}

	entry := Entry{Origin: j.origin, Text: text, At: time.Now()}
	b.mu.Lock()
	b.entries = append(b.entries, entry)
	b.mu.Unlock()

	b.log.Info("transcript", "origin", entry.Origin, "text", entry.Text)
	if b.onEntry != nil {
		b.onEntry(entry)
	}
}
