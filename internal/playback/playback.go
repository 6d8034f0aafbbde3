// Package playback schedules model audio for rendering. Inbound PCM chunks
// queue in arrival order and exactly one renderer drains them, so replies
// never overlap. The queue is the single arbiter of whether the model is
// audibly speaking.
package playback

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Predictive-Systems-Inc/dr-a/internal/observe"
	"github.com/Predictive-Systems-Inc/dr-a/internal/session"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/audio"
)

// defaultSampleRate matches the rate the endpoint synthesises replies at.
const defaultSampleRate = 24000

// Output renders one chunk of 16-bit little-endian PCM. Play may return
// before the audio has finished sounding; the Player owns pacing.
type Output interface {
	Play(pcm []byte) error
}

// NopOutput discards audio. Useful headless and in tests.
type NopOutput struct{}

func (NopOutput) Play([]byte) error { return nil }

// WriterOutput appends rendered PCM to an io.Writer, e.g. a file or a pipe
// into a system player. Writes happen from the renderer goroutine only.
type WriterOutput struct {
	W io.Writer
}

func (o WriterOutput) Play(pcm []byte) error {
	_, err := o.W.Write(pcm)
	return err
}

// Events carries the playback observer callbacks. Any field may be nil.
type Events struct {
	// OnLevel reports the perceptual level of the chunk being rendered,
	// 0..100. A zero level is reported when playback drains or is
	// interrupted.
	OnLevel func(level float64)

	// OnModelSpeaking fires on the edges of audible model speech: true when
	// the renderer starts on a non-empty queue, false when it drains.
	OnModelSpeaking func(speaking bool)
}

func (e Events) level(v float64) {
	if e.OnLevel != nil {
		e.OnLevel(v)
	}
}

func (e Events) speaking(v bool) {
	if e.OnModelSpeaking != nil {
		e.OnModelSpeaking(v)
	}
}

// Config configures a Player.
type Config struct {
	// SampleRate of the queued PCM. Defaults to 24000.
	SampleRate int

	Output  Output
	Events  Events
	Metrics *observe.Metrics
}

// Player is a FIFO audio scheduler. EnqueueAudio and Interrupt are safe to
// call from any goroutine; Run drives the single renderer until its context
// is cancelled.
type Player struct {
	rate    int
	out     Output
	events  Events
	metrics *observe.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	queue    [][]byte
	abort    chan struct{} // closed by Interrupt to cut the current chunk short
	speaking bool

	wake chan struct{}
}

var _ session.AudioSink = (*Player)(nil)

// New creates a Player. It does not render until Run is called.
func New(cfg Config) *Player {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Output == nil {
		cfg.Output = NopOutput{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Player{
		rate:    cfg.SampleRate,
		out:     cfg.Output,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		log:     slog.With("component", "playback"),
		abort:   make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// EnqueueAudio appends one PCM chunk to the tail of the queue.
func (p *Player) EnqueueAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, pcm)
	p.mu.Unlock()
	p.metrics.PlaybackQueueDepth.Add(context.Background(), 1)

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Interrupt discards all queued audio and cuts the chunk currently being
// rendered short. Playback resumes with whatever is enqueued next.
func (p *Player) Interrupt() {
	p.mu.Lock()
	dropped := len(p.queue)
	p.queue = nil
	close(p.abort)
	p.abort = make(chan struct{})
	p.mu.Unlock()

	if dropped > 0 {
		p.metrics.PlaybackQueueDepth.Add(context.Background(), int64(-dropped))
		p.log.Debug("playback interrupted", "dropped", dropped)
	}
}

// QueueLen returns the number of chunks waiting to be rendered.
func (p *Player) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Run renders queued chunks in order until ctx is cancelled. It must not be
// called more than once.
func (p *Player) Run(ctx context.Context) error {
	for {
		chunk, abort, ok := p.pop()
		if !ok {
			p.setSpeaking(false)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.wake:
				continue
			}
		}

		p.setSpeaking(true)
		p.events.level(audio.PCMLevel(chunk))

		if err := p.out.Play(chunk); err != nil {
			p.log.Warn("output failed, dropping chunk", "err", err, "bytes", len(chunk))
		}

		// Hold for the chunk's duration so the next chunk starts where this
		// one ends. An interrupt or shutdown releases the hold early.
		d := time.Duration(len(chunk)/2) * time.Second / time.Duration(p.rate)
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-abort:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// pop removes the head of the queue, returning the chunk together with the
// abort channel in effect when it was taken.
func (p *Player) pop() ([]byte, <-chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, nil, false
	}
	chunk := p.queue[0]
	p.queue = p.queue[1:]
	p.metrics.PlaybackQueueDepth.Add(context.Background(), -1)
	return chunk, p.abort, true
}

// setSpeaking fires the edge callbacks. A falling edge also reports a zero
// level so meters settle.
func (p *Player) setSpeaking(v bool) {
	p.mu.Lock()
	if p.speaking == v {
		p.mu.Unlock()
		return
	}
	p.speaking = v
	p.mu.Unlock()

	p.events.speaking(v)
	if !v {
		p.events.level(0)
	}
}
