package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Predictive-Systems-Inc/dr-a/internal/observe"
	"github.com/Predictive-Systems-Inc/dr-a/internal/scheduler"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/audio"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/capture"
)

const (
	// detectTick is the cadence of the speech-detection timer.
	detectTick = 100 * time.Millisecond

	// frameTick is the cadence of the speaking-gated frame sampler.
	frameTick = 1000 * time.Millisecond
)

// MediaSink receives outbound media chunks. Implementations must never
// block the capture loop; the session drops chunks while the handshake is
// incomplete rather than queueing them.
type MediaSink interface {
	SendMediaChunk(chunk capture.MediaChunk)
}

// Events receives pipeline state notifications. Implementations must return
// quickly; they are invoked from the capture and detection goroutines.
type Events interface {
	// OnInputLevel reports the 0–100 level of each captured batch.
	OnInputLevel(level float64)

	// OnSpeaking reports edge-triggered user speaking transitions.
	OnSpeaking(speaking bool)
}

// NopEvents is an Events implementation that ignores everything.
type NopEvents struct{}

func (NopEvents) OnInputLevel(float64) {}
func (NopEvents) OnSpeaking(bool)      {}

// Config holds the pipeline tunables.
type Config struct {
	// SampleRate of the captured PCM, used when encoding utterances to WAV.
	SampleRate int

	// Detector configures the speech activity detector.
	Detector DetectorConfig
}

// Pipeline runs the low-latency capture path of one streaming session:
// PCM batches flow from the capture stream straight to the outbound media
// sink and into the utterance assembler, while two independent timers drive
// speech detection (100 ms) and frame sampling (1000 ms). The path never
// blocks on transcription or network state; finalized utterances are handed
// off asynchronously.
//
// A Pipeline is single-use: construct, Run, Close.
type Pipeline struct {
	cfg    Config
	stream capture.Stream
	out    MediaSink
	events Events

	det     *Detector
	asm     *Assembler
	sampler *FrameSampler
	sched   scheduler.Scheduler

	// speaking mirrors the detector state for the capture goroutine; the
	// detector itself is owned by the detection tick.
	speaking atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
	log       *slog.Logger
}

// New creates a Pipeline over an open capture stream. Finalized utterances
// go to utterances; outbound chunks to out; state changes to events.
func New(cfg Config, stream capture.Stream, out MediaSink, utterances UtteranceSink, events Events, metrics *observe.Metrics) *Pipeline {
	if events == nil {
		events = NopEvents{}
	}
	p := &Pipeline{
		cfg:    cfg,
		stream: stream,
		out:    out,
		events: events,
		asm:    NewAssembler(cfg.SampleRate, utterances, metrics),
		done:   make(chan struct{}),
		log:    slog.With("component", "pipeline"),
	}
	p.det = NewDetector(cfg.Detector)
	p.det.OnSpeechStart = func() {
		p.speaking.Store(true)
		p.events.OnSpeaking(true)
	}
	p.det.OnSpeechEnd = func() {
		p.speaking.Store(false)
		p.events.OnSpeaking(false)
	}
	p.sampler = NewFrameSampler(stream, p.speaking.Load, out.SendMediaChunk, metrics)
	return p
}

// Run starts the periodic timers and processes capture batches until the
// stream closes, ctx is cancelled, or Close is called. It always flushes the
// open utterance before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	p.sched.Every(detectTick, func() {
		p.det.Observe(p.stream.Energy(), time.Now())
	})
	p.sched.Every(frameTick, p.sampler.Tick)

	defer p.asm.Flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case batch, ok := <-p.stream.Batches():
			if !ok {
				return nil
			}
			p.events.OnInputLevel(audio.PCMLevel(batch))
			p.out.SendMediaChunk(capture.MediaChunk{Data: batch, MimeType: capture.MimePCM})
			p.asm.Observe(batch, p.speaking.Load())
		}
	}
}

// Close stops both timers, closes the capture stream, and unblocks Run.
// After Close returns no timer callback will fire again. Idempotent.
func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.sched.StopAll()
		err = p.stream.Close()
		p.log.Debug("pipeline closed")
	})
	return err
}

// Speaking reports the current detector state.
func (p *Pipeline) Speaking() bool { return p.speaking.Load() }
