package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/Predictive-Systems-Inc/dr-a/internal/observe"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/audio"
)

// minUtteranceChunks is the finalize floor: an utterance must hold strictly
// more than this many chunks to be worth transcribing. Anything at or below
// it is statistically breath noise or a single-word blip and is discarded.
const minUtteranceChunks = 10

// UtteranceSink receives finalized utterances as WAV payloads. Submissions
// must not block: implementations queue the payload for asynchronous
// transcription and return immediately.
type UtteranceSink interface {
	SubmitUtterance(wav []byte)
}

// Assembler decides which captured audio belongs to one continuous speech
// event. While silent it feeds the pre-roll ring buffer; on speech onset it
// seeds the open utterance with the ring's contents so the ~150 ms before
// the detector fired is kept; on speech end it finalizes (encode to WAV,
// hand to the sink) or discards.
//
// At most one utterance is open at a time. Assembler is owned by a single
// pipeline goroutine and is not safe for concurrent use.
type Assembler struct {
	ring       *PreRollBuffer
	utterance  [][]byte
	sampleRate int
	minChunks  int
	sink       UtteranceSink
	metrics    *observe.Metrics
	log        *slog.Logger
}

// NewAssembler creates an Assembler submitting finalized utterances to sink
// as WAV at the given sample rate.
func NewAssembler(sampleRate int, sink UtteranceSink, metrics *observe.Metrics) *Assembler {
	return &Assembler{
		ring:       NewPreRollBuffer(preRollCapacity),
		sampleRate: sampleRate,
		minChunks:  minUtteranceChunks,
		sink:       sink,
		metrics:    metrics,
		log:        slog.With("component", "assembler"),
	}
}

// Observe processes one captured PCM chunk under the current speaking state.
// Ownership of chunk transfers to the assembler.
func (a *Assembler) Observe(chunk []byte, speaking bool) {
	if speaking {
		if len(a.utterance) == 0 {
			// Speech onset: seed with the pre-roll so onset audio survives.
			a.utterance = a.ring.Snapshot()
			a.ring.Clear()
		}
		a.utterance = append(a.utterance, chunk)
		return
	}

	// Silent: the chunk joins the pre-roll; a non-empty utterance means
	// speech just ended and must be finalized or discarded.
	if len(a.utterance) > 0 {
		a.closeUtterance()
	}
	a.ring.Push(chunk)
}

// Flush finalizes any open utterance regardless of speaking state. Called on
// stream teardown so trailing speech is not lost.
func (a *Assembler) Flush() {
	if len(a.utterance) > 0 {
		a.closeUtterance()
	}
}

// OpenChunks reports the number of chunks in the currently open utterance.
func (a *Assembler) OpenChunks() int { return len(a.utterance) }

// closeUtterance finalizes or discards the open utterance and always clears
// it, so a failed encode can never wedge future speech capture.
func (a *Assembler) closeUtterance() {
	chunks := a.utterance
	a.utterance = nil

	if len(chunks) <= a.minChunks {
		a.metrics.Utterances.Add(context.Background(), 1, outcome("discarded"))
		a.log.Debug("utterance discarded", "chunks", len(chunks))
		return
	}

	var total int
	for _, c := range chunks {
		total += len(c)
	}
	pcm := make([]byte, 0, total)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}

	wav, err := audio.EncodeWAV(pcm, a.sampleRate)
	if err != nil {
		a.log.Warn("utterance encode failed, dropping", "err", err, "bytes", total)
		return
	}

	a.metrics.Utterances.Add(context.Background(), 1, outcome("finalized"))
	a.log.Debug("utterance finalized", "chunks", len(chunks), "bytes", total)
	a.sink.SubmitUtterance(wav)
}

// outcome builds the utterance-counter attribute option.
func outcome(v string) metric.AddOption {
	return metric.WithAttributes(observe.Attr("outcome", v))
}
