package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/Predictive-Systems-Inc/dr-a/internal/observe"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/capture"
)

// frameQuality is the JPEG quality used for captured frames.
const frameQuality = 0.8

// FrameSampler emits one JPEG frame per tick while (and only while) the
// user is speaking. Silent ticks emit nothing, which bounds video bandwidth
// and avoids streaming imagery unrelated to the conversation.
type FrameSampler struct {
	stream   capture.Stream
	speaking func() bool
	emit     func(capture.MediaChunk)
	metrics  *observe.Metrics
	log      *slog.Logger
}

// NewFrameSampler creates a sampler reading frames from stream; speaking is
// polled per tick and emit receives the encoded chunk.
func NewFrameSampler(stream capture.Stream, speaking func() bool, emit func(capture.MediaChunk), metrics *observe.Metrics) *FrameSampler {
	return &FrameSampler{
		stream:   stream,
		speaking: speaking,
		emit:     emit,
		metrics:  metrics,
		log:      slog.With("component", "framesampler"),
	}
}

// Tick runs one sampling cycle. Capture failures are logged and the tick is
// skipped; a camera hiccup must not disturb the audio pipeline.
func (f *FrameSampler) Tick() {
	if !f.speaking() {
		return
	}

	data, err := f.stream.Frame(frameQuality)
	if err != nil {
		f.log.Warn("frame capture failed", "err", err)
		return
	}

	f.metrics.FramesCaptured.Add(context.Background(), 1,
		metric.WithAttributes(observe.Attr("mime", capture.MimeJPEG)))
	f.emit(capture.MediaChunk{Data: data, MimeType: capture.MimeJPEG})
}
