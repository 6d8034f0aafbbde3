// Package capture defines the boundary between the streaming core and the
// host runtime's media acquisition. The core never touches microphones or
// cameras directly; it consumes fixed-size PCM sample batches, per-tick
// frequency-energy snapshots, and on-demand JPEG frames through the
// interfaces in this package.
//
// Implementations are expected to deliver 16 kHz mono 16-bit PCM in
// 256-sample batches (≈16 ms) with echo cancellation, auto gain control, and
// noise suppression applied at the device layer.
package capture

import "context"

// MIME types carried by MediaChunk. These are the only two media kinds the
// session protocol frames outbound.
const (
	MimePCM  = "audio/pcm"
	MimeJPEG = "image/jpeg"
)

// MediaChunk is an immutable byte payload plus its mime tag. Ownership
// transfers to the consumer on send; producers must not reuse the backing
// slice afterwards.
type MediaChunk struct {
	Data     []byte
	MimeType string
}

// Source supplies the three capture streams the pipeline consumes. Open is
// called once per streaming session; the returned Stream is owned by that
// session and closed on teardown.
//
// Implementations must be safe for concurrent use; a Stream need not be.
type Source interface {
	// Open acquires the capture devices and starts delivery. Acquisition
	// failure (permissions, missing device) is returned here and no partial
	// stream is created.
	Open(ctx context.Context) (Stream, error)
}

// Stream is one live capture session.
type Stream interface {
	// Batches returns the channel of raw PCM sample batches. The channel is
	// closed when the stream ends or Close is called.
	Batches() <-chan []byte

	// Energy returns the current average frequency-energy snapshot. It is
	// polled by the speech detector on its own tick and must not block.
	Energy() float64

	// Frame captures one video frame and returns it JPEG-encoded at the
	// given quality (0–1]. Returns an error if no video device is part of
	// the stream.
	Frame(quality float64) ([]byte, error)

	// Close stops delivery and releases the devices. Idempotent.
	Close() error
}
