// Package transcribe defines the batch speech-to-text provider contract.
//
// Utterances arrive as complete WAV files, never as streams: the capture
// pipeline assembles each utterance before transcription, so providers only
// need a single request/response call per clip.
//
// Implementations must be safe for concurrent use.
package transcribe

import "context"

// Provider turns one WAV-encoded utterance into text.
type Provider interface {
	// Transcribe submits wav (a complete RIFF/WAV file) and returns the
	// recognised text. An empty string with a nil error means the provider
	// heard nothing it could transcribe.
	Transcribe(ctx context.Context, wav []byte) (string, error)

	// Name identifies the provider for logging and metric attributes.
	Name() string
}
