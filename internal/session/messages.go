package session

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// ── Outbound wire types ────────────────────────────────────────────────────────
//
// Outbound messages use the snake_case field names of the BidiGenerateContent
// protocol; inbound messages arrive camelCased. Both spellings are part of
// the wire contract.

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string            `json:"model"`
	GenerationConfig  generationConfig  `json:"generation_config"`
	SystemInstruction systemInstruction `json:"system_instruction"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"response_modalities"`
	SpeechConfig       speechConfig `json:"speech_config"`
	Temperature        float64      `json:"temperature"`
	MaxOutputTokens    int          `json:"max_output_tokens"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voice_config"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

type systemInstruction struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks  []mediaChunk `json:"media_chunks,omitempty"`
	TurnComplete bool         `json:"turn_complete,omitempty"`
}

type mediaChunk struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64-encoded
}

// ── Inbound wire types ─────────────────────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
}

type modelTurn struct {
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Tagged inbound variants ────────────────────────────────────────────────────
//
// Raw frames are decoded exactly once at the boundary into an ordered list of
// variants, which the session then matches exhaustively. Unknown or malformed
// frames decode to nothing rather than silently half-applying.

// inboundEvent is one decoded protocol event. Exactly one Kind applies.
type inboundEvent struct {
	Kind inboundKind

	// Audio holds the decoded PCM bytes for KindModelAudio.
	Audio []byte
}

// inboundKind enumerates the inbound protocol events the session reacts to.
type inboundKind int

const (
	// kindSetupComplete is the server's setup acknowledgment.
	kindSetupComplete inboundKind = iota

	// kindModelAudio is one inline PCM chunk of the model's spoken reply.
	kindModelAudio

	// kindTurnComplete marks the end of the model's turn.
	kindTurnComplete
)

// decodeInbound parses one wire frame into its ordered protocol events.
// A single frame may carry several (multiple audio parts, audio plus
// turn-complete). Malformed JSON or unrecognised shapes yield an empty list.
func decodeInbound(data []byte) []inboundEvent {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}

	var events []inboundEvent

	if msg.SetupComplete != nil {
		events = append(events, inboundEvent{Kind: kindSetupComplete})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || !isPCMMime(p.InlineData.MIMEType) {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(pcm) == 0 {
					continue // codec error: drop this one chunk, keep the frame
				}
				events = append(events, inboundEvent{Kind: kindModelAudio, Audio: pcm})
			}
		}
		if sc.TurnComplete {
			events = append(events, inboundEvent{Kind: kindTurnComplete})
		}
	}

	return events
}

// isPCMMime accepts "audio/pcm" with or without a rate parameter
// (e.g. "audio/pcm;rate=24000").
func isPCMMime(mime string) bool {
	return mime == "audio/pcm" || strings.HasPrefix(mime, "audio/pcm;")
}
