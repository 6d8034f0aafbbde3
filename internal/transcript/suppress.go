package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultSuppressThreshold is the minimum Jaro-Winkler similarity between a
// transcript and a known refusal phrase for the transcript to be dropped.
const defaultSuppressThreshold = 0.88

// defaultRefusals are boilerplate phrases speech-to-text models emit when
// handed audio they refuse to or cannot transcribe. They carry no
// conversational content and would pollute the saved transcript.
var defaultRefusals = []string{
	"i'm sorry, i can't process audio",
	"i am unable to process audio recordings",
	"i cannot transcribe this audio",
	"as a language model, i cannot listen to audio",
	"i'm unable to help with audio content",
	"sorry, i didn't catch that",
}

// SuppressorOption is a functional option for configuring a [Suppressor].
type SuppressorOption func(*Suppressor)

// WithSuppressThreshold sets the minimum Jaro-Winkler score required for a
// transcript to be treated as a refusal phrase. Default: 0.88.
func WithSuppressThreshold(threshold float64) SuppressorOption {
	return func(s *Suppressor) {
		s.threshold = threshold
	}
}

// WithRefusalPhrases replaces the built-in refusal phrase list.
func WithRefusalPhrases(phrases []string) SuppressorOption {
	return func(s *Suppressor) {
		s.phrases = normalizePhrases(phrases)
	}
}

// Suppressor detects refusal-boilerplate transcripts by fuzzy matching
// against a phrase list. Exact wording varies between model versions, so the
// comparison is Jaro-Winkler similarity rather than string equality. The
// Suppressor is read-only after construction and safe for concurrent use.
type Suppressor struct {
	threshold float64
	phrases   []string
}

// NewSuppressor returns a Suppressor configured with the supplied options.
func NewSuppressor(opts ...SuppressorOption) *Suppressor {
	s := &Suppressor{
		threshold: defaultSuppressThreshold,
		phrases:   normalizePhrases(defaultRefusals),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Suppress reports whether text matches a refusal phrase closely enough to
// be dropped from the transcript log.
func (s *Suppressor) Suppress(text string) bool {
	normalized := normalizePhrase(text)
	if normalized == "" {
		return false
	}
	for _, phrase := range s.phrases {
		if matchr.JaroWinkler(normalized, phrase, false) >= s.threshold {
			return true
		}
	}
	return false
}

// normalizePhrase lowercases and strips punctuation so that cosmetic
// differences do not depress the similarity score.
func normalizePhrase(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\'':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func normalizePhrases(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := normalizePhrase(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}
