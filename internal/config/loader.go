package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidTranscriptionProviders lists known transcription provider names.
// Used by [Validate] to warn about unrecognised names.
var ValidTranscriptionProviders = []string{"whisper", "openai", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Gemini
	if cfg.Gemini.APIKey == "" {
		slog.Warn("gemini.api_key is empty; the live session will fail to authenticate")
	}
	if cfg.Gemini.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("gemini.temperature %.2f is out of range [0, 2]", cfg.Gemini.Temperature))
	}
	if cfg.Gemini.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("gemini.max_output_tokens %d must not be negative", cfg.Gemini.MaxOutputTokens))
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.SpeechThreshold < 0 {
		errs = append(errs, fmt.Errorf("capture.speech_threshold %.2f must not be negative", cfg.Capture.SpeechThreshold))
	}
	if cfg.Capture.SilenceHangoverMs < 0 {
		errs = append(errs, fmt.Errorf("capture.silence_hangover_ms %d must not be negative", cfg.Capture.SilenceHangoverMs))
	}

	// Transcription
	if name := cfg.Transcription.Provider; name != "" && !slices.Contains(ValidTranscriptionProviders, name) {
		slog.Warn("unknown transcription provider name — may be a typo or third-party provider",
			"name", name,
			"known", ValidTranscriptionProviders,
		)
	}
	if cfg.Transcription.Provider == "" && cfg.Store.PostgresDSN != "" {
		slog.Warn("store.postgres_dsn is set but transcription is disabled; nothing will be persisted")
	}

	// Topics
	topicNamesSeen := make(map[string]int, len(cfg.Topics))
	for i, topic := range cfg.Topics {
		prefix := fmt.Sprintf("topics[%d]", i)
		if topic.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := topicNamesSeen[topic.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of topics[%d]", prefix, topic.Name, prev))
			}
			topicNamesSeen[topic.Name] = i
		}
		if len(topic.Instructions) == 0 {
			errs = append(errs, fmt.Errorf("%s.instructions must not be empty", prefix))
		}
	}

	return errors.Join(errs...)
}
