// Package config provides the configuration schema, loader, and transcription
// provider registry for the dr-a tutor.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Gemini        GeminiConfig        `yaml:"gemini"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Store         StoreConfig         `yaml:"store"`
	Session       SessionConfig       `yaml:"session"`
	Topics        []TopicConfig       `yaml:"topics"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health endpoint listens on
	// (e.g., ":8080"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// GeminiConfig holds the live endpoint credentials and generation settings.
type GeminiConfig struct {
	// APIKey authenticates against the generative endpoint. Required.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default WebSocket endpoint. Leave empty in
	// production; used for test servers.
	BaseURL string `yaml:"base_url"`

	// Model selects the live model. Empty uses the built-in default.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice profile name (e.g., "aoede").
	Voice string `yaml:"voice"`

	// Temperature is the sampling temperature. Negative selects the default.
	Temperature float64 `yaml:"temperature"`

	// MaxOutputTokens caps reply length. Zero uses the built-in default.
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// CaptureConfig holds microphone capture and speech detection settings.
type CaptureConfig struct {
	// SampleRate of the captured PCM in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// SpeechThreshold is the smoothed energy level above which the user is
	// considered to be speaking. Zero uses the built-in default.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceHangoverMs is how long the smoothed energy must stay below the
	// threshold before speech is considered ended. Zero uses the default.
	SilenceHangoverMs int `yaml:"silence_hangover_ms"`
}

// TranscriptionConfig selects and configures the speech-to-text provider
// used for the conversation log.
type TranscriptionConfig struct {
	// Provider selects the registered implementation (e.g., "whisper",
	// "openai"). Empty disables transcription.
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Language is the BCP-47 language hint (e.g., "en").
	Language string `yaml:"language"`
}

// StoreConfig holds transcript persistence settings.
type StoreConfig struct {
	// PostgresDSN is the connection string for the transcript database.
	// Empty keeps transcripts in memory only.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SessionConfig holds per-session defaults.
type SessionConfig struct {
	// Topic is the instruction profile the session starts under. Empty uses
	// the catalog default.
	Topic string `yaml:"topic"`
}

// TopicConfig declares a custom instruction profile on top of the built-in
// catalog. A profile with a built-in name replaces the built-in.
type TopicConfig struct {
	Name         string   `yaml:"name"`
	Instructions []string `yaml:"instructions"`
}
