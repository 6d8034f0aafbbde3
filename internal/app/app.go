// Package app wires all dr-a subsystems into a running tutor stream.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes one streaming session until the context is
// cancelled, and teardown saves the conversation transcript.
//
// For testing, inject doubles via functional options (WithSource,
// WithTranscriber, WithStore, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Predictive-Systems-Inc/dr-a/internal/config"
	"github.com/Predictive-Systems-Inc/dr-a/internal/observe"
	"github.com/Predictive-Systems-Inc/dr-a/internal/pipeline"
	"github.com/Predictive-Systems-Inc/dr-a/internal/playback"
	"github.com/Predictive-Systems-Inc/dr-a/internal/resilience"
	"github.com/Predictive-Systems-Inc/dr-a/internal/session"
	"github.com/Predictive-Systems-Inc/dr-a/internal/topics"
	"github.com/Predictive-Systems-Inc/dr-a/internal/transcript"
	"github.com/Predictive-Systems-Inc/dr-a/internal/transcript/store"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/capture"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/provider/transcribe"
	transcribeopenai "github.com/Predictive-Systems-Inc/dr-a/pkg/provider/transcribe/openai"
	transcribewhisper "github.com/Predictive-Systems-Inc/dr-a/pkg/provider/transcribe/whisper"
)

// saveTimeout bounds the final transcript save during teardown.
const saveTimeout = 10 * time.Second

// App owns all subsystem lifetimes and orchestrates one tutor stream at a
// time: capture pipeline in, live session out, playback and transcription on
// the side.
type App struct {
	cfg      *config.Config
	catalog  *topics.Catalog
	registry *config.Registry
	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	log      *slog.Logger

	source      capture.Source
	output      playback.Output
	transcriber transcribe.Provider
	convStore   store.Store

	player *playback.Player
	bridge *transcript.Bridge
	sess   *session.Session

	topic     string
	sessionID string
	startedAt time.Time

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the microphone/camera capture source.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithOutput injects the playback output device.
func WithOutput(o playback.Output) Option {
	return func(a *App) { a.output = o }
}

// WithTranscriber injects a transcription provider instead of creating one
// from config.
func WithTranscriber(p transcribe.Provider) Option {
	return func(a *App) { a.transcriber = p }
}

// WithStore injects a conversation store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.convStore = s }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar hands the App the level var driving the process logger so
// hot config reloads can adjust verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithRegistry replaces the default transcription provider registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// DefaultRegistry returns a registry with the built-in transcription
// providers registered.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()
	r.RegisterTranscriber("whisper", func(cfg config.TranscriptionConfig) (transcribe.Provider, error) {
		var opts []transcribewhisper.Option
		if cfg.Language != "" {
			opts = append(opts, transcribewhisper.WithLanguage(cfg.Language))
		}
		if cfg.Model != "" {
			opts = append(opts, transcribewhisper.WithModel(cfg.Model))
		}
		return transcribewhisper.New(cfg.BaseURL, opts...)
	})
	r.RegisterTranscriber("openai", func(cfg config.TranscriptionConfig) (transcribe.Provider, error) {
		var opts []transcribeopenai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, transcribeopenai.WithBaseURL(cfg.BaseURL))
		}
		return transcribeopenai.New(cfg.APIKey, opts...)
	})
	return r
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.With("component", "app"),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}

	// ── 1. Topic catalog ─────────────────────────────────────────────────
	custom := make([]topics.Profile, len(cfg.Topics))
	for i, tc := range cfg.Topics {
		custom[i] = topics.Profile{Name: tc.Name, Instructions: tc.Instructions}
	}
	catalog, err := topics.New(custom...)
	if err != nil {
		return nil, fmt.Errorf("app: build catalog: %w", err)
	}
	a.catalog = catalog

	a.topic = cfg.Session.Topic
	if a.topic == "" {
		a.topic = topics.DefaultTopic
	}
	if _, ok := catalog.Instructions(a.topic); !ok {
		return nil, fmt.Errorf("app: configured topic %q is not in the catalog", a.topic)
	}

	// ── 2. Conversation store ────────────────────────────────────────────
	if a.convStore == nil {
		if dsn := cfg.Store.PostgresDSN; dsn != "" {
			pg, err := store.NewPostgres(ctx, dsn)
			if err != nil {
				return nil, fmt.Errorf("app: init store: %w", err)
			}
			a.convStore = pg
		} else {
			a.convStore = store.NewMemory()
		}
	}

	// ── 3. Transcription bridge ──────────────────────────────────────────
	if a.transcriber == nil && cfg.Transcription.Provider != "" {
		p, err := a.registry.CreateTranscriber(cfg.Transcription)
		if err != nil {
			return nil, fmt.Errorf("app: init transcriber: %w", err)
		}
		// A breaker keeps a dead transcription server from stalling every
		// utterance for its full timeout.
		a.transcriber = resilience.NewChain(p, resilience.BreakerConfig{})
	}
	if a.transcriber != nil {
		a.bridge = transcript.NewBridge(a.transcriber, transcript.WithMetrics(a.metrics))
	}

	// ── 4. Playback ──────────────────────────────────────────────────────
	a.player = playback.New(playback.Config{
		Output:  a.output,
		Metrics: a.metrics,
	})

	// ── 5. Live session ──────────────────────────────────────────────────
	var turns session.ModelTurnSink = discardSink{}
	if a.bridge != nil {
		turns = a.bridge
	}
	a.sess = session.New(session.Config{
		APIKey:          cfg.Gemini.APIKey,
		BaseURL:         cfg.Gemini.BaseURL,
		Model:           cfg.Gemini.Model,
		Voice:           cfg.Gemini.Voice,
		Temperature:     cfg.Gemini.Temperature,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		Topic:           a.topic,
	}, catalog, &statusLogger{log: a.log}, a.player, turns, a.metrics)

	return a, nil
}

// Run executes one streaming session: it opens the capture source, starts
// playback and the capture pipeline, connects the live session, and blocks
// until ctx is cancelled. Teardown drains pending transcriptions and saves
// the conversation before returning.
func (a *App) Run(ctx context.Context) error {
	if a.source == nil {
		return errors.New("app: no capture source configured")
	}

	a.startedAt = time.Now().UTC()
	a.sessionID = fmt.Sprintf("stream-%s-%s",
		sanitizeName(a.topic),
		a.startedAt.Format("20060102T150405Z"),
	)

	stream, err := a.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("app: open capture source: %w", err)
	}

	var utterances pipeline.UtteranceSink = discardSink{}
	if a.bridge != nil {
		utterances = a.bridge
	}
	pl := pipeline.New(pipeline.Config{
		SampleRate: a.cfg.Capture.SampleRate,
		Detector: pipeline.DetectorConfig{
			Threshold:       a.cfg.Capture.SpeechThreshold,
			SilenceHangover: time.Duration(a.cfg.Capture.SilenceHangoverMs) * time.Millisecond,
		},
	}, stream, a.sess, utterances, nil, a.metrics)

	// A clean stream end returns nil, which would not cancel the group on
	// its own; the explicit cancel takes the player down with it.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { defer cancel(); return a.player.Run(gctx) })
	g.Go(func() error { defer cancel(); return pl.Run(gctx) })

	if err := a.sess.Connect(gctx); err != nil {
		pl.Close()
		a.sess.Close()
		return fmt.Errorf("app: connect session: %w", err)
	}

	a.log.Info("stream started", "session_id", a.sessionID, "topic", a.topic)

	err = g.Wait()
	a.shutdown()
	_ = pl.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// SetTopic switches the running session to a new instruction profile.
func (a *App) SetTopic(topic string) error {
	if _, ok := a.catalog.Instructions(topic); !ok {
		return fmt.Errorf("app: unknown topic %q", topic)
	}
	a.topic = topic
	a.sess.SetTopic(topic)
	return nil
}

// ApplyDiff applies a hot config reload.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TopicChanged {
		topic := d.NewTopic
		if topic == "" {
			topic = topics.DefaultTopic
		}
		if err := a.SetTopic(topic); err != nil {
			a.log.Warn("reloaded topic rejected", "err", err)
		}
	}
	if d.TopicProfilesChanged {
		a.log.Warn("topic profile changes require a restart to take effect")
	}
}

// shutdown tears the stream down in dependency order and saves the
// conversation. Safe to call once; Run invokes it on exit.
func (a *App) shutdown() {
	a.stopOnce.Do(func() {
		a.sess.Close()

		var entries []transcript.Entry
		if a.bridge != nil {
			a.bridge.Close() // waits for queued clips
			entries = a.bridge.Entries()
		}

		saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		err := a.convStore.SaveConversation(saveCtx, store.Conversation{
			SessionID: a.sessionID,
			Topic:     a.topic,
			StartedAt: a.startedAt,
			Entries:   entries,
		})
		if err != nil {
			a.log.Warn("saving conversation failed", "session_id", a.sessionID, "err", err)
		}

		a.log.Info("stream stopped", "session_id", a.sessionID, "entries", len(entries))
	})
}

// Session exposes the live session, mainly for status surfaces.
func (a *App) Session() *session.Session { return a.sess }

// Store exposes the conversation store, mainly for readiness probes.
func (a *App) Store() store.Store { return a.convStore }

// statusLogger logs session lifecycle transitions.
type statusLogger struct {
	log *slog.Logger
}

func (s *statusLogger) OnStateChange(state session.State) {
	s.log.Info("session state changed", "state", state)
}

func (s *statusLogger) OnReady() {
	s.log.Info("session ready")
}

// discardSink drops clips when transcription is disabled.
type discardSink struct{}

func (discardSink) SubmitUtterance([]byte) {}
func (discardSink) SubmitModelTurn([]byte) {}

// sanitizeName lowercases a topic name and collapses non-alphanumerics so it
// can be embedded in a session ID.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// slogLevel maps a config log level onto slog.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
