// Package session owns the live connection to the generative endpoint: the
// BidiGenerateContent handshake, outbound media framing, turn-completion
// signalling, inbound dispatch, and the reconnect policy. It is the only
// place connection state is mutated; collaborators observe it through the
// injected sinks.
//
// Lifecycle: Disconnected → Connecting → Connected (setup pending) →
// active after the setup acknowledgment → Disconnected. Each reconnect is a
// brand-new handshake on a fresh transport; in-flight utterance and playback
// state from before a drop is abandoned, never resumed.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/Predictive-Systems-Inc/dr-a/internal/observe"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/audio"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/capture"
)

const (
	defaultModel   = "models/gemini-2.5-flash-live-preview"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	defaultVoice   = "aoede"

	defaultTemperature     = 0.01
	defaultMaxOutputTokens = 300

	// defaultInboundRate is the sample rate the endpoint synthesises replies
	// at, used when packaging accumulated turns for transcription.
	defaultInboundRate = 24000

	// reconnectDelay applies after an unexpected close once setup had
	// completed; dialRetryDelay after a failed connection attempt;
	// topicSwitchDelay before the replacement session of a topic change.
	reconnectDelay   = 1 * time.Second
	dialRetryDelay   = 2 * time.Second
	topicSwitchDelay = 500 * time.Millisecond

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// Config holds the session parameters bound into the setup message.
// Zero-value fields fall back to the defaults above.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// Voice is the prebuilt voice profile name.
	Voice string

	// Temperature and MaxOutputTokens are the generation limits. A zero
	// temperature is meaningful, so Temperature < 0 selects the default.
	Temperature     float64
	MaxOutputTokens int

	// InboundRate is the PCM rate of the model's audio replies.
	InboundRate int

	// Topic selects the instruction profile from the catalog.
	Topic string
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Voice == "" {
		c.Voice = defaultVoice
	}
	if c.Temperature < 0 {
		c.Temperature = defaultTemperature
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = defaultMaxOutputTokens
	}
	if c.InboundRate == 0 {
		c.InboundRate = defaultInboundRate
	}
}

// Session is the protocol state machine for one logical streaming session.
// All exported methods are safe for concurrent use. Event sinks are injected
// at construction; the Session holds no global state.
type Session struct {
	cfg     Config
	catalog Catalog
	status  StatusSink
	audio   AudioSink
	turns   ModelTurnSink
	metrics *observe.Metrics
	log     *slog.Logger

	mu         sync.Mutex
	state      State
	active     bool // setup acked on the current transport
	setupDone  bool // setup completed at least once; cleared only by Disconnect
	topic      string
	conn       *websocket.Conn
	connCtx    context.Context
	connCancel context.CancelFunc
	gen        int // transport generation; stale loop events are discarded
	accum      [][]byte
	timers     []*time.Timer
	pending    []State // queued state notifications, delivered by flushStates
	closed     bool

	// writeMu serialises frame writes: media sends, turn signals, and the
	// setup message may originate from different goroutines.
	writeMu sync.Mutex

	// notifyMu serialises status-sink delivery so transitions arrive in the
	// order they were recorded.
	notifyMu sync.Mutex
}

// New creates a Session. audio and turns must be non-nil; status may be nil.
func New(cfg Config, catalog Catalog, status StatusSink, audioSink AudioSink, turns ModelTurnSink, metrics *observe.Metrics) *Session {
	cfg.applyDefaults()
	if status == nil {
		status = nopStatus{}
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Session{
		cfg:     cfg,
		catalog: catalog,
		status:  status,
		audio:   audioSink,
		turns:   turns,
		metrics: metrics,
		topic:   cfg.Topic,
		log:     slog.With("component", "session"),
	}
}

// State returns the connection lifecycle projection.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the setup acknowledgment has been received on the
// current transport, i.e. whether outbound media is accepted.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Connect opens the transport and starts the handshake. It is a no-op when
// already connecting or connected. Dial failures are transient: the session
// retries once after a delay and Connect returns nil. An unknown topic is a
// structural error and is returned immediately.
func (s *Session) Connect(ctx context.Context) error {
	return s.connect(ctx, "initial")
}

func (s *Session) connect(ctx context.Context, kind string) error {
	s.mu.Lock()
	if s.closed || s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	topic := s.topic
	startGen := s.gen
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	s.flushStates()

	parts, ok := s.catalog.Instructions(topic)
	if !ok {
		s.mu.Lock()
		s.setStateLocked(StateDisconnected)
		s.mu.Unlock()
		s.flushStates()
		return fmt.Errorf("session: unknown topic %q", topic)
	}

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		s.cfg.BaseURL, s.cfg.APIKey,
	)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		s.metrics.SessionConnects.Add(context.Background(), 1,
			connectAttrs(kind, "error"))
		s.log.Warn("dial failed", "err", err, "kind", kind)
		s.mu.Lock()
		s.setStateLocked(StateDisconnected)
		if !s.closed && s.gen == startGen {
			s.scheduleLocked(dialRetryDelay, func() {
				if s.State() == StateDisconnected {
					_ = s.connect(context.Background(), "retry")
				}
			})
		}
		s.mu.Unlock()
		s.flushStates()
		return nil
	}

	connCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	// Close or Disconnect may have landed while the dial was in flight; a
	// fresh transport must not be installed over a deliberate teardown.
	if s.closed || s.gen != startGen {
		s.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "session torn down during dial")
		return nil
	}
	s.gen++
	gen := s.gen
	s.conn = conn
	s.connCtx = connCtx
	s.connCancel = cancel
	s.active = false
	s.accum = nil
	s.setStateLocked(StateConnected)
	s.mu.Unlock()
	s.flushStates()

	if err := s.sendSetup(connCtx, conn, parts); err != nil {
		s.log.Warn("setup send failed", "err", err)
		cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		s.metrics.SessionConnects.Add(context.Background(), 1,
			connectAttrs(kind, "error"))
		s.mu.Lock()
		s.dropTransportLocked(gen)
		if !s.closed && s.gen == gen {
			s.scheduleLocked(dialRetryDelay, func() {
				if s.State() == StateDisconnected {
					_ = s.connect(context.Background(), "retry")
				}
			})
		}
		s.mu.Unlock()
		s.flushStates()
		return nil
	}

	s.metrics.SessionConnects.Add(context.Background(), 1, connectAttrs(kind, "ok"))

	go s.receiveLoop(gen, conn, connCtx)
	go s.keepaliveLoop(conn, connCtx)

	return nil
}

// sendSetup transmits the setup message binding model, generation config,
// and the topic-profile instructions.
func (s *Session) sendSetup(ctx context.Context, conn *websocket.Conn, instructions []string) error {
	textParts := make([]textPart, len(instructions))
	for i, text := range instructions {
		textParts[i] = textPart{Text: text}
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: s.cfg.Model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: s.cfg.Voice},
					},
				},
				Temperature:     s.cfg.Temperature,
				MaxOutputTokens: s.cfg.MaxOutputTokens,
			},
			SystemInstruction: systemInstruction{Parts: textParts},
		},
	}
	return s.writeJSON(ctx, conn, msg)
}

// SendMediaChunk frames and transmits one outbound media chunk. Chunks sent
// before the setup acknowledgment are dropped silently — deliberate
// backpressure: audio is never buffered against an unready socket. Send
// failures are logged, never surfaced to the caller.
func (s *Session) SendMediaChunk(chunk capture.MediaChunk) {
	s.mu.Lock()
	if !s.active || s.conn == nil {
		s.mu.Unlock()
		s.metrics.MediaChunksDropped.Add(context.Background(), 1)
		return
	}
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{
				MIMEType: chunk.MimeType,
				Data:     base64.StdEncoding.EncodeToString(chunk.Data),
			}},
		},
	}
	if err := s.writeJSON(ctx, conn, msg); err != nil {
		s.log.Warn("media send failed", "err", err, "mime", chunk.MimeType)
		return
	}
	s.metrics.MediaChunksSent.Add(context.Background(), 1,
		metric.WithAttributes(observe.Attr("mime", chunk.MimeType)))
}

// SendTurnComplete signals the explicit end of the user's turn.
func (s *Session) SendTurnComplete() {
	s.mu.Lock()
	if !s.active || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	msg := realtimeInputMessage{RealtimeInput: realtimeInput{TurnComplete: true}}
	if err := s.writeJSON(ctx, conn, msg); err != nil {
		s.log.Warn("turn-complete send failed", "err", err)
	}
}

// SetTopic rebinds the instruction profile. A topic change is not a live
// negotiation: when connected, the session stops playback, tears the
// connection down, and reconnects shortly after under the new profile.
func (s *Session) SetTopic(topic string) {
	s.mu.Lock()
	s.topic = topic
	connected := s.state != StateDisconnected
	s.mu.Unlock()

	if !connected {
		return
	}

	s.audio.Interrupt()
	s.Disconnect()

	s.mu.Lock()
	s.scheduleLocked(topicSwitchDelay, func() {
		_ = s.connect(context.Background(), "topic_switch")
	})
	s.mu.Unlock()
}

// Disconnect closes the transport with a normal-closure code, clears all
// inbound buffers, stops playback, and cancels any pending reconnect. This
// is the only path that suppresses auto-reconnect: the reconnect policy
// reacts only to unexpected closes.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.setupDone = false
	s.active = false
	s.accum = nil
	s.cancelTimersLocked()
	conn := s.conn
	cancel := s.connCancel
	s.conn = nil
	s.connCancel = nil
	s.connCtx = nil
	s.gen++ // receive loop of the old transport becomes stale
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()
	s.flushStates()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	s.audio.Interrupt()
}

// Close permanently shuts the session down. Subsequent Connect calls are
// no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Disconnect()
}

// ── Inbound path ───────────────────────────────────────────────────────────────

// receiveLoop reads frames from the transport until it fails or the
// connection context is cancelled, then applies the disconnect policy.
func (s *Session) receiveLoop(gen int, conn *websocket.Conn, ctx context.Context) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.handleClose(gen, ctx, err)
			return
		}
		for _, ev := range decodeInbound(data) {
			s.handleEvent(gen, ev)
		}
	}
}

func (s *Session) handleEvent(gen int, ev inboundEvent) {
	switch ev.Kind {
	case kindSetupComplete:
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.active = true
		s.setupDone = true
		s.mu.Unlock()
		s.log.Info("setup complete")
		s.status.OnReady()

	case kindModelAudio:
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.accum = append(s.accum, ev.Audio)
		s.mu.Unlock()
		s.audio.EnqueueAudio(ev.Audio)

	case kindTurnComplete:
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		accum := s.accum
		s.accum = nil
		s.mu.Unlock()
		s.finishModelTurn(accum)
	}
}

// finishModelTurn concatenates the accumulated inbound PCM, encodes it to
// WAV at the inbound rate, and hands it to the model-turn sink. Encoding
// failure drops the turn; the accumulation buffer is already cleared, so the
// pipeline keeps advancing.
func (s *Session) finishModelTurn(accum [][]byte) {
	if len(accum) == 0 {
		return
	}
	var total int
	for _, c := range accum {
		total += len(c)
	}
	pcm := make([]byte, 0, total)
	for _, c := range accum {
		pcm = append(pcm, c...)
	}
	wav, err := audio.EncodeWAV(pcm, s.cfg.InboundRate)
	if err != nil {
		s.log.Warn("model turn encode failed, dropping", "err", err, "bytes", total)
		return
	}
	s.log.Debug("model turn complete", "bytes", total)
	s.turns.SubmitModelTurn(wav)
}

// handleClose applies the reconnect policy after the transport drops. A
// close caused by Disconnect (context cancelled, or generation advanced) is
// deliberate and never reconnects, and neither is a clean server close: a
// normal-closure code means the far end ended the session on purpose. Only
// an unexpected close after a completed setup schedules a reconnect attempt.
func (s *Session) handleClose(gen int, ctx context.Context, err error) {
	deliberate := ctx.Err() != nil
	clean := false
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		clean = true
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.dropTransportLocked(gen)
	wasSetup := s.setupDone
	closed := s.closed
	if !deliberate && !clean && wasSetup && !closed {
		s.log.Warn("transport closed unexpectedly, scheduling reconnect", "err", err)
		s.scheduleLocked(reconnectDelay, func() {
			_ = s.connect(context.Background(), "reconnect")
		})
	}
	s.mu.Unlock()
	s.flushStates()

	if !deliberate {
		s.log.Info("disconnected", "err", err)
	}
}

// dropTransportLocked clears the current transport and flips the state to
// Disconnected. Caller holds s.mu and must call flushStates after unlocking.
func (s *Session) dropTransportLocked(gen int) {
	if gen != s.gen {
		return
	}
	if s.connCancel != nil {
		s.connCancel()
	}
	s.conn = nil
	s.connCtx = nil
	s.connCancel = nil
	s.active = false
	s.accum = nil
	s.setStateLocked(StateDisconnected)
}

// keepaliveLoop pings the endpoint to keep the connection alive while idle.
func (s *Session) keepaliveLoop(conn *websocket.Conn, ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, keepaliveTimeout)
			_ = conn.Ping(pingCtx)
			cancel()
		}
	}
}

// ── Internals ──────────────────────────────────────────────────────────────────

// setStateLocked records a lifecycle transition and queues the sink
// notification. Caller holds s.mu and must call flushStates after unlocking.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.pending = append(s.pending, next)

	if next == StateConnected {
		s.metrics.ActiveSessions.Add(context.Background(), 1)
	} else if prev == StateConnected {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// flushStates delivers queued lifecycle transitions to the status sink.
// Transitions are queued in mutation order under s.mu and drained FIFO under
// notifyMu, so the sink can never observe a later state before an earlier
// one regardless of which goroutine flushes.
func (s *Session) flushStates() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		s.status.OnStateChange(next)
	}
}

// scheduleLocked registers a cancellable one-shot timer. Caller holds s.mu.
func (s *Session) scheduleLocked(d time.Duration, fn func()) {
	s.timers = append(s.timers, time.AfterFunc(d, fn))
}

// cancelTimersLocked stops all pending timers. Caller holds s.mu.
func (s *Session) cancelTimersLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// writeJSON marshals v and writes it as one text frame. Writes are
// serialised: media sends, turn signals, and setup may race otherwise.
func (s *Session) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

// connectAttrs builds the SessionConnects attribute option.
func connectAttrs(kind, status string) metric.AddOption {
	return metric.WithAttributes(observe.Attr("kind", kind), observe.Attr("status", status))
}
