package session_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Predictive-Systems-Inc/dr-a/internal/observe"
	"github.com/Predictive-Systems-Inc/dr-a/internal/session"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/audio"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/capture"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives each
// accepted *websocket.Conn; it is invoked once per connection so reconnect
// tests can observe successive dials.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setup acknowledgment.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// sendModelAudio sends one server content frame carrying inline PCM.
func sendModelAudio(t *testing.T, conn *websocket.Conn, pcm []byte) {
	t.Helper()
	writeJSON(t, conn, map[string]any{
		"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []any{
					map[string]any{
						"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(pcm),
						},
					},
				},
			},
		},
	})
}

func sendTurnComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{
		"serverContent": map[string]any{"turnComplete": true},
	})
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// fixedCatalog maps every topic to the same instruction slice, tracking
// which topic was last resolved.
type fixedCatalog struct {
	mu     sync.Mutex
	topics map[string][]string
	last   string
}

func (c *fixedCatalog) Instructions(topic string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = topic
	parts, ok := c.topics[topic]
	return parts, ok
}

// sinkRecorder implements StatusSink, AudioSink, and ModelTurnSink, recording
// every callback for assertion.
type sinkRecorder struct {
	mu         sync.Mutex
	states     []session.State
	ready      int
	enqueued   [][]byte
	interrupts int
	turns      [][]byte
	readyCh    chan struct{}
	turnCh     chan struct{}
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{
		readyCh: make(chan struct{}, 8),
		turnCh:  make(chan struct{}, 8),
	}
}

func (r *sinkRecorder) OnStateChange(s session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *sinkRecorder) OnReady() {
	r.mu.Lock()
	r.ready++
	r.mu.Unlock()
	r.readyCh <- struct{}{}
}

func (r *sinkRecorder) EnqueueAudio(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, append([]byte(nil), pcm...))
}

func (r *sinkRecorder) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupts++
}

func (r *sinkRecorder) SubmitModelTurn(wav []byte) {
	r.mu.Lock()
	r.turns = append(r.turns, append([]byte(nil), wav...))
	r.mu.Unlock()
	r.turnCh <- struct{}{}
}

func (r *sinkRecorder) waitReady(t *testing.T) {
	t.Helper()
	select {
	case <-r.readyCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for ready")
	}
}

func (r *sinkRecorder) waitTurn(t *testing.T) {
	t.Helper()
	select {
	case <-r.turnCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for model turn")
	}
}

func newSession(t *testing.T, srv *httptest.Server, cat *fixedCatalog, rec *sinkRecorder, topic string) *session.Session {
	t.Helper()
	s := session.New(session.Config{
		APIKey:  "test-key",
		BaseURL: wsURL(srv),
		Topic:   topic,
	}, cat, rec, rec, rec, testMetrics(t))
	t.Cleanup(s.Close)
	return s
}

func defaultCatalog() *fixedCatalog {
	return &fixedCatalog{topics: map[string][]string{
		"kinematics": {"You are a physics tutor.", "Stay on kinematics."},
		"dynamics":   {"You are a physics tutor.", "Stay on dynamics."},
	}}
}

// ── Handshake ─────────────────────────────────────────────────────────────────

func TestConnect_SendsSetupMessage(t *testing.T) {
	t.Parallel()

	type setupWire struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"response_modalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voice_name"`
						} `json:"prebuilt_voice_config"`
					} `json:"voice_config"`
				} `json:"speech_config"`
				Temperature     float64 `json:"temperature"`
				MaxOutputTokens int     `json:"max_output_tokens"`
			} `json:"generation_config"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"system_instruction"`
		} `json:"setup"`
	}

	setupCh := make(chan setupWire, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupWire
		readJSON(t, conn, &msg)
		setupCh <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var msg setupWire
	select {
	case msg = <-setupCh:
	case <-time.After(3 * time.Second):
		t.Fatal("no setup message received")
	}

	if msg.Setup.Model != "models/gemini-2.5-flash-live-preview" {
		t.Errorf("model = %q", msg.Setup.Model)
	}
	gc := msg.Setup.GenerationConfig
	if len(gc.ResponseModalities) != 1 || gc.ResponseModalities[0] != "AUDIO" {
		t.Errorf("response_modalities = %v", gc.ResponseModalities)
	}
	if got := gc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "aoede" {
		t.Errorf("voice_name = %q", got)
	}
	if gc.Temperature != 0.01 {
		t.Errorf("temperature = %v", gc.Temperature)
	}
	if gc.MaxOutputTokens != 300 {
		t.Errorf("max_output_tokens = %d", gc.MaxOutputTokens)
	}
	parts := msg.Setup.SystemInstruction.Parts
	if len(parts) != 2 || parts[1].Text != "Stay on kinematics." {
		t.Errorf("system_instruction parts = %+v", parts)
	}

	rec.waitReady(t)
	if !s.Active() {
		t.Error("session not active after setup acknowledgment")
	}
}

func TestConnect_UnknownTopic(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "astrology")
	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected error for unknown topic")
	}
	if s.State() != session.StateDisconnected {
		t.Errorf("state = %v, want Disconnected", s.State())
	}
}

func TestConnect_AlreadyConnectedIsNoop(t *testing.T) {
	t.Parallel()

	var dials int
	var mu sync.Mutex
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		var raw json.RawMessage
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitReady(t)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
}

func TestConnect_DialFailureRetriesAfterDelay(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			// Refuse the upgrade so the dial itself fails.
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		var raw json.RawMessage
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	}))
	t.Cleanup(srv.Close)

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")

	start := time.Now()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v, want nil for a transient dial failure", err)
	}
	if s.State() != session.StateDisconnected {
		t.Errorf("state = %v, want Disconnected after failed dial", s.State())
	}

	// The retry is scheduled, not immediate: the second attempt lands after
	// the dial retry delay and completes the handshake.
	rec.waitReady(t)
	if elapsed := time.Since(start); elapsed < 1900*time.Millisecond {
		t.Errorf("retry landed after %v, want the full retry delay", elapsed)
	}
	if !s.Active() {
		t.Error("session not active after retried handshake")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

// ── Outbound media ────────────────────────────────────────────────────────────

type realtimeWire struct {
	RealtimeInput struct {
		MediaChunks []struct {
			MIMEType string `json:"mime_type"`
			Data     string `json:"data"`
		} `json:"media_chunks"`
		TurnComplete bool `json:"turn_complete"`
	} `json:"realtime_input"`
}

func TestSendMediaChunk_DroppedBeforeSetupAck(t *testing.T) {
	t.Parallel()

	frames := make(chan json.RawMessage, 8)
	ackNow := make(chan struct{})
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw json.RawMessage
		readJSON(t, conn, &raw) // setup
		<-ackNow
		sendSetupComplete(t, conn)
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			frames <- data
		}
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Setup sent but not yet acknowledged: chunks must be dropped, not
	// buffered for later delivery.
	s.SendMediaChunk(capture.MediaChunk{Data: []byte{1, 2}, MimeType: capture.MimePCM})
	close(ackNow)
	rec.waitReady(t)

	s.SendMediaChunk(capture.MediaChunk{Data: []byte{3, 4}, MimeType: capture.MimePCM})

	var raw json.RawMessage
	select {
	case raw = <-frames:
	case <-time.After(3 * time.Second):
		t.Fatal("no media frame received")
	}
	var msg realtimeWire
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	chunks := msg.RealtimeInput.MediaChunks
	if len(chunks) != 1 {
		t.Fatalf("media_chunks = %d, want 1", len(chunks))
	}
	data, err := base64.StdEncoding.DecodeString(chunks[0].Data)
	if err != nil {
		t.Fatalf("decode chunk data: %v", err)
	}
	if string(data) != "\x03\x04" {
		t.Errorf("chunk data = %v, want the post-ack chunk only", data)
	}
	if chunks[0].MIMEType != capture.MimePCM {
		t.Errorf("mime_type = %q", chunks[0].MIMEType)
	}

	select {
	case extra := <-frames:
		t.Errorf("unexpected extra frame: %s", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSendTurnComplete(t *testing.T) {
	t.Parallel()

	frames := make(chan json.RawMessage, 8)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw json.RawMessage
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		frames <- data
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitReady(t)
	s.SendTurnComplete()

	var raw json.RawMessage
	select {
	case raw = <-frames:
	case <-time.After(3 * time.Second):
		t.Fatal("no frame received")
	}
	var msg realtimeWire
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !msg.RealtimeInput.TurnComplete {
		t.Error("turn_complete not set")
	}
	if len(msg.RealtimeInput.MediaChunks) != 0 {
		t.Errorf("unexpected media_chunks: %+v", msg.RealtimeInput.MediaChunks)
	}
}

// ── Inbound audio and model turns ─────────────────────────────────────────────

func TestModelTurn_AccumulatesAndSubmitsWAV(t *testing.T) {
	t.Parallel()

	first := []byte{1, 0, 2, 0}
	second := []byte{3, 0, 4, 0}

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw json.RawMessage
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		sendModelAudio(t, conn, first)
		sendModelAudio(t, conn, second)
		sendTurnComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitTurn(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	// Playback receives each part as it arrives.
	if len(rec.enqueued) != 2 {
		t.Fatalf("enqueued parts = %d, want 2", len(rec.enqueued))
	}
	if string(rec.enqueued[0]) != string(first) || string(rec.enqueued[1]) != string(second) {
		t.Error("enqueued audio does not match inbound parts")
	}

	// Exactly one WAV submission carrying the concatenated PCM at 24 kHz.
	if len(rec.turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(rec.turns))
	}
	pcm, rate, err := audio.DecodeWAV(rec.turns[0])
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 24000 {
		t.Errorf("rate = %d, want 24000", rate)
	}
	want := append(append([]byte(nil), first...), second...)
	if string(pcm) != string(want) {
		t.Errorf("pcm = %v, want %v", pcm, want)
	}
}

func TestModelTurn_EmptyTurnNotSubmitted(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw json.RawMessage
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		sendTurnComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitReady(t)

	time.Sleep(200 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.turns) != 0 {
		t.Errorf("turns = %d, want 0 for an audio-free turn", len(rec.turns))
	}
}

// ── Reconnect policy ──────────────────────────────────────────────────────────

func TestUncleanClose_ReconnectsAfterSetup(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var dials int
	secondDial := make(chan struct{}, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()

		var raw json.RawMessage
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		if n == 1 {
			// Simulate a server-side failure after the handshake.
			conn.Close(websocket.StatusInternalError, "simulated failure")
			return
		}
		secondDial <- struct{}{}
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitReady(t)

	// The drop must surface immediately even though the reconnect is delayed.
	deadline := time.Now().Add(500 * time.Millisecond)
	for s.State() != session.StateDisconnected && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.State() != session.StateDisconnected {
		t.Fatal("state did not transition to Disconnected after unclean close")
	}

	select {
	case <-secondDial:
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnect attempt after unclean close")
	}
	rec.waitReady(t)
	if !s.Active() {
		t.Error("session not active after reconnect handshake")
	}
}

func TestCleanServerClose_DoesNotReconnect(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var dials int
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		var raw json.RawMessage
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		// The far end ends the session on purpose.
		conn.Close(websocket.StatusNormalClosure, "session over")
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitReady(t)

	deadline := time.Now().Add(3 * time.Second)
	for s.State() != session.StateDisconnected && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.State() != session.StateDisconnected {
		t.Fatal("state did not transition to Disconnected after server close")
	}

	// Longer than the reconnect delay: a clean close must not redial even
	// though setup had completed.
	time.Sleep(1500 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Errorf("dials = %d, want 1 after clean server close", dials)
	}
}

func TestDisconnect_SuppressesReconnect(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var dials int
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		var raw json.RawMessage
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitReady(t)
	s.Disconnect()

	if s.State() != session.StateDisconnected {
		t.Errorf("state = %v, want Disconnected", s.State())
	}

	// Longer than the reconnect delay: no new dial may appear.
	time.Sleep(1500 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Errorf("dials = %d, want 1 after deliberate disconnect", dials)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.interrupts == 0 {
		t.Error("Disconnect did not interrupt playback")
	}
}

func TestSetTopic_ReconnectsWithNewInstructions(t *testing.T) {
	t.Parallel()

	type sysWire struct {
		Setup struct {
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"system_instruction"`
		} `json:"setup"`
	}

	setups := make(chan sysWire, 2)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg sysWire
		readJSON(t, conn, &msg)
		setups <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitReady(t)
	<-setups

	s.SetTopic("dynamics")

	var msg sysWire
	select {
	case msg = <-setups:
	case <-time.After(5 * time.Second):
		t.Fatal("no setup after topic switch")
	}
	parts := msg.Setup.SystemInstruction.Parts
	if len(parts) != 2 || parts[1].Text != "Stay on dynamics." {
		t.Errorf("post-switch instructions = %+v", parts)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.interrupts == 0 {
		t.Error("topic switch did not interrupt playback")
	}
}

func TestSetTopic_WhileDisconnectedOnlyRebinds(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var dials int
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	s.SetTopic("dynamics")

	time.Sleep(700 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if dials != 0 {
		t.Errorf("dials = %d, want 0 when disconnected", dials)
	}
}

// ── Teardown races and status ordering ────────────────────────────────────────

func TestClose_DuringDialAbortsConnect(t *testing.T) {
	t.Parallel()

	dialStarted := make(chan struct{}, 1)
	gate := make(chan struct{})
	setupReceived := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialStarted <- struct{}{}
		<-gate // hold the upgrade so the dial is in flight during teardown
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if _, _, err := conn.Read(ctx); err == nil {
			setupReceived <- struct{}{}
		}
	}))
	t.Cleanup(srv.Close)

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")

	connectDone := make(chan error, 1)
	go func() { connectDone <- s.Connect(context.Background()) }()

	select {
	case <-dialStarted:
	case <-time.After(3 * time.Second):
		t.Fatal("dial never reached the server")
	}
	s.Close()
	close(gate)

	if err := <-connectDone; err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The transport dialed before Close must be discarded, never installed:
	// no setup handshake, no Connected state, no activation.
	select {
	case <-setupReceived:
		t.Error("setup sent on a transport dialed before Close")
	case <-time.After(700 * time.Millisecond):
	}
	if s.State() != session.StateDisconnected {
		t.Errorf("state = %v, want Disconnected after Close", s.State())
	}
	if s.Active() {
		t.Error("session active after Close")
	}
}

func TestStateChanges_DeliveredInOrder(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw json.RawMessage
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := newSinkRecorder()
	s := newSession(t, srv, defaultCatalog(), rec, "kinematics")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitReady(t)
	s.Disconnect()

	// Transitions arrive in lifecycle order, never swapped by concurrent
	// delivery.
	want := []session.State{
		session.StateConnecting,
		session.StateConnected,
		session.StateDisconnected,
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.states) != len(want) {
		t.Fatalf("states = %v, want %v", rec.states, want)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Fatalf("states[%d] = %v, want %v (full sequence %v)", i, rec.states[i], want[i], rec.states)
		}
	}
}
