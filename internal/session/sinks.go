package session

// State is the externally visible connection lifecycle of a Session. It is
// driven solely by the session state machine; collaborators read it as a
// projection and must not feed it back.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StatusSink receives connection lifecycle notifications. Callbacks are
// invoked from session goroutines and must return quickly.
type StatusSink interface {
	// OnStateChange fires on every lifecycle transition.
	OnStateChange(s State)

	// OnReady fires once per handshake, when the setup acknowledgment
	// arrives. Outbound media is accepted only after this point.
	OnReady()
}

// AudioSink consumes the model's inbound audio. Chunks arrive as raw 16-bit
// PCM in strict wire order. Interrupt is called on teardown and topic switch
// and must abandon all queued and in-flight audio immediately.
type AudioSink interface {
	EnqueueAudio(pcm []byte)
	Interrupt()
}

// ModelTurnSink receives each completed model turn as a WAV payload for
// asynchronous transcription.
type ModelTurnSink interface {
	SubmitModelTurn(wav []byte)
}

// Catalog maps a topic key to the ordered instruction parts bound into the
// setup message. Looked up once per connect.
type Catalog interface {
	// Instructions returns the instruction parts for topic, or false if the
	// topic is unknown.
	Instructions(topic string) ([]string, bool)
}

// nopStatus is used when no status sink is configured.
type nopStatus struct{}

func (nopStatus) OnStateChange(State) {}
func (nopStatus) OnReady()            {}
