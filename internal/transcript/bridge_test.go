package transcript_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Predictive-Systems-Inc/dr-a/internal/observe"
	"github.com/Predictive-Systems-Inc/dr-a/internal/transcript"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/provider/transcribe/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// entryCollector gathers OnEntry callbacks and signals each arrival.
type entryCollector struct {
	mu      sync.Mutex
	entries []transcript.Entry
	arrived chan struct{}
}

func newEntryCollector() *entryCollector {
	return &entryCollector{arrived: make(chan struct{}, 32)}
}

func (c *entryCollector) onEntry(e transcript.Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
	c.arrived <- struct{}{}
}

func (c *entryCollector) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.arrived:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for entry %d of %d", i+1, n)
		}
	}
}

func TestBridge_TranscribesBothOrigins(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Texts: []string{"what is velocity", "velocity is speed with direction"}}
	col := newEntryCollector()
	b := transcript.NewBridge(provider,
		transcript.WithOnEntry(col.onEntry),
		transcript.WithMetrics(testMetrics(t)),
	)
	t.Cleanup(func() { b.Close() })

	b.SubmitUtterance([]byte("human-wav"))
	col.wait(t, 1)
	b.SubmitModelTurn([]byte("model-wav"))
	col.wait(t, 1)

	entries := b.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Origin != transcript.OriginHuman || entries[0].Text != "what is velocity" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Origin != transcript.OriginModel || entries[1].Text != "velocity is speed with direction" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	if entries[0].At.IsZero() || entries[1].At.IsZero() {
		t.Error("entries carry no timestamps")
	}
}

func TestBridge_ProviderErrorSkipsEntry(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Err: errors.New("backend down")}
	b := transcript.NewBridge(provider, transcript.WithMetrics(testMetrics(t)))

	b.SubmitUtterance([]byte("wav"))
	b.Close()

	if len(b.Entries()) != 0 {
		t.Errorf("entries = %d, want 0 after provider failure", len(b.Entries()))
	}
	if provider.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.CallCount())
	}
}

func TestBridge_EmptyAndWhitespaceDropped(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Texts: []string{"", "   ", "kept"}}
	b := transcript.NewBridge(provider, transcript.WithMetrics(testMetrics(t)))

	b.SubmitUtterance([]byte("a"))
	b.SubmitUtterance([]byte("b"))
	b.SubmitUtterance([]byte("c"))
	b.Close()

	entries := b.Entries()
	if len(entries) != 1 || entries[0].Text != "kept" {
		t.Errorf("entries = %+v, want single %q entry", entries, "kept")
	}
}

func TestBridge_SuppressesRefusals(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Texts: []string{
		"I'm sorry, I can't process audio.",
		"gravity pulls the apple down",
	}}
	b := transcript.NewBridge(provider, transcript.WithMetrics(testMetrics(t)))

	b.SubmitModelTurn([]byte("a"))
	b.SubmitModelTurn([]byte("b"))
	b.Close()

	entries := b.Entries()
	if len(entries) != 1 || entries[0].Text != "gravity pulls the apple down" {
		t.Errorf("entries = %+v, want refusal suppressed", entries)
	}
}

func TestBridge_CloseDrainsQueuedClips(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Fallback: "line"}
	b := transcript.NewBridge(provider, transcript.WithMetrics(testMetrics(t)))

	for i := 0; i < 5; i++ {
		b.SubmitUtterance([]byte{byte(i)})
	}
	b.Close()

	if n := len(b.Entries()); n != 5 {
		t.Errorf("entries = %d, want 5 after drain", n)
	}
}

func TestBridge_SubmitAfterCloseIgnored(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Fallback: "line"}
	b := transcript.NewBridge(provider, transcript.WithMetrics(testMetrics(t)))
	b.Close()

	b.SubmitUtterance([]byte("late"))
	time.Sleep(50 * time.Millisecond)
	if n := len(b.Entries()); n != 0 {
		t.Errorf("entries = %d, want 0 for post-close submit", n)
	}
}

func TestBridge_EmptyClipIgnored(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Fallback: "line"}
	b := transcript.NewBridge(provider, transcript.WithMetrics(testMetrics(t)))
	b.SubmitUtterance(nil)
	b.Close()

	if provider.CallCount() != 0 {
		t.Errorf("provider calls = %d, want 0 for empty clip", provider.CallCount())
	}
}
