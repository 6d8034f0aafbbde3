// Package health provides HTTP liveness and readiness probes for the
// streaming process.
//
//   - /healthz — liveness; returns 200 as long as the process serves HTTP.
//   - /readyz  — readiness; returns 200 only while every registered probe
//     passes (live session active, transcript store reachable, ...).
//
// Responses are JSON with a top-level "status" field ("ok" or "fail") and a
// per-probe "checks" map.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Predictive-Systems-Inc/dr-a/internal/session"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Run returns nil while the dependency is
// usable and an error describing the failure otherwise.
type Probe struct {
	// Name labels the probe in the JSON response, e.g. "session" or "store".
	Name string

	// Run checks the dependency. It must honour ctx cancellation.
	Run func(ctx context.Context) error
}

// SessionProbe reports ready while s holds an acknowledged live connection.
// During a reconnect window the probe fails, which is intentional: a pod that
// cannot reach the model endpoint should drop out of rotation.
func SessionProbe(s *session.Session) Probe {
	return Probe{
		Name: "session",
		Run: func(context.Context) error {
			if !s.Active() {
				return errors.New("live session not established")
			}
			return nil
		},
	}
}

// Pinger is the subset of a database pool used by [StoreProbe].
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreProbe reports ready while the transcript store answers pings.
func StoreProbe(p Pinger) Probe {
	return Probe{
		Name: "store",
		Run:  p.Ping,
	}
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The probe list is fixed at
// construction; the handler is safe for concurrent use.
type Handler struct {
	probes []Probe
}

// New creates a [Handler] that evaluates probes in order on each /readyz
// request.
func New(probes ...Probe) *Handler {
	ps := make([]Probe, len(probes))
	copy(ps, probes)
	return &Handler{probes: ps}
}

// Healthz always returns 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz returns 200 only when every probe passes. Each probe runs with a
// [probeTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.probes))
	ready := true

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Run(ctx)
		cancel()

		if err != nil {
			checks[p.Name] = "fail: " + err.Error()
			ready = false
		} else {
			checks[p.Name] = "ok"
		}
	}

	res := response{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !ready {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
