// Package pipeline implements the capture side of a streaming session: the
// speech activity detector, the pre-roll ring buffer, the utterance
// assembler, the speaking-gated frame sampler, and the loop that ties them
// to a capture stream and the outbound session.
package pipeline

import "time"

const (
	// detectorWindow is the number of energy samples in the smoothing window.
	detectorWindow = 10

	// defaultSpeechThreshold is the smoothed-energy level above which the
	// detector reports speaking.
	defaultSpeechThreshold = 10

	// defaultSilenceHangover is how long the smoothed energy must stay below
	// the threshold before a speaking→silent transition is reported. Short
	// dropouts mid-word must not flap the state.
	defaultSilenceHangover = 100 * time.Millisecond
)

// DetectorConfig holds the tunables of a [Detector]. The zero value selects
// the defaults above.
type DetectorConfig struct {
	// Threshold is the smoothed-energy speaking threshold.
	Threshold float64

	// SilenceHangover is the continuous sub-threshold duration required to
	// flip speaking→silent.
	SilenceHangover time.Duration
}

// Detector converts a stream of frequency-energy snapshots, sampled on a
// fixed tick, into a speaking/silent boolean with asymmetric hysteresis:
// silence→speaking flips the instant the smoothed mean crosses the
// threshold; speaking→silence only after the mean stays below it for the
// full hangover. The OnSpeechStart/OnSpeechEnd callbacks fire exactly once
// per transition.
//
// Detector is not safe for concurrent use; it is owned by the detection tick
// of a single pipeline.
type Detector struct {
	cfg DetectorConfig

	// OnSpeechStart and OnSpeechEnd are invoked edge-triggered from Observe.
	// Either may be nil.
	OnSpeechStart func()
	OnSpeechEnd   func()

	window      []float64
	speaking    bool
	silentSince time.Time
}

// NewDetector creates a Detector. Zero config fields fall back to defaults.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultSpeechThreshold
	}
	if cfg.SilenceHangover == 0 {
		cfg.SilenceHangover = defaultSilenceHangover
	}
	return &Detector{
		cfg:    cfg,
		window: make([]float64, 0, detectorWindow),
	}
}

// Observe feeds one energy snapshot taken at now and returns the resulting
// speaking state. The caller invokes it on a fixed 100 ms tick; now is a
// parameter so tests can drive virtual time.
func (d *Detector) Observe(energy float64, now time.Time) bool {
	d.window = append(d.window, energy)
	if len(d.window) > detectorWindow {
		d.window = d.window[1:]
	}

	var sum float64
	for _, v := range d.window {
		sum += v
	}
	mean := sum / float64(len(d.window))

	if mean > d.cfg.Threshold {
		d.silentSince = time.Time{}
		if !d.speaking {
			d.speaking = true
			if d.OnSpeechStart != nil {
				d.OnSpeechStart()
			}
		}
		return d.speaking
	}

	if d.silentSince.IsZero() {
		d.silentSince = now
	}
	if d.speaking && now.Sub(d.silentSince) >= d.cfg.SilenceHangover {
		d.speaking = false
		if d.OnSpeechEnd != nil {
			d.OnSpeechEnd()
		}
	}
	return d.speaking
}

// Speaking reports the current state without feeding a sample.
func (d *Detector) Speaking() bool { return d.speaking }

// Reset clears the smoothing window and returns the detector to silent.
// No callback fires; use when a stream is restarted so stale energy history
// cannot leak into the new session.
func (d *Detector) Reset() {
	d.window = d.window[:0]
	d.speaking = false
	d.silentSince = time.Time{}
}
