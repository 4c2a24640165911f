// Package audio holds the recording quality gate and the sample helpers
// used to move mono waveforms between the API, storage and the engine.
package audio

import (
	"fmt"
	"math"
)

// Quality thresholds. They apply to the normalized representation, where
// full scale is 1.0.
const (
	MinDurationSeconds = 3.0
	MinRMSLevel        = 0.01
	MaxPeakLevel       = 0.95
)

// Buffer is a mono waveform.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Empty reports whether the buffer carries no usable audio.
func (b Buffer) Empty() bool {
	return len(b.Samples) == 0 || b.SampleRate <= 0
}

// DurationSeconds returns the length of the buffer in seconds.
func (b Buffer) DurationSeconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Reason identifies which quality rule decided a verdict.
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonNoRecording Reason = "no recording"
	ReasonTooShort    Reason = "too short"
	ReasonTooQuiet    Reason = "too quiet"
	ReasonClipping    Reason = "clipping"
	ReasonCorrupt     Reason = "corrupt samples"
)

// Metrics are the measurements behind a verdict.
type Metrics struct {
	DurationSeconds float64 `json:"duration_seconds"`
	RMSLevel        float64 `json:"rms_level"`
	PeakLevel       float64 `json:"peak_level"`
}

// Verdict is the result of Analyze.
type Verdict struct {
	Valid   bool    `json:"valid"`
	Reason  Reason  `json:"reason"`
	Metrics Metrics `json:"metrics"`
}

// Message renders the verdict for display.
func (v Verdict) Message() string {
	m := v.Metrics
	switch v.Reason {
	case ReasonOK:
		return fmt.Sprintf("Recording OK: %.1fs, peak %.2f", m.DurationSeconds, m.PeakLevel)
	case ReasonNoRecording:
		return "No recording"
	case ReasonTooShort:
		return fmt.Sprintf("Recording too short: %.1fs (minimum %.1fs)", m.DurationSeconds, MinDurationSeconds)
	case ReasonTooQuiet:
		return fmt.Sprintf("Recording too quiet: RMS %.4f (minimum %.2f)", m.RMSLevel, MinRMSLevel)
	case ReasonClipping:
		return fmt.Sprintf("Recording is clipping: peak %.2f (maximum %.2f)", m.PeakLevel, MaxPeakLevel)
	case ReasonCorrupt:
		return "Recording contains invalid samples"
	default:
		return string(v.Reason)
	}
}

// Analyze applies the quality rules in order: presence, duration, loudness,
// clipping. The first failing rule sets the reason; metrics are always
// filled in. Samples are read as normalized floats where full scale is 1.0;
// integer PCM goes through FromInt16, FromInt32 or FromEncoderUnits first.
// A buffer holding NaN or Inf is rejected as corrupt. Analyze is pure and
// never fails.
func Analyze(b Buffer) Verdict {
	if b.Empty() {
		return Verdict{Reason: ReasonNoRecording}
	}

	m := Metrics{DurationSeconds: b.DurationSeconds()}
	var sumSquares float64
	for _, s := range b.Samples {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Verdict{Reason: ReasonCorrupt, Metrics: Metrics{DurationSeconds: m.DurationSeconds}}
		}
		if a := math.Abs(v); a > m.PeakLevel {
			m.PeakLevel = a
		}
		sumSquares += v * v
	}
	m.RMSLevel = math.Sqrt(sumSquares / float64(len(b.Samples)))

	switch {
	case m.DurationSeconds < MinDurationSeconds:
		return Verdict{Reason: ReasonTooShort, Metrics: m}
	case m.RMSLevel < MinRMSLevel:
		return Verdict{Reason: ReasonTooQuiet, Metrics: m}
	case m.PeakLevel > MaxPeakLevel:
		return Verdict{Reason: ReasonClipping, Metrics: m}
	}
	return Verdict{Valid: true, Reason: ReasonOK, Metrics: m}
}
