// Package settings clamps user-supplied voice and playback knobs into safe
// ranges. Invalid input never fails a request; it falls back to defaults.
package settings

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultSpeed      = 1.0
	MinSpeed          = 0.5
	MaxSpeed          = 2.0
	DefaultStability  = 0.5
	DefaultSimilarity = 0.75
)

// VoiceSettings holds the normalized voice-quality knobs, both in [0,1]
type VoiceSettings struct {
	Stability  float64
	Similarity float64
}

// NormalizeSpeed parses raw as a playback speed factor, clamps it to
// [MinSpeed, MaxSpeed] and rounds to two decimals
func NormalizeSpeed(raw string) float64 {
	v, ok := parse(raw)
	if !ok {
		return DefaultSpeed
	}
	return round2(clamp(v, MinSpeed, MaxSpeed))
}

// FormatSpeed renders a speed factor with two decimals
func FormatSpeed(speed float64) string {
	return strconv.FormatFloat(speed, 'f', 2, 64)
}

// SpeedString is FormatSpeed(NormalizeSpeed(raw))
func SpeedString(raw string) string {
	return FormatSpeed(NormalizeSpeed(raw))
}

// NormalizeVoiceSettings parses and clamps stability and similarity independently
func NormalizeVoiceSettings(rawStability, rawSimilarity string) VoiceSettings {
	stability, ok := parse(rawStability)
	if !ok {
		stability = DefaultStability
	}
	similarity, ok := parse(rawSimilarity)
	if !ok {
		similarity = DefaultSimilarity
	}
	return VoiceSettings{
		Stability:  clamp(stability, 0, 1),
		Similarity: clamp(similarity, 0, 1),
	}
}

// parse accepts any decimal. Out-of-range values come back as ±Inf so the
// caller's clamp still picks the nearest bound.
func parse(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
