package tts

import (
	"context"
	"encoding/base64"
)

// Marker types sent after the configuration message
const (
	MarkerBeginOfStream = "bos"
	MarkerEndOfStream   = "eos"
)

// ErrorInvalidAPIKey is the inbound error value for a rejected credential
const ErrorInvalidAPIKey = "invalid_api_key"

// VoiceSettings is the voice_settings object of the configuration message
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// GenerationConfig carries the backend chunk-scheduling policy
type GenerationConfig struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule"`
	StreamChunkSize     int   `json:"stream_chunk_size"`
}

// ConfigMessage is the first outbound message of a session
type ConfigMessage struct {
	Text             string           `json:"text"`
	VoiceSettings    VoiceSettings    `json:"voice_settings"`
	GenerationConfig GenerationConfig `json:"generation_config"`
}

// MarkerMessage is a begin- or end-of-stream marker
type MarkerMessage struct {
	Type string `json:"type"`
}

// Frame is one inbound message from the synthesis backend
type Frame struct {
	Audio   string `json:"audio,omitempty"` // Base64 encoded audio
	IsFinal bool   `json:"isFinal,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// HasAudio reports whether the frame carries an audio payload
func (f Frame) HasAudio() bool {
	return f.Audio != ""
}

// DecodeAudio returns the decoded audio bytes
func (f Frame) DecodeAudio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Audio)
}

// Session is an open duplex connection to the synthesis backend.
// Send and Receive may be called from different goroutines; Close is idempotent.
type Session interface {
	Send(v interface{}) error
	Receive() (Frame, error)
	Close() error
}

// Dialer opens synthesis sessions
type Dialer interface {
	Dial(ctx context.Context, voiceID, credential string) (Session, error)
}
