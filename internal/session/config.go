package session

import (
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-player/internal/input"
	"github.com/lexiqai/speech-player/internal/settings"
	"github.com/lexiqai/speech-player/internal/streamerr"
)

const (
	DefaultStreamChunkSize = 2048
)

// DefaultChunkSchedule is the minimum number of characters the backend buffers
// before generating each successive chunk
var DefaultChunkSchedule = []int{120, 160, 250, 290}

// Request carries raw caller input before validation and normalization
type Request struct {
	Text       string
	VoiceID    string
	Credential string

	// Raw knobs, normalized by the settings package
	Stability     string
	Similarity    string
	PlaybackSpeed string

	// Optional; zero values select the defaults
	ChunkSchedule   []int
	StreamChunkSize int
}

// Config is the immutable configuration of one playback request.
// It is passed by value; accessors return copies of slice fields.
type Config struct {
	text            string
	voiceID         string
	credential      string
	voice           settings.VoiceSettings
	speed           float64
	chunkSchedule   []int
	streamChunkSize int
}

// New validates and normalizes req into a Config
func New(req Request) (Config, error) {
	text, err := input.Validate(req.Text)
	if err != nil {
		return Config{}, err
	}
	if req.Credential == "" {
		return Config{}, streamerr.Newf(streamerr.KindAuthentication, "configure", "no API key configured")
	}

	schedule := DefaultChunkSchedule
	if len(req.ChunkSchedule) > 0 {
		schedule = req.ChunkSchedule
	}
	chunkSize := req.StreamChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultStreamChunkSize
	}

	return Config{
		text:            text,
		voiceID:         req.VoiceID,
		credential:      req.Credential,
		voice:           settings.NormalizeVoiceSettings(req.Stability, req.Similarity),
		speed:           settings.NormalizeSpeed(req.PlaybackSpeed),
		chunkSchedule:   append([]int(nil), schedule...),
		streamChunkSize: chunkSize,
	}, nil
}

func (c Config) Text() string                          { return c.text }
func (c Config) VoiceID() string                       { return c.voiceID }
func (c Config) Credential() string                    { return c.credential }
func (c Config) VoiceSettings() settings.VoiceSettings { return c.voice }
func (c Config) PlaybackSpeed() float64                { return c.speed }
func (c Config) StreamChunkSize() int                  { return c.streamChunkSize }

func (c Config) ChunkSchedule() []int {
	return append([]int(nil), c.chunkSchedule...)
}

// MarshalZerologObject logs the config without the credential
func (c Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("voice_id", c.voiceID).
		Int("text_len", len(c.text)).
		Float64("stability", c.voice.Stability).
		Float64("similarity", c.voice.Similarity).
		Str("playback_speed", settings.FormatSpeed(c.speed))
}
