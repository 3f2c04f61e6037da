package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lexiqai/speech-player/internal/session"
)

// Config holds all configuration for the speech player
type Config struct {
	// ElevenLabs synthesis configuration
	ElevenLabsAPIKey       string `envconfig:"ELEVENLABS_API_KEY" required:"true"`
	ElevenLabsVoiceID      string `envconfig:"ELEVENLABS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"` // Rachel
	ElevenLabsModelID      string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_multilingual_v2"`
	ElevenLabsBaseURL      string `envconfig:"ELEVENLABS_BASE_URL" default:"wss://api.elevenlabs.io/v1"`
	ElevenLabsOutputFormat string `envconfig:"ELEVENLABS_OUTPUT_FORMAT" default:"mp3_44100_128"`

	// Voice and playback knobs, kept raw so invalid values degrade to defaults
	VoiceStability  string `envconfig:"VOICE_STABILITY" default:"0.5"`
	VoiceSimilarity string `envconfig:"VOICE_SIMILARITY" default:"0.75"`
	PlaybackSpeed   string `envconfig:"PLAYBACK_SPEED" default:"1.00"`

	// Backend chunking, forwarded as generation_config
	ChunkLengthSchedule []int `envconfig:"CHUNK_LENGTH_SCHEDULE" default:"120,160,250,290"`
	StreamChunkSize     int   `envconfig:"STREAM_CHUNK_SIZE" default:"2048"`

	// External player
	PlayerCommand   string `envconfig:"PLAYER_COMMAND" default:"afplay"`
	PlayerSpeedFlag string `envconfig:"PLAYER_SPEED_FLAG" default:"-r"`
	AudioTempDir    string `envconfig:"AUDIO_TEMP_DIR" default:""` // Empty uses the OS temp dir

	// Timeouts (seconds, 0 disables)
	SessionOpenTimeout int `envconfig:"SESSION_OPEN_TIMEOUT" default:"10"`
	FrameIdleTimeout   int `envconfig:"FRAME_IDLE_TIMEOUT" default:"15"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"50052"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// EnvFileVar names the variable that points Load at a dotenv file other than ./.env
const EnvFileVar = "SPEECH_PLAYER_ENV_FILE"

// Load reads configuration from environment variables
// It first attempts to load the dotenv file if it exists, then from environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	// Try to load the dotenv file (ignore error if it doesn't exist)
	_ = godotenv.Load(GetEnv(EnvFileVar, ".env"))
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks fields envconfig cannot express
func (c *Config) Validate() error {
	if c.ElevenLabsAPIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is required")
	}
	if c.PlayerCommand == "" {
		return fmt.Errorf("PLAYER_COMMAND is required")
	}
	if c.SessionOpenTimeout < 0 || c.FrameIdleTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	for _, n := range c.ChunkLengthSchedule {
		if n <= 0 {
			return fmt.Errorf("CHUNK_LENGTH_SCHEDULE entries must be positive, got %d", n)
		}
	}
	return nil
}

// OpenTimeout returns the session-open timeout as a duration
func (c *Config) OpenTimeout() time.Duration {
	return time.Duration(c.SessionOpenTimeout) * time.Second
}

// IdleTimeout returns the inter-frame idle timeout as a duration
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.FrameIdleTimeout) * time.Second
}

// BreakerResetTimeout returns the circuit breaker reset timeout as a duration
func (c *Config) BreakerResetTimeout() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// Request builds a raw session request for text using the configured defaults
func (c *Config) Request(text string) session.Request {
	return session.Request{
		Text:            text,
		VoiceID:         c.ElevenLabsVoiceID,
		Credential:      c.ElevenLabsAPIKey,
		Stability:       c.VoiceStability,
		Similarity:      c.VoiceSimilarity,
		PlaybackSpeed:   c.PlaybackSpeed,
		ChunkSchedule:   c.ChunkLengthSchedule,
		StreamChunkSize: c.StreamChunkSize,
	}
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
