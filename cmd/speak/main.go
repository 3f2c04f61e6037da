// Command speak reads text aloud: it streams synthesized audio into a temp
// buffer and plays it while the rest is still arriving.
//
// Usage:
//
//	speak "text to read"
//	pbpaste | speak --speed 1.25
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexiqai/speech-player/internal/config"
	"github.com/lexiqai/speech-player/internal/observability"
	"github.com/lexiqai/speech-player/internal/orchestrator"
	"github.com/lexiqai/speech-player/internal/player"
	"github.com/lexiqai/speech-player/internal/session"
	"github.com/lexiqai/speech-player/internal/speaker"
	"github.com/lexiqai/speech-player/internal/streamerr"
	"github.com/lexiqai/speech-player/internal/tts"
)

const exitInterrupted = 130

// overrides are per-invocation knobs; empty values keep the configured defaults
type overrides struct {
	voiceID    string
	speed      string
	stability  string
	similarity string
}

func (o overrides) apply(req session.Request) session.Request {
	if o.voiceID != "" {
		req.VoiceID = o.voiceID
	}
	if o.speed != "" {
		req.PlaybackSpeed = o.speed
	}
	if o.stability != "" {
		req.Stability = o.stability
	}
	if o.similarity != "" {
		req.Similarity = o.similarity
	}
	return req
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdin).ExecuteContext(ctx)
	stop()

	switch {
	case err == nil:
	case streamerr.Is(err, streamerr.KindCancelled):
		os.Exit(exitInterrupted)
	default:
		fmt.Fprintln(os.Stderr, streamerr.UserMessage(err))
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	var opts overrides

	cmd := &cobra.Command{
		Use:   "speak [text...]",
		Short: "Read text aloud through ElevenLabs streaming synthesis",
		Long: `Speak streams synthesized speech for the given text and starts playback
as soon as the first audio arrives.

Text is taken from the arguments, or from stdin when no arguments are given.
Configuration comes from the environment (and .env); flags override it for
this invocation only.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args, stdin)
			if err != nil {
				return streamerr.New(streamerr.KindInput, "read", err).WithDetail("could not read text from stdin")
			}
			return runSpeak(cmd.Context(), text, opts)
		},
	}

	cmd.Flags().StringVar(&opts.voiceID, "voice", "", "voice ID (default ELEVENLABS_VOICE_ID)")
	cmd.Flags().StringVar(&opts.speed, "speed", "", "playback speed 0.5-2.0 (default PLAYBACK_SPEED)")
	cmd.Flags().StringVar(&opts.stability, "stability", "", "voice stability 0-1 (default VOICE_STABILITY)")
	cmd.Flags().StringVar(&opts.similarity, "similarity", "", "voice similarity boost 0-1 (default VOICE_SIMILARITY)")
	return cmd
}

func runSpeak(ctx context.Context, text string, opts overrides) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	sessionCfg, err := session.New(opts.apply(cfg.Request(text)))
	if err != nil {
		return err
	}

	engine, err := player.NewExecEngine(cfg.PlayerCommand, cfg.PlayerSpeedFlag)
	if err != nil {
		return fmt.Errorf("invalid PLAYER_COMMAND: %w", err)
	}

	manager := speaker.NewManager(orchestrator.Options{
		Dialer:      tts.NewElevenLabsDialer(cfg.ElevenLabsBaseURL, cfg.ElevenLabsModelID, cfg.ElevenLabsOutputFormat),
		Player:      engine,
		TempDir:     cfg.AudioTempDir,
		OpenTimeout: cfg.OpenTimeout(),
		IdleTimeout: cfg.IdleTimeout(),
	})

	// Ctrl-C cancels ctx, which stops playback and still removes the temp buffer
	err = manager.Speak(ctx, sessionCfg)
	if errors.Is(err, context.Canceled) || streamerr.Is(err, streamerr.KindCancelled) {
		logger.Debug().Msg("Playback interrupted")
	}
	return err
}

// readText joins args, or reads stdin when no args are given
func readText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
