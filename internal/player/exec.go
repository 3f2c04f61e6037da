package player

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-player/internal/observability"
	"github.com/lexiqai/speech-player/internal/settings"
	"github.com/lexiqai/speech-player/internal/streamerr"
)

// Engine plays an audio file at a given speed factor
type Engine interface {
	// Play blocks until playback finishes. Cancelling ctx stops the player.
	Play(ctx context.Context, path string, speed float64) error
}

// ExecEngine plays audio through an external player process, one process per call.
// The player is invoked as: <command...> <speedFlag> <speed> <path>
type ExecEngine struct {
	cmd       []string
	speedFlag string
	logger    zerolog.Logger
}

// NewExecEngine parses command with shell-word rules so it may carry fixed arguments
func NewExecEngine(command, speedFlag string) (*ExecEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command empty")
	}
	return &ExecEngine{
		cmd:       args,
		speedFlag: speedFlag,
		logger:    observability.GetLogger().With().Str("component", "player").Logger(),
	}, nil
}

// Executable returns the player binary name
func (e *ExecEngine) Executable() string {
	return e.cmd[0]
}

// LookPath resolves the player binary on PATH
func (e *ExecEngine) LookPath() (string, error) {
	return exec.LookPath(e.cmd[0])
}

// Args returns the full argument list used to play path at speed
func (e *ExecEngine) Args(path string, speed float64) []string {
	args := append([]string{}, e.cmd[1:]...)
	if e.speedFlag != "" {
		args = append(args, e.speedFlag, settings.FormatSpeed(speed))
	}
	return append(args, path)
}

// Play runs the player and waits for it to exit. No retries are attempted.
func (e *ExecEngine) Play(ctx context.Context, path string, speed float64) error {
	cmd := exec.CommandContext(ctx, e.cmd[0], e.Args(path, speed)...)

	if err := cmd.Start(); err != nil {
		perr := streamerr.New(streamerr.KindPlayback, "play", err).
			WithDetail(fmt.Sprintf("could not launch %s: %v", e.cmd[0], err))
		perr.Spawn = true
		return perr
	}

	e.logger.Debug().
		Int("pid", cmd.Process.Pid).
		Str("path", path).
		Str("speed", settings.FormatSpeed(speed)).
		Msg("Player started")

	err := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return streamerr.New(streamerr.KindCancelled, "play", ctxErr).WithDetail("player stopped")
	}
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		perr := streamerr.New(streamerr.KindPlayback, "play", err).
			WithDetail(fmt.Sprintf("%s exited with code %d", e.cmd[0], exitErr.ExitCode()))
		perr.ExitCode = exitErr.ExitCode()
		return perr
	}
	return streamerr.New(streamerr.KindPlayback, "play", err)
}
