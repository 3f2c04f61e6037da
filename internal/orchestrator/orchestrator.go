package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-player/internal/audio"
	"github.com/lexiqai/speech-player/internal/observability"
	"github.com/lexiqai/speech-player/internal/player"
	"github.com/lexiqai/speech-player/internal/resilience"
	"github.com/lexiqai/speech-player/internal/session"
	"github.com/lexiqai/speech-player/internal/settings"
	"github.com/lexiqai/speech-player/internal/streamerr"
	"github.com/lexiqai/speech-player/internal/tts"
)

// playerStopTimeout bounds how long cleanup waits for a cancelled player to exit
const playerStopTimeout = 2 * time.Second

// ErrAlreadyStarted is returned when StreamAndPlay is called twice on one orchestrator
var ErrAlreadyStarted = errors.New("orchestrator: session already started")

// Options holds the collaborators shared by every session
type Options struct {
	Dialer  tts.Dialer
	Player  player.Engine
	Breaker *resilience.CircuitBreaker // Optional; guards session open

	TempDir string // Empty uses the OS temp dir
	FileExt string // Temp buffer extension, defaults to mp3

	OpenTimeout time.Duration // 0 disables
	IdleTimeout time.Duration // 0 disables

	Logger *zerolog.Logger // Optional; defaults to a correlation logger
}

// Orchestrator runs exactly one streaming playback session: it opens the
// synthesis session, appends audio frames to a temp buffer, starts the player
// on the first frame and tears everything down exactly once.
type Orchestrator struct {
	id      string
	cfg     session.Config
	opts    Options
	logger  zerolog.Logger
	metrics *observability.Metrics
	buffer  *audio.TempBuffer

	mu             sync.RWMutex
	state          State
	outcome        State
	started        bool
	isPlaying      bool
	framesReceived int

	// Owned by the StreamAndPlay goroutine
	sess       tts.Session
	sessClosed bool
	playDone   chan error
	played     bool
}

type inbound struct {
	frame tts.Frame
	err   error
}

// New creates an orchestrator for a single session
func New(cfg session.Config, opts Options) *Orchestrator {
	id := observability.NewCorrelationID()

	logger := observability.WithCorrelationID(id)
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("session_id", id).Logger()
	}

	return &Orchestrator{
		id:      id,
		cfg:     cfg,
		opts:    opts,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		metrics: observability.NewSessionMetrics(id),
		buffer:  audio.NewTempBuffer(opts.TempDir, opts.FileExt),
		state:   StateIdle,
	}
}

// ID returns the session correlation ID
func (o *Orchestrator) ID() string { return o.id }

// BufferPath returns the temp buffer path reserved for this session
func (o *Orchestrator) BufferPath() string { return o.buffer.Path() }

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Outcome returns Complete, Failed or Cancelled once the session has ended, else Idle
func (o *Orchestrator) Outcome() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.outcome
}

// IsPlaying reports whether playback has been launched
func (o *Orchestrator) IsPlaying() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isPlaying
}

// FramesReceived returns the number of inbound frames processed
func (o *Orchestrator) FramesReceived() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.framesReceived
}

// StreamAndPlay runs the session to completion. It returns nil once playback
// has finished and all resources are released, or a *streamerr.Error.
// Cancelling ctx stops the player and ends the session as cancelled.
func (o *Orchestrator) StreamAndPlay(ctx context.Context) (err error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		// Cancelling first stops the player and unblocks the frame reader
		cancel()
		if r := recover(); r != nil {
			o.finalize(streamerr.Newf(streamerr.KindUnknown, "stream", "panic: %v", r))
			panic(r)
		}
		err = o.finalize(err)
	}()

	o.metrics.RecordSessionStart()
	o.logger.Info().Object("session", o.cfg).Str("buffer", o.buffer.Path()).Msg("Streaming session starting")

	return o.run(ctx)
}

func (o *Orchestrator) run(ctx context.Context) error {
	o.transition(StateConnecting)
	sess, err := o.open(ctx)
	if err != nil {
		return err
	}
	o.sess = sess

	// Start reading before anything is sent so no early frame or error is missed
	frames := o.receive(ctx, sess)

	o.transition(StateConfigured)
	if err := o.configure(); err != nil {
		return err
	}

	o.transition(StateStreaming)
	if err := o.stream(ctx, frames); err != nil {
		return err
	}

	o.transition(StateCompleting)
	return o.complete(ctx)
}

// open dials the synthesis session under the open timeout and circuit breaker
func (o *Orchestrator) open(ctx context.Context) (tts.Session, error) {
	dialCtx := ctx
	if o.opts.OpenTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, o.opts.OpenTimeout)
		defer cancel()
	}

	var sess tts.Session
	dial := func() error {
		s, err := o.opts.Dialer.Dial(dialCtx, o.cfg.VoiceID(), o.cfg.Credential())
		if err != nil {
			return err
		}
		sess = s
		return nil
	}

	var err error
	if o.opts.Breaker != nil {
		err = o.opts.Breaker.Call(dial, countsAgainstBackend)
	} else {
		err = dial()
	}

	switch {
	case err == nil:
		o.logger.Debug().Msg("Synthesis session open")
		return sess, nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		return nil, streamerr.New(streamerr.KindTransport, "dial", err).
			WithDetail("synthesis service unavailable after repeated failures, try again later")
	case ctx.Err() != nil:
		return nil, o.contextError(ctx, "dial")
	case errors.Is(dialCtx.Err(), context.DeadlineExceeded):
		return nil, streamerr.New(streamerr.KindTimeout, "dial", err).
			WithDetail(fmt.Sprintf("could not open synthesis session within %s", o.opts.OpenTimeout))
	default:
		return nil, tts.Classify("dial", err)
	}
}

// countsAgainstBackend keeps caller cancellations and credential problems
// from tripping the circuit breaker
func countsAgainstBackend(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	kind := streamerr.KindOf(err)
	return kind != streamerr.KindCancelled && kind != streamerr.KindAuthentication
}

// receive forwards frames one at a time, preserving transport order
func (o *Orchestrator) receive(ctx context.Context, sess tts.Session) <-chan inbound {
	ch := make(chan inbound)
	go func() {
		for {
			frame, err := sess.Receive()
			select {
			case ch <- inbound{frame: frame, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// configure sends the session configuration, then the begin and end markers.
// The end marker means no more text follows; audio keeps arriving after it.
func (o *Orchestrator) configure() error {
	vs := o.cfg.VoiceSettings()
	msgs := []interface{}{
		tts.ConfigMessage{
			Text: o.cfg.Text(),
			VoiceSettings: tts.VoiceSettings{
				Stability:       vs.Stability,
				SimilarityBoost: vs.Similarity,
			},
			GenerationConfig: tts.GenerationConfig{
				ChunkLengthSchedule: o.cfg.ChunkSchedule(),
				StreamChunkSize:     o.cfg.StreamChunkSize(),
			},
		},
		tts.MarkerMessage{Type: tts.MarkerBeginOfStream},
		tts.MarkerMessage{Type: tts.MarkerEndOfStream},
	}

	for _, msg := range msgs {
		if err := o.sess.Send(msg); err != nil {
			return tts.Classify("send", err)
		}
	}
	return nil
}

// stream processes frames until the final-frame marker or the first error
func (o *Orchestrator) stream(ctx context.Context, frames <-chan inbound) error {
	var idle <-chan time.Time
	var timer *time.Timer
	if o.opts.IdleTimeout > 0 {
		timer = time.NewTimer(o.opts.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return o.contextError(ctx, "read")

		case <-idle:
			return streamerr.Newf(streamerr.KindTimeout, "read", "no frames received for %s", o.opts.IdleTimeout)

		case perr := <-o.playDone:
			// Player exited before the final frame
			o.playDone = nil
			o.played = true
			if err := o.playbackError(ctx, perr); err != nil {
				return err
			}
			o.logger.Debug().Msg("Player finished before the final frame")

		case in := <-frames:
			if in.err != nil {
				if ctx.Err() != nil {
					return o.contextError(ctx, "read")
				}
				return tts.Classify("read", in.err)
			}
			if timer != nil {
				resetTimer(timer, o.opts.IdleTimeout)
			}

			final, err := o.handleFrame(ctx, in.frame)
			if err != nil {
				return err
			}
			if final {
				return nil
			}
		}
	}
}

// handleFrame applies one inbound frame and reports whether it was final
func (o *Orchestrator) handleFrame(ctx context.Context, frame tts.Frame) (bool, error) {
	o.mu.Lock()
	o.framesReceived++
	o.mu.Unlock()

	if frame.Error != "" {
		detail := frame.Error
		if frame.Message != "" {
			detail += ": " + frame.Message
		}
		kind := streamerr.KindTransport
		if frame.Error == tts.ErrorInvalidAPIKey {
			kind = streamerr.KindAuthentication
		}
		return false, streamerr.New(kind, "read", errors.New(frame.Error)).WithDetail(detail)
	}

	if !frame.HasAudio() {
		o.metrics.RecordFrame(0)
		return frame.IsFinal, nil
	}

	data, err := frame.DecodeAudio()
	if err != nil {
		return false, streamerr.New(streamerr.KindTransport, "read", err).WithDetail("malformed audio frame")
	}
	if _, err := o.buffer.Append(data); err != nil {
		return false, streamerr.New(streamerr.KindPlayback, "buffer", err)
	}
	o.metrics.RecordFrame(len(data))

	if !o.IsPlaying() {
		o.startPlayback(ctx)
	}
	return frame.IsFinal, nil
}

// startPlayback launches the player against the buffer that is still being written
func (o *Orchestrator) startPlayback(ctx context.Context) {
	done := make(chan error, 1)
	o.playDone = done

	path := o.buffer.Path()
	speed := o.cfg.PlaybackSpeed()
	go func() {
		done <- o.opts.Player.Play(ctx, path, speed)
	}()

	o.mu.Lock()
	o.isPlaying = true
	o.mu.Unlock()

	o.metrics.RecordFirstAudio()
	o.logger.Info().
		Str("speed", settings.FormatSpeed(speed)).
		Msg("First audio frame buffered, playback started")
}

// complete closes the session and waits for playback of the buffered audio
func (o *Orchestrator) complete(ctx context.Context) error {
	o.closeSession()

	if !o.IsPlaying() {
		return streamerr.Newf(streamerr.KindTransport, "read", "stream ended without audio")
	}
	if o.played {
		return nil
	}

	select {
	case perr := <-o.playDone:
		o.playDone = nil
		o.played = true
		return o.playbackError(ctx, perr)
	case <-ctx.Done():
		return o.contextError(ctx, "play")
	}
}

// finalize is the single cleanup path for every exit
func (o *Orchestrator) finalize(err error) error {
	outcome := StateComplete
	switch {
	case err == nil:
	case streamerr.Is(err, streamerr.KindCancelled):
		outcome = StateCancelled
	default:
		outcome = StateFailed
	}
	o.transition(outcome)

	o.closeSession()
	o.awaitPlayer()

	if rmErr := o.buffer.Remove(); rmErr != nil {
		cleanupErr := streamerr.New(streamerr.KindCleanup, "cleanup", rmErr)
		o.metrics.RecordError(streamerr.KindCleanup.String(), "buffer")
		o.logger.Warn().Err(cleanupErr).Str("buffer", o.buffer.Path()).Msg("Failed to remove temp buffer")
	}

	o.transition(StateTerminated)
	o.metrics.RecordSessionEnd(outcome.String())

	if err != nil {
		o.metrics.RecordError(streamerr.KindOf(err).String(), "orchestrator")
		o.logger.Warn().
			Err(err).
			Str("kind", streamerr.KindOf(err).String()).
			Int("frames", o.FramesReceived()).
			Msg("Streaming session ended with error")
		return err
	}

	o.logger.Info().Int("frames", o.FramesReceived()).Msg("Playback complete")
	return nil
}

func (o *Orchestrator) closeSession() {
	if o.sess == nil || o.sessClosed {
		return
	}
	o.sessClosed = true
	if err := o.sess.Close(); err != nil {
		o.logger.Debug().Err(err).Msg("Error closing synthesis session")
	}
}

// awaitPlayer waits briefly for a cancelled player so the buffer is not
// removed under a still-running process
func (o *Orchestrator) awaitPlayer() {
	if o.playDone == nil {
		return
	}
	select {
	case <-o.playDone:
	case <-time.After(playerStopTimeout):
		o.logger.Warn().Msg("Player did not exit after cancellation")
	}
	o.playDone = nil
}

func (o *Orchestrator) playbackError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return o.contextError(ctx, "play")
	}
	var classified *streamerr.Error
	if errors.As(err, &classified) {
		return err
	}
	return streamerr.New(streamerr.KindPlayback, "play", err)
}

func (o *Orchestrator) contextError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return streamerr.New(streamerr.KindTimeout, op, ctx.Err()).WithDetail("request deadline exceeded")
	}
	return streamerr.New(streamerr.KindCancelled, op, context.Canceled).WithDetail("request cancelled")
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !CanTransition(o.state, to) {
		o.logger.Error().Str("from", o.state.String()).Str("to", to.String()).Msg("Invalid state transition")
		return
	}
	o.logger.Debug().Str("from", o.state.String()).Str("to", to.String()).Msg("State transition")
	o.state = to
	if to.IsOutcome() {
		o.outcome = to
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
