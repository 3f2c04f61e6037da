package speaker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-player/internal/observability"
	"github.com/lexiqai/speech-player/internal/orchestrator"
	"github.com/lexiqai/speech-player/internal/session"
)

// Playback is a handle to one running session
type Playback struct {
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ID returns the session correlation ID
func (p *Playback) ID() string { return p.orch.ID() }

// State returns the session's current lifecycle state
func (p *Playback) State() orchestrator.State { return p.orch.State() }

// FramesReceived returns the number of frames processed so far
func (p *Playback) FramesReceived() int { return p.orch.FramesReceived() }

// Done is closed once the session has been cleaned up
func (p *Playback) Done() <-chan struct{} { return p.done }

// Stop cancels the session without waiting
func (p *Playback) Stop() { p.cancel() }

// Wait blocks until the session ends and returns its result
func (p *Playback) Wait() error {
	<-p.done
	return p.err
}

// Manager keeps at most one playback active. Starting a new one stops the
// current one first and waits for its cleanup.
type Manager struct {
	opts   orchestrator.Options
	logger zerolog.Logger

	startMu sync.Mutex // Serializes Start, Toggle and Stop

	mu      sync.Mutex
	current *Playback
}

// NewManager creates a manager that builds orchestrators from opts
func NewManager(opts orchestrator.Options) *Manager {
	return &Manager{
		opts:   opts,
		logger: observability.GetLogger().With().Str("component", "speaker").Logger(),
	}
}

// Start preempts any active playback and launches a new one for cfg
func (m *Manager) Start(ctx context.Context, cfg session.Config) *Playback {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.stopAndWait() {
		m.logger.Info().Msg("Preempted active playback")
	}
	return m.launch(ctx, cfg)
}

// Speak plays cfg to completion, preempting any active playback
func (m *Manager) Speak(ctx context.Context, cfg session.Config) error {
	return m.Start(ctx, cfg).Wait()
}

// Toggle stops the active playback if there is one, otherwise starts cfg.
// It returns the new playback, or nil and true when it stopped one.
func (m *Manager) Toggle(ctx context.Context, cfg session.Config) (*Playback, bool) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.stopAndWait() {
		m.logger.Info().Msg("Playback toggled off")
		return nil, true
	}
	return m.launch(ctx, cfg), false
}

// Stop cancels the active playback and waits for its cleanup.
// It reports whether a playback was active.
func (m *Manager) Stop() bool {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.stopAndWait()
}

// Current returns the active playback, or nil
func (m *Manager) Current() *Playback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Active reports whether a playback is running
func (m *Manager) Active() bool {
	return m.Current() != nil
}

func (m *Manager) stopAndWait() bool {
	cur := m.Current()
	if cur == nil {
		return false
	}
	cur.cancel()
	<-cur.done
	return true
}

func (m *Manager) launch(ctx context.Context, cfg session.Config) *Playback {
	runCtx, cancel := context.WithCancel(ctx)
	p := &Playback{
		orch:   orchestrator.New(cfg, m.opts),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.current = p
	m.mu.Unlock()

	go func() {
		p.err = p.orch.StreamAndPlay(runCtx)
		cancel()

		m.mu.Lock()
		if m.current == p {
			m.current = nil
		}
		m.mu.Unlock()
		close(p.done)
	}()

	return p
}
