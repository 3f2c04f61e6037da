// Package playertest provides a recording player.Engine for tests.
package playertest

import (
	"context"
	"os"
	"sync"
)

// Call records one Play invocation. Contents is the buffer as the player saw it on exit.
type Call struct {
	Path     string
	Speed    float64
	Contents []byte
	Existed  bool
}

// Player records calls. If Until is set, Play blocks until it is closed or ctx is done.
type Player struct {
	Until <-chan struct{}
	Err   error

	mu        sync.Mutex
	calls     []Call
	started   chan struct{}
	startOnce sync.Once
}

// New returns a player that exits as soon as it has read the buffer
func New() *Player {
	return &Player{started: make(chan struct{})}
}

func (p *Player) Play(ctx context.Context, path string, speed float64) error {
	p.mu.Lock()
	idx := len(p.calls)
	p.calls = append(p.calls, Call{Path: path, Speed: speed})
	p.mu.Unlock()
	p.startOnce.Do(func() { close(p.started) })

	if p.Until != nil {
		select {
		case <-p.Until:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	data, err := os.ReadFile(path)
	p.mu.Lock()
	p.calls[idx].Contents = data
	p.calls[idx].Existed = err == nil
	p.mu.Unlock()

	return p.Err
}

// Started is closed on the first Play call
func (p *Player) Started() <-chan struct{} {
	return p.started
}

// Calls returns a snapshot of recorded calls
func (p *Player) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
