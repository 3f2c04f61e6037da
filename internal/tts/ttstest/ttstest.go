// Package ttstest provides in-memory synthesis sessions for tests.
package ttstest

import (
	"context"
	"errors"
	"sync"

	"github.com/lexiqai/speech-player/internal/tts"
)

// ErrClosed is returned by Receive after Close
var ErrClosed = errors.New("ttstest: session closed")

// Session is a scripted tts.Session. Frames queued with Push are delivered in order.
type Session struct {
	frames    chan tts.Frame
	failures  chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sent    []interface{}
	sendErr error
}

// NewSession returns a session preloaded with frames
func NewSession(frames ...tts.Frame) *Session {
	s := &Session{
		frames:   make(chan tts.Frame, len(frames)+16),
		failures: make(chan error, 1),
		closed:   make(chan struct{}),
	}
	for _, f := range frames {
		s.frames <- f
	}
	return s
}

// Push queues another frame
func (s *Session) Push(f tts.Frame) {
	s.frames <- f
}

// Fail makes the next Receive without a queued frame return err
func (s *Session) Fail(err error) {
	s.failures <- err
}

// FailSends makes every Send return err
func (s *Session) FailSends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *Session) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, v)
	return nil
}

func (s *Session) Receive() (tts.Frame, error) {
	// Queued frames win over failures and close
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}

	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.failures:
		return tts.Frame{}, err
	case <-s.closed:
		return tts.Frame{}, ErrClosed
	}
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Closed is closed once Close has been called
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// IsClosed reports whether Close has been called
func (s *Session) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Sent returns the messages accepted by Send
func (s *Session) Sent() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interface{}(nil), s.sent...)
}

// Dialer hands out Sessions in order. With Block set, Dial waits for ctx.
type Dialer struct {
	Sessions []*Session
	Err      error
	Block    bool

	mu             sync.Mutex
	calls          int
	lastVoiceID    string
	lastCredential string
}

// NewDialer returns a dialer that serves the given sessions
func NewDialer(sessions ...*Session) *Dialer {
	return &Dialer{Sessions: sessions}
}

func (d *Dialer) Dial(ctx context.Context, voiceID, credential string) (tts.Session, error) {
	d.mu.Lock()
	idx := d.calls
	d.calls++
	d.lastVoiceID = voiceID
	d.lastCredential = credential
	d.mu.Unlock()

	if d.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.Err != nil {
		return nil, d.Err
	}
	if idx >= len(d.Sessions) {
		return nil, errors.New("ttstest: no session left to dial")
	}
	return d.Sessions[idx], nil
}

// Calls returns the number of Dial calls
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Last returns the voice ID and credential of the most recent Dial
func (d *Dialer) Last() (voiceID, credential string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastVoiceID, d.lastCredential
}
