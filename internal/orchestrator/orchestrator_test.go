package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/speech-player/internal/player/playertest"
	"github.com/lexiqai/speech-player/internal/resilience"
	"github.com/lexiqai/speech-player/internal/session"
	"github.com/lexiqai/speech-player/internal/streamerr"
	"github.com/lexiqai/speech-player/internal/tts"
	"github.com/lexiqai/speech-player/internal/tts/ttstest"
)

var (
	frameA     = tts.Frame{Audio: "QQ=="}
	frameB     = tts.Frame{Audio: "Qg==", IsFinal: true}
	frameAuth  = tts.Frame{Error: tts.ErrorInvalidAPIKey, Message: "Invalid API key"}
	finalEmpty = tts.Frame{IsFinal: true}
)

func testConfig(t *testing.T) session.Config {
	t.Helper()
	cfg, err := session.New(session.Request{
		Text:          "Hello",
		VoiceID:       "voice-1",
		Credential:    "secret",
		PlaybackSpeed: "1.5",
	})
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	return cfg
}

func testOptions(t *testing.T, dialer tts.Dialer, p *playertest.Player) Options {
	return Options{
		Dialer:      dialer,
		Player:      p,
		TempDir:     t.TempDir(),
		OpenTimeout: time.Second,
		IdleTimeout: 2 * time.Second,
	}
}

func assertRemoved(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected buffer %s to be removed, stat err: %v", path, err)
	}
}

func TestStreamAndPlay_Success(t *testing.T) {
	sess := ttstest.NewSession(tts.Frame{Message: "ack"}, frameA, frameB)
	dialer := ttstest.NewDialer(sess)
	p := playertest.New()
	p.Until = sess.Closed()

	o := New(testConfig(t), testOptions(t, dialer, p))
	if err := o.StreamAndPlay(context.Background()); err != nil {
		t.Fatalf("StreamAndPlay failed: %v", err)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 player launch, got %d", len(calls))
	}
	if calls[0].Path != o.BufferPath() {
		t.Errorf("Expected player path %s, got %s", o.BufferPath(), calls[0].Path)
	}
	if string(calls[0].Contents) != "AB" {
		t.Errorf("Expected buffer contents AB, got %q", calls[0].Contents)
	}
	if calls[0].Speed != 1.5 {
		t.Errorf("Expected speed 1.5, got %v", calls[0].Speed)
	}

	if o.FramesReceived() != 3 {
		t.Errorf("Expected 3 frames, got %d", o.FramesReceived())
	}
	if !o.IsPlaying() {
		t.Error("Expected playback to have started")
	}
	if o.State() != StateTerminated || o.Outcome() != StateComplete {
		t.Errorf("Expected terminated/complete, got %s/%s", o.State(), o.Outcome())
	}
	if !sess.IsClosed() {
		t.Error("Expected session to be closed")
	}
	assertRemoved(t, o.BufferPath())

	voiceID, credential := dialer.Last()
	if voiceID != "voice-1" || credential != "secret" {
		t.Errorf("Unexpected dial arguments %q %q", voiceID, credential)
	}
}

func TestStreamAndPlay_OutboundOrder(t *testing.T) {
	sess := ttstest.NewSession(frameA, frameB)
	p := playertest.New()
	p.Until = sess.Closed()

	o := New(testConfig(t), testOptions(t, ttstest.NewDialer(sess), p))
	if err := o.StreamAndPlay(context.Background()); err != nil {
		t.Fatalf("StreamAndPlay failed: %v", err)
	}

	sent := sess.Sent()
	if len(sent) != 3 {
		t.Fatalf("Expected 3 outbound messages, got %d", len(sent))
	}
	cfg, ok := sent[0].(tts.ConfigMessage)
	if !ok {
		t.Fatalf("Expected config message first, got %T", sent[0])
	}
	if cfg.Text != "Hello" || cfg.VoiceSettings.Stability != 0.5 || cfg.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("Unexpected config message %+v", cfg)
	}
	if cfg.GenerationConfig.StreamChunkSize != session.DefaultStreamChunkSize {
		t.Errorf("Unexpected stream chunk size %d", cfg.GenerationConfig.StreamChunkSize)
	}
	if m, _ := sent[1].(tts.MarkerMessage); m.Type != tts.MarkerBeginOfStream {
		t.Errorf("Expected bos second, got %+v", sent[1])
	}
	if m, _ := sent[2].(tts.MarkerMessage); m.Type != tts.MarkerEndOfStream {
		t.Errorf("Expected eos third, got %+v", sent[2])
	}
}

func TestStreamAndPlay_Failures(t *testing.T) {
	tests := []struct {
		name     string
		frames   []tts.Frame
		fail     error
		sendErr  error
		kind     streamerr.Kind
		contains string
		played   bool
	}{
		{
			name:     "invalid api key",
			frames:   []tts.Frame{frameAuth},
			kind:     streamerr.KindAuthentication,
			contains: "invalid_api_key",
		},
		{
			name:     "invalid api key after audio",
			frames:   []tts.Frame{frameA, frameAuth},
			kind:     streamerr.KindAuthentication,
			contains: "invalid_api_key",
			played:   true,
		},
		{
			name:     "backend error frame",
			frames:   []tts.Frame{{Error: "quota_exceeded", Message: "Out of credits"}},
			kind:     streamerr.KindTransport,
			contains: "quota_exceeded: Out of credits",
		},
		{
			name:     "closed before final frame",
			frames:   []tts.Frame{frameA},
			fail:     errors.New("connection reset by peer"),
			kind:     streamerr.KindTransport,
			contains: "connection reset",
			played:   true,
		},
		{
			name:     "final frame without audio",
			frames:   []tts.Frame{finalEmpty},
			kind:     streamerr.KindTransport,
			contains: "without audio",
		},
		{
			name:     "malformed audio",
			frames:   []tts.Frame{{Audio: "!!not base64!!"}},
			kind:     streamerr.KindTransport,
			contains: "malformed audio",
		},
		{
			name:     "send failure",
			sendErr:  errors.New("broken pipe"),
			kind:     streamerr.KindTransport,
			contains: "broken pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := ttstest.NewSession(tt.frames...)
			if tt.fail != nil {
				sess.Fail(tt.fail)
			}
			if tt.sendErr != nil {
				sess.FailSends(tt.sendErr)
			}
			p := playertest.New()
			p.Until = make(chan struct{})

			o := New(testConfig(t), testOptions(t, ttstest.NewDialer(sess), p))
			err := o.StreamAndPlay(context.Background())

			if !streamerr.Is(err, tt.kind) {
				t.Fatalf("Expected %s error, got %v", tt.kind, err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("Expected %q in %q", tt.contains, err.Error())
			}
			if got := len(p.Calls()) > 0; got != tt.played {
				t.Errorf("Expected played=%v, got %v", tt.played, got)
			}
			if o.Outcome() != StateFailed || o.State() != StateTerminated {
				t.Errorf("Expected terminated/failed, got %s/%s", o.State(), o.Outcome())
			}
			if !sess.IsClosed() {
				t.Error("Expected session to be closed")
			}
			assertRemoved(t, o.BufferPath())
		})
	}
}

func TestStreamAndPlay_PlayerExitFailure(t *testing.T) {
	sess := ttstest.NewSession(frameA, frameB)
	p := playertest.New()
	p.Until = sess.Closed()
	p.Err = &streamerr.Error{Kind: streamerr.KindPlayback, Op: "play", Detail: "afplay exited with code 1", ExitCode: 1}

	o := New(testConfig(t), testOptions(t, ttstest.NewDialer(sess), p))
	err := o.StreamAndPlay(context.Background())

	var se *streamerr.Error
	if !errors.As(err, &se) || se.Kind != streamerr.KindPlayback || se.ExitCode != 1 {
		t.Fatalf("Expected playback error with exit code 1, got %v", err)
	}
	assertRemoved(t, o.BufferPath())
}

func TestStreamAndPlay_UnclassifiedPlayerError(t *testing.T) {
	sess := ttstest.NewSession(frameA, frameB)
	p := playertest.New()
	p.Until = sess.Closed()
	p.Err = errors.New("audio device busy")

	o := New(testConfig(t), testOptions(t, ttstest.NewDialer(sess), p))
	err := o.StreamAndPlay(context.Background())
	if !streamerr.Is(err, streamerr.KindPlayback) {
		t.Fatalf("Expected playback error, got %v", err)
	}
}

func TestStreamAndPlay_PlayerExitsBeforeFinalFrame(t *testing.T) {
	sess := ttstest.NewSession(frameA)
	p := playertest.New()

	o := New(testConfig(t), testOptions(t, ttstest.NewDialer(sess), p))
	done := make(chan error, 1)
	go func() { done <- o.StreamAndPlay(context.Background()) }()

	<-p.Started()
	// Give the clean exit a chance to be observed before the final frame
	time.Sleep(20 * time.Millisecond)
	sess.Push(frameB)

	if err := <-done; err != nil {
		t.Fatalf("Expected success after early clean exit, got %v", err)
	}
	if len(p.Calls()) != 1 {
		t.Errorf("Expected a single player launch, got %d", len(p.Calls()))
	}
	assertRemoved(t, o.BufferPath())
}

func TestStreamAndPlay_IdleTimeout(t *testing.T) {
	sess := ttstest.NewSession()
	opts := testOptions(t, ttstest.NewDialer(sess), playertest.New())
	opts.IdleTimeout = 50 * time.Millisecond

	o := New(testConfig(t), opts)
	err := o.StreamAndPlay(context.Background())
	if !streamerr.Is(err, streamerr.KindTimeout) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if !sess.IsClosed() {
		t.Error("Expected session to be closed")
	}
}

func TestStreamAndPlay_OpenTimeout(t *testing.T) {
	dialer := &ttstest.Dialer{Block: true}
	opts := testOptions(t, dialer, playertest.New())
	opts.OpenTimeout = 50 * time.Millisecond

	o := New(testConfig(t), opts)
	err := o.StreamAndPlay(context.Background())
	if !streamerr.Is(err, streamerr.KindTimeout) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if !strings.Contains(err.Error(), "within") {
		t.Errorf("Expected open timeout detail, got %q", err.Error())
	}
	if o.Outcome() != StateFailed {
		t.Errorf("Expected failed outcome, got %s", o.Outcome())
	}
}

func TestStreamAndPlay_Cancel(t *testing.T) {
	sess := ttstest.NewSession(frameA)
	p := playertest.New()
	p.Until = make(chan struct{})

	o := New(testConfig(t), testOptions(t, ttstest.NewDialer(sess), p))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.StreamAndPlay(ctx) }()

	<-p.Started()
	cancel()

	select {
	case err := <-done:
		if !streamerr.Is(err, streamerr.KindCancelled) {
			t.Fatalf("Expected cancelled error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("StreamAndPlay did not return after cancel")
	}

	if o.Outcome() != StateCancelled {
		t.Errorf("Expected cancelled outcome, got %s", o.Outcome())
	}
	if !sess.IsClosed() {
		t.Error("Expected session to be closed")
	}
	assertRemoved(t, o.BufferPath())
}

func TestStreamAndPlay_CircuitBreaker(t *testing.T) {
	dialer := &ttstest.Dialer{Err: errors.New("dial tcp: connection refused")}
	opts := testOptions(t, dialer, playertest.New())
	opts.Breaker = resilience.NewCircuitBreaker("test-tts", 1, time.Minute)

	first := New(testConfig(t), opts).StreamAndPlay(context.Background())
	if !streamerr.Is(first, streamerr.KindTransport) {
		t.Fatalf("Expected transport error, got %v", first)
	}

	second := New(testConfig(t), opts).StreamAndPlay(context.Background())
	if !errors.Is(second, resilience.ErrCircuitOpen) || !streamerr.Is(second, streamerr.KindTransport) {
		t.Fatalf("Expected circuit open transport error, got %v", second)
	}
	if dialer.Calls() != 1 {
		t.Errorf("Expected 1 dial while the circuit is open, got %d", dialer.Calls())
	}
}

func TestStreamAndPlay_CalledTwice(t *testing.T) {
	sess := ttstest.NewSession(frameA, frameB)
	p := playertest.New()
	p.Until = sess.Closed()

	o := New(testConfig(t), testOptions(t, ttstest.NewDialer(sess), p))
	if err := o.StreamAndPlay(context.Background()); err != nil {
		t.Fatalf("StreamAndPlay failed: %v", err)
	}
	if err := o.StreamAndPlay(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}

func TestStreamAndPlay_ConcurrentSessionsKeepSeparateBuffers(t *testing.T) {
	dir := t.TempDir()

	sessB := ttstest.NewSession(frameA)
	playerB := playertest.New()
	playerB.Until = sessB.Closed()
	optsB := testOptions(t, ttstest.NewDialer(sessB), playerB)
	optsB.TempDir = dir
	b := New(testConfig(t), optsB)

	doneB := make(chan error, 1)
	go func() { doneB <- b.StreamAndPlay(context.Background()) }()
	<-playerB.Started()

	sessA := ttstest.NewSession(frameA, frameB)
	playerA := playertest.New()
	playerA.Until = sessA.Closed()
	optsA := testOptions(t, ttstest.NewDialer(sessA), playerA)
	optsA.TempDir = dir
	a := New(testConfig(t), optsA)

	if a.BufferPath() == b.BufferPath() {
		t.Fatal("Expected distinct buffer paths")
	}
	if err := a.StreamAndPlay(context.Background()); err != nil {
		t.Fatalf("Session A failed: %v", err)
	}
	assertRemoved(t, a.BufferPath())

	if _, err := os.Stat(b.BufferPath()); err != nil {
		t.Fatalf("Session A cleanup touched session B buffer: %v", err)
	}

	sessB.Push(frameB)
	if err := <-doneB; err != nil {
		t.Fatalf("Session B failed: %v", err)
	}
	if got := string(playerB.Calls()[0].Contents); got != "AB" {
		t.Errorf("Expected session B contents AB, got %q", got)
	}
	assertRemoved(t, b.BufferPath())
}

func TestStreamAndPlay_ElevenLabsBackend(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	received := make(chan string, 3)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 3; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"audio":"QQ==","isFinal":false}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"audio":"Qg==","isFinal":true}`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	dialer := tts.NewElevenLabsDialer("ws"+strings.TrimPrefix(srv.URL, "http"), "eleven_multilingual_v2", "mp3_44100_128")
	p := playertest.New()

	o := New(testConfig(t), testOptions(t, dialer, p))
	if err := o.StreamAndPlay(context.Background()); err != nil {
		t.Fatalf("StreamAndPlay failed: %v", err)
	}

	if first := <-received; !strings.Contains(first, `"text":"Hello"`) {
		t.Errorf("Expected config message first, got %s", first)
	}
	if len(p.Calls()) != 1 {
		t.Errorf("Expected 1 player launch, got %d", len(p.Calls()))
	}
	if o.FramesReceived() != 2 {
		t.Errorf("Expected 2 frames, got %d", o.FramesReceived())
	}
	assertRemoved(t, o.BufferPath())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		allowed  bool
	}{
		{StateIdle, StateConnecting, true},
		{StateConnecting, StateStreaming, false},
		{StateStreaming, StateCompleting, true},
		{StateCompleting, StateFailed, true},
		{StateComplete, StateTerminated, true},
		{StateTerminated, StateIdle, false},
		{StateFailed, StateComplete, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}
