package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lexiqai/speech-player/internal/config"
	"github.com/lexiqai/speech-player/internal/orchestrator"
	"github.com/lexiqai/speech-player/internal/player/playertest"
	"github.com/lexiqai/speech-player/internal/speaker"
	"github.com/lexiqai/speech-player/internal/tts"
	"github.com/lexiqai/speech-player/internal/tts/ttstest"
)

func newTestServer(t *testing.T, sessions ...*ttstest.Session) (*httptest.Server, *speaker.Manager, *playertest.Player) {
	t.Helper()
	p := playertest.New()
	p.Until = make(chan struct{})

	manager := speaker.NewManager(orchestrator.Options{
		Dialer:      ttstest.NewDialer(sessions...),
		Player:      p,
		TempDir:     t.TempDir(),
		IdleTimeout: 5 * time.Second,
	})
	cfg := &config.Config{
		ElevenLabsAPIKey:  "secret",
		ElevenLabsVoiceID: "voice-1",
		PlaybackSpeed:     "1.00",
	}

	mux := http.NewServeMux()
	NewHandler(context.Background(), cfg, manager).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		manager.Stop()
		srv.Close()
	})
	return srv, manager, p
}

func post(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp, out
}

func TestSpeakStatusStop(t *testing.T) {
	sess := ttstest.NewSession(tts.Frame{Audio: "QQ=="})
	srv, manager, p := newTestServer(t, sess)

	resp, body := post(t, srv.URL+"/speak", `{"text":"  Hello  "}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatal("Expected a session_id")
	}
	<-p.Started()

	statusResp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	var status PlaybackResponse
	json.NewDecoder(statusResp.Body).Decode(&status)
	statusResp.Body.Close()
	if !status.Active || status.SessionID != id {
		t.Errorf("Expected active session %s, got %+v", id, status)
	}

	resp, body = post(t, srv.URL+"/stop", "")
	if resp.StatusCode != http.StatusOK || body["stopped"] != true {
		t.Errorf("Expected stopped response, got %d %v", resp.StatusCode, body)
	}
	if manager.Active() {
		t.Error("Expected no active playback after /stop")
	}
	if !sess.IsClosed() {
		t.Error("Expected session closed after /stop")
	}
}

func TestSpeak_EmptyText(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []string{`{"text":""}`, `{"text":"   \n\t"}`, ``}
	for _, body := range tests {
		resp, out := post(t, srv.URL+"/speak", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
		if out["kind"] != "input" {
			t.Errorf("body %q: expected input kind, got %v", body, out["kind"])
		}
		if !strings.HasPrefix(out["error"].(string), "Nothing to read") {
			t.Errorf("body %q: unexpected message %v", body, out["error"])
		}
	}
}

func TestSpeak_InvalidJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, _ := post(t, srv.URL+"/speak", `{"text":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestToggle(t *testing.T) {
	sess := ttstest.NewSession(tts.Frame{Audio: "QQ=="})
	srv, manager, p := newTestServer(t, sess)

	resp, _ := post(t, srv.URL+"/toggle", `{"text":"Hello","playback_speed":"1.75"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	<-p.Started()
	if got := p.Calls()[0].Speed; got != 1.75 {
		t.Errorf("Expected speed override 1.75, got %v", got)
	}

	resp, body := post(t, srv.URL+"/toggle", "")
	if resp.StatusCode != http.StatusOK || body["stopped"] != true {
		t.Errorf("Expected toggle to stop, got %d %v", resp.StatusCode, body)
	}
	if manager.Active() {
		t.Error("Expected no active playback")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/speak")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Errorf("Expected Allow: POST, got %q", resp.Header.Get("Allow"))
	}
}
