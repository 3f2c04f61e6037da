package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-player/internal/config"
	"github.com/lexiqai/speech-player/internal/observability"
	"github.com/lexiqai/speech-player/internal/session"
	"github.com/lexiqai/speech-player/internal/speaker"
	"github.com/lexiqai/speech-player/internal/streamerr"
)

const maxBodyBytes = 1 << 20

// SpeakRequest is the JSON body of /speak and /toggle. Empty fields fall back
// to the configured defaults.
type SpeakRequest struct {
	Text          string `json:"text"`
	VoiceID       string `json:"voice_id,omitempty"`
	Stability     string `json:"stability,omitempty"`
	Similarity    string `json:"similarity,omitempty"`
	PlaybackSpeed string `json:"playback_speed,omitempty"`
}

// PlaybackResponse describes a started or active playback
type PlaybackResponse struct {
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state,omitempty"`
	Frames    int    `json:"frames_received"`
	Active    bool   `json:"active"`
	Stopped   bool   `json:"stopped,omitempty"`
}

// ErrorResponse is returned for rejected requests
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Handler exposes the speaker manager over HTTP
type Handler struct {
	ctx     context.Context
	cfg     *config.Config
	manager *speaker.Manager
	logger  zerolog.Logger
}

// NewHandler creates a handler. Playbacks run under ctx, not the request
// context, so they outlive the HTTP call and stop on shutdown.
func NewHandler(ctx context.Context, cfg *config.Config, manager *speaker.Manager) *Handler {
	return &Handler{
		ctx:     ctx,
		cfg:     cfg,
		manager: manager,
		logger:  observability.GetLogger().With().Str("component", "api").Logger(),
	}
}

// Register mounts the playback endpoints on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/speak", h.handleSpeak)
	mux.HandleFunc("/toggle", h.handleToggle)
	mux.HandleFunc("/stop", h.handleStop)
	mux.HandleFunc("/status", h.handleStatus)
}

func (h *Handler) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	cfg, err := h.decode(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	p := h.manager.Start(h.ctx, cfg)
	h.watch(p)
	writeJSON(w, http.StatusAccepted, playbackResponse(p))
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	// Stopping needs no text, so only validate when nothing is playing
	if h.manager.Active() && h.manager.Stop() {
		writeJSON(w, http.StatusOK, PlaybackResponse{Stopped: true})
		return
	}

	cfg, err := h.decode(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	p, stopped := h.manager.Toggle(h.ctx, cfg)
	if stopped {
		writeJSON(w, http.StatusOK, PlaybackResponse{Stopped: true})
		return
	}
	h.watch(p)
	writeJSON(w, http.StatusAccepted, playbackResponse(p))
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	writeJSON(w, http.StatusOK, PlaybackResponse{Stopped: h.manager.Stop()})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	p := h.manager.Current()
	if p == nil {
		writeJSON(w, http.StatusOK, PlaybackResponse{})
		return
	}
	writeJSON(w, http.StatusOK, playbackResponse(p))
}

// decode builds a validated session config from the request body
func (h *Handler) decode(r *http.Request) (session.Config, error) {
	var body SpeakRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return session.Config{}, streamerr.New(streamerr.KindInput, "decode", err).WithDetail("invalid JSON body")
	}

	req := h.cfg.Request(body.Text)
	if body.VoiceID != "" {
		req.VoiceID = body.VoiceID
	}
	if body.Stability != "" {
		req.Stability = body.Stability
	}
	if body.Similarity != "" {
		req.Similarity = body.Similarity
	}
	if body.PlaybackSpeed != "" {
		req.PlaybackSpeed = body.PlaybackSpeed
	}
	return session.New(req)
}

// watch logs the outcome of a playback that nobody waits on
func (h *Handler) watch(p *speaker.Playback) {
	go func() {
		if err := p.Wait(); err != nil && !streamerr.Is(err, streamerr.KindCancelled) {
			h.logger.Warn().
				Str("session_id", p.ID()).
				Str("kind", streamerr.KindOf(err).String()).
				Msg(streamerr.UserMessage(err))
		}
	}()
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if streamerr.Is(err, streamerr.KindInput) {
		status = http.StatusBadRequest
	}
	h.logger.Debug().Err(err).Int("status", status).Msg("Request rejected")
	writeJSON(w, status, ErrorResponse{
		Error: streamerr.UserMessage(err),
		Kind:  streamerr.KindOf(err).String(),
	})
}

func playbackResponse(p *speaker.Playback) PlaybackResponse {
	return PlaybackResponse{
		SessionID: p.ID(),
		State:     p.State().String(),
		Frames:    p.FramesReceived(),
		Active:    true,
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Kind: streamerr.KindInput.String()})
	return false
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
