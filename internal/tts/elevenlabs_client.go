package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/speech-player/internal/streamerr"
)

const closeWriteTimeout = time.Second

// ElevenLabsDialer opens stream-input websocket sessions against ElevenLabs
type ElevenLabsDialer struct {
	baseURL      string
	modelID      string
	outputFormat string
	dialer       *websocket.Dialer
}

// NewElevenLabsDialer creates a dialer for baseURL (e.g. wss://api.elevenlabs.io/v1)
func NewElevenLabsDialer(baseURL, modelID, outputFormat string) *ElevenLabsDialer {
	return &ElevenLabsDialer{
		baseURL:      strings.TrimRight(baseURL, "/"),
		modelID:      modelID,
		outputFormat: outputFormat,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// URL returns the stream-input endpoint for voiceID
func (d *ElevenLabsDialer) URL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", d.modelID)
	if d.outputFormat != "" {
		q.Set("output_format", d.outputFormat)
	}
	return fmt.Sprintf("%s/text-to-speech/%s/stream-input?%s", d.baseURL, url.PathEscape(voiceID), q.Encode())
}

// Dial opens a session authenticated with credential. Errors are classified.
func (d *ElevenLabsDialer) Dial(ctx context.Context, voiceID, credential string) (Session, error) {
	header := http.Header{}
	header.Set("xi-api-key", credential)

	conn, resp, err := d.dialer.DialContext(ctx, d.URL(voiceID), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, streamerr.New(streamerr.KindAuthentication, "dial", err).
					WithDetail(fmt.Sprintf("synthesis service rejected the API key (HTTP %d)", resp.StatusCode))
			}
		}
		return nil, Classify("dial", err)
	}
	return &wsSession{conn: conn}, nil
}

// wsSession adapts a websocket connection to Session
type wsSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *wsSession) Send(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		return Classify("send", err)
	}
	return nil
}

func (s *wsSession) Receive() (Frame, error) {
	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		return Frame{}, Classify("read", err)
	}
	if messageType != websocket.TextMessage {
		return Frame{}, streamerr.Newf(streamerr.KindTransport, "read", "unexpected binary message (%d bytes)", len(data))
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, streamerr.New(streamerr.KindTransport, "read", err).WithDetail("malformed frame from synthesis service")
	}
	return frame, nil
}

// Close sends a normal closure and closes the connection
func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
