package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/speech-player/internal/streamerr"
)

// Classify maps a transport-level error into the streamerr taxonomy.
// Already classified errors are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var classified *streamerr.Error
	if errors.As(err, &classified) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return streamerr.New(streamerr.KindCancelled, op, err).WithDetail("request cancelled")

	case errors.Is(err, context.DeadlineExceeded):
		return streamerr.New(streamerr.KindTimeout, op, err).WithDetail("synthesis service did not respond in time")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return streamerr.New(streamerr.KindTransport, op, err).
			WithDetail(fmt.Sprintf("could not resolve %s, check your internet connection", dnsErr.Name))
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return streamerr.New(streamerr.KindTransport, op, err).WithDetail("synthesis service refused the connection")
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.ClosePolicyViolation {
			detail := "synthesis service closed the session"
			if closeErr.Text != "" {
				detail += ": " + closeErr.Text
			}
			// 1008 also covers quota and input timeouts; only a key rejection is an auth failure
			if namesAPIKey(closeErr.Text) {
				return streamerr.New(streamerr.KindAuthentication, op, err).WithDetail(detail)
			}
			return streamerr.New(streamerr.KindTransport, op, err).WithDetail(detail)
		}
		return streamerr.New(streamerr.KindTransport, op, err).WithDetail("connection closed before synthesis completed")
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return streamerr.New(streamerr.KindTransport, op, err).WithDetail("connection closed before synthesis completed")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return streamerr.New(streamerr.KindTimeout, op, err).WithDetail("network timeout talking to synthesis service")
	}

	if errors.Is(err, websocket.ErrBadHandshake) {
		return streamerr.New(streamerr.KindTransport, op, err).WithDetail("synthesis service rejected the websocket handshake")
	}

	return streamerr.New(streamerr.KindTransport, op, err)
}

// namesAPIKey reports whether a close reason refers to the credential,
// e.g. "invalid_api_key" or "Invalid API key"
func namesAPIKey(reason string) bool {
	r := strings.ToLower(reason)
	r = strings.NewReplacer("_", " ", "-", " ").Replace(r)
	return strings.Contains(r, "api key")
}
