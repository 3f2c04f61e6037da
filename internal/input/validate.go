package input

import (
	"strings"

	"github.com/lexiqai/speech-player/internal/streamerr"
)

// Validate trims text and rejects input with nothing left to read
func Validate(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", streamerr.New(streamerr.KindInput, "validate", streamerr.ErrEmptySelection)
	}
	return trimmed, nil
}
