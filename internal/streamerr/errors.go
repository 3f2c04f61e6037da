package streamerr

import (
	"errors"
	"fmt"
)

// Kind classifies a terminal failure of a playback request
type Kind int

const (
	KindUnknown        Kind = iota
	KindInput                // No usable text was supplied
	KindAuthentication       // Backend rejected the credential
	KindTransport            // Connection-level failure
	KindTimeout              // Session open or inter-frame idle timeout
	KindPlayback             // Player exited non-zero or could not be spawned
	KindCleanup              // Temp buffer could not be removed (logged only)
	KindCancelled            // Caller cancelled the request
)

// String returns the taxonomy name of the kind
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindAuthentication:
		return "authentication"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindPlayback:
		return "playback"
	case KindCleanup:
		return "cleanup"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// prefix is the short diagnostic shown in front of the detail
func (k Kind) prefix() string {
	switch k {
	case KindInput:
		return "Nothing to read"
	case KindAuthentication:
		return "Authentication failed"
	case KindTransport:
		return "Connection failed"
	case KindTimeout:
		return "Synthesis timed out"
	case KindPlayback:
		return "Playback failed"
	case KindCleanup:
		return "Cleanup failed"
	case KindCancelled:
		return "Playback cancelled"
	default:
		return "Error"
	}
}

// ErrEmptySelection is returned when the trimmed input text is empty
var ErrEmptySelection = errors.New("no text selected")

// Error is a classified failure
type Error struct {
	Kind   Kind
	Op     string // Operation that failed (validate, dial, read, play, ...)
	Detail string // Human-readable detail; falls back to Err when empty
	Err    error

	// Playback only
	ExitCode int  // Player exit code, -1 when the process never ran
	Spawn    bool // Player executable could not be launched
}

// New creates a classified error wrapping err
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, ExitCode: -1}
}

// Newf creates a classified error with a formatted detail and no cause
func Newf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...), ExitCode: -1}
}

// WithDetail returns a copy of e carrying a friendly detail message
func (e *Error) WithDetail(detail string) *Error {
	cp := *e
	cp.Detail = detail
	return &cp
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.prefix(), e.detail())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) detail() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// KindOf returns the kind of the first classified error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage renders err as the single message shown to the user
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("%s: %s", KindUnknown.prefix(), err.Error())
	}
	msg := e.Error()
	if e.Kind == KindAuthentication {
		msg += " (check ELEVENLABS_API_KEY in your configuration)"
	}
	return msg
}
