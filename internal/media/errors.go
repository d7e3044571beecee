package media

import (
	"errors"
	"fmt"
	"strings"
)

// Errors surfaced by the engine boundary. Callers wrap them with context and
// compare with errors.Is.
var (
	ErrInit          = errors.New("media: engine initialization failed")
	ErrElementCreate = errors.New("media: element construction failed")
	ErrLink          = errors.New("media: link failed")
	ErrStateChange   = errors.New("media: state change failed")
	ErrCaps          = errors.New("media: failed to get media capabilities")
	ErrDuration      = errors.New("media: failed to query media duration or position")
	ErrSeek          = errors.New("media: seek failed")
	ErrBus           = errors.New("media: failed to get the pipeline bus")
	ErrCast          = errors.New("media: failed to cast element")
	ErrNotFound      = errors.New("media: element not found")
)

// ErrorCategory represents the classification of engine errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryResource indicates device or file failures (busy camera, missing file)
	ErrCategoryResource ErrorCategory = iota
	// ErrCategoryCodec indicates codec/format failures (negotiation, missing plugin)
	ErrCategoryCodec
	// ErrCategoryNetwork indicates failures of network sources (uri sources)
	ErrCategoryNetwork
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// EngineError is an error posted on the pipeline bus
type EngineError struct {
	Source   string
	Message  string
	Debug    string
	Category ErrorCategory
}

// NewEngineError builds an EngineError and classifies it
func NewEngineError(source, message, debug string) *EngineError {
	return &EngineError{
		Source:   source,
		Message:  message,
		Debug:    debug,
		Category: Classify(message, debug),
	}
}

func (e *EngineError) Error() string {
	if e.Debug == "" {
		return fmt.Sprintf("received error from %s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("received error from %s: %s (debug: %s)", e.Source, e.Message, e.Debug)
}

// Classify categorizes an engine error from its message and debug string.
//
// go-gst does not expose the GError domain, so classification is keyword
// based. Codec is checked first because negotiation errors often mention the
// source element too.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	if containsAny(combined, codecKeywords) {
		return ErrCategoryCodec
	}
	if containsAny(combined, resourceKeywords) {
		return ErrCategoryResource
	}
	if containsAny(combined, networkKeywords) {
		return ErrCategoryNetwork
	}
	return ErrCategoryUnknown
}

var codecKeywords = []string{
	"codec",
	"decode",
	"encode",
	"not negotiated",
	"not-negotiated",
	"negotiation",
	"caps",
	"no decoder",
	"missing plugin",
	"h264",
	"x264",
}

var resourceKeywords = []string{
	"device",
	"busy",
	"permission denied",
	"no such file",
	"could not open",
	"could not read",
	"could not write",
	"v4l2",
	"alsa",
	"resource",
}

var networkKeywords = []string{
	"connection",
	"timeout",
	"unreachable",
	"network",
	"dns",
	"resolve",
	"socket",
	"http",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
