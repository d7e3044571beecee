// Package media is the thin boundary between camrecorder and the GStreamer
// engine.
//
// The rest of the repository only sees the Engine and Pipeline interfaces:
// create elements by factory name, link them, set properties, request pads on
// fan-out elements, change state, query duration/position, seek, register a
// per-sample callback and pop bus messages. The go-gst implementation lives
// in gst.go; mediatest provides an in-memory fake.
package media

import (
	"time"
)

// State mirrors the GStreamer element states
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

// String returns the GStreamer name of the state
func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// FlowResult is returned by sample callbacks to steer the streaming thread
type FlowResult int

const (
	// FlowOK continues streaming
	FlowOK FlowResult = iota
	// FlowEOS ends the stream gracefully
	FlowEOS
	// FlowError aborts the stream
	FlowError
)

// Caps is the negotiated format of a raw video sample
type Caps struct {
	Format string
	Width  int
	Height int
	Stride int
}

// Sample is a pixel buffer copied out of the engine. The callback owns Data
// and may hand it on without copying again.
type Sample struct {
	Data []byte
	Caps Caps
}

// SampleFunc is invoked on an engine-owned streaming thread for each sample.
// err is non-nil when the sample could not be pulled, mapped or described.
type SampleFunc func(s Sample, err error) FlowResult

// MessageType is the kind of a bus message
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageAsyncDone
	MessageEOS
	MessageError
	MessageStateChanged
)

// String returns a human-readable representation of the message type
func (t MessageType) String() string {
	switch t {
	case MessageAsyncDone:
		return "async-done"
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	case MessageStateChanged:
		return "state-changed"
	default:
		return "unknown"
	}
}

// Message is a bus message
type Message struct {
	Type   MessageType
	Source string
	// Err is set for MessageError
	Err *EngineError
	// OldState and NewState are set for MessageStateChanged
	OldState State
	NewState State
}

// Element is a handle to an element inside a pipeline
type Element interface {
	Name() string
	Factory() string
	SetProperty(name string, value interface{}) error
}

// Pipeline is a live element graph owned by exactly one component
type Pipeline interface {
	Name() string

	// NewElement creates an element from a factory and adds it to the pipeline
	NewElement(factory, name string) (Element, error)
	// ElementByName finds an element created by NewElement or ParseLaunch
	ElementByName(name string) (Element, error)
	// Link links the elements as a linear chain
	Link(elems ...Element) error
	// LinkRequest requests a pad from a fan-out element (e.g. tee "src_%u")
	// and links it to the static "sink" pad of sink. Returns the pad name.
	LinkRequest(fanout Element, template string, sink Element) (string, error)
	// SetCaps sets a caps string on a capsfilter or appsink
	SetCaps(elem Element, caps string) error
	// OnSample registers the per-sample callback of an appsink
	OnSample(sink Element, fn SampleFunc) error

	SetState(state State) error
	QueryDuration() (time.Duration, bool)
	QueryPosition() (time.Duration, bool)
	// SeekSimple performs a flushing seek to a time offset
	SeekSimple(position time.Duration) bool
	// SeekFrame performs a flushing seek to a frame number
	SeekFrame(frame uint64) bool
	// SeekRate changes the playback rate keeping the current position
	SeekRate(rate float64, position time.Duration) bool
	// SendEOS injects an end-of-stream event so muxers can finalize
	SendEOS() bool

	// PopMessage waits up to timeout for the next bus message
	PopMessage(timeout time.Duration) *Message
}

// Engine creates pipelines
type Engine interface {
	// NewPipeline creates an empty pipeline
	NewPipeline(name string) (Pipeline, error)
	// ParseLaunch creates a pipeline from a gst-launch description
	ParseLaunch(description string) (Pipeline, error)
}
