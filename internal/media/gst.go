//go:build cgo

package media

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var initOnce sync.Once

// Init initializes GStreamer once per process. Safe to call from every
// constructor.
func Init() error {
	initOnce.Do(func() {
		gst.Init(nil)
		slog.Debug("media: gstreamer initialized")
	})
	return nil
}

// GstEngine is the go-gst backed Engine
type GstEngine struct{}

// NewGstEngine initializes GStreamer and returns an engine
func NewGstEngine() (*GstEngine, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return &GstEngine{}, nil
}

// NewPipeline creates an empty pipeline
func (e *GstEngine) NewPipeline(name string) (Pipeline, error) {
	p, err := gst.NewPipeline(name)
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline %q: %v", ErrElementCreate, name, err)
	}
	return newGstPipeline(p), nil
}

// ParseLaunch creates a pipeline from a gst-launch description
func (e *GstEngine) ParseLaunch(description string) (Pipeline, error) {
	p, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("%w: parse launch: %v", ErrElementCreate, err)
	}
	return newGstPipeline(p), nil
}

type gstElement struct {
	elem    *gst.Element
	factory string
}

func (e *gstElement) Name() string    { return e.elem.GetName() }
func (e *gstElement) Factory() string { return e.factory }

func (e *gstElement) SetProperty(name string, value interface{}) error {
	if err := e.elem.SetProperty(name, value); err != nil {
		return fmt.Errorf("set %s.%s: %w", e.elem.GetName(), name, err)
	}
	return nil
}

type gstPipeline struct {
	pipeline *gst.Pipeline
	bus      *gst.Bus

	mu       sync.Mutex
	elements map[string]*gstElement
	// sinks keeps app.Sink wrappers alive while callbacks are registered
	sinks []*app.Sink
}

func newGstPipeline(p *gst.Pipeline) *gstPipeline {
	return &gstPipeline{
		pipeline: p,
		bus:      p.GetPipelineBus(),
		elements: make(map[string]*gstElement),
	}
}

func (p *gstPipeline) Name() string { return p.pipeline.GetName() }

func (p *gstPipeline) NewElement(factory, name string) (Element, error) {
	elem, err := gst.NewElementWithName(factory, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %v", ErrElementCreate, factory, name, err)
	}
	if err := p.pipeline.Add(elem); err != nil {
		return nil, fmt.Errorf("%w: add %s: %v", ErrElementCreate, name, err)
	}

	wrapped := &gstElement{elem: elem, factory: factory}
	p.mu.Lock()
	p.elements[name] = wrapped
	p.mu.Unlock()
	return wrapped, nil
}

func (p *gstPipeline) ElementByName(name string) (Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.elements[name]; ok {
		return e, nil
	}
	elem, err := p.pipeline.GetElementByName(name)
	if err != nil || elem == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	wrapped := &gstElement{elem: elem}
	p.elements[name] = wrapped
	return wrapped, nil
}

func (p *gstPipeline) Link(elems ...Element) error {
	raw := make([]*gst.Element, 0, len(elems))
	for _, e := range elems {
		g, err := unwrap(e)
		if err != nil {
			return err
		}
		raw = append(raw, g)
	}
	if err := gst.ElementLinkMany(raw...); err != nil {
		return fmt.Errorf("%w: %v", ErrLink, err)
	}
	return nil
}

func (p *gstPipeline) LinkRequest(fanout Element, template string, sink Element) (string, error) {
	src, err := unwrap(fanout)
	if err != nil {
		return "", err
	}
	dst, err := unwrap(sink)
	if err != nil {
		return "", err
	}

	srcPad := src.GetRequestPad(template)
	if srcPad == nil {
		return "", fmt.Errorf("%w: no request pad %s on %s", ErrLink, template, src.GetName())
	}
	sinkPad := dst.GetStaticPad("sink")
	if sinkPad == nil {
		return "", fmt.Errorf("%w: no sink pad on %s", ErrLink, dst.GetName())
	}
	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		return "", fmt.Errorf("%w: %s:%s -> %s:sink (%v)", ErrLink, src.GetName(), srcPad.GetName(), dst.GetName(), ret)
	}
	return srcPad.GetName(), nil
}

func (p *gstPipeline) SetCaps(elem Element, caps string) error {
	g, err := unwrap(elem)
	if err != nil {
		return err
	}
	c := gst.NewCapsFromString(caps)
	if c == nil {
		return fmt.Errorf("%w: invalid caps %q", ErrCaps, caps)
	}
	if err := g.SetProperty("caps", c); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCaps, g.GetName(), err)
	}
	return nil
}

func (p *gstPipeline) OnSample(sink Element, fn SampleFunc) error {
	g, err := unwrap(sink)
	if err != nil {
		return err
	}
	appsink := app.SinkFromElement(g)
	if appsink == nil {
		return fmt.Errorf("%w: %s is not an appsink", ErrCast, g.GetName())
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return toFlowReturn(fn(pullSample(s)))
		},
	})

	p.mu.Lock()
	p.sinks = append(p.sinks, appsink)
	p.mu.Unlock()
	return nil
}

// pullSample copies the mapped buffer (GStreamer reuses it) and reads the
// negotiated caps of the sample.
func pullSample(s *app.Sink) (Sample, error) {
	sample := s.PullSample()
	if sample == nil {
		return Sample{}, fmt.Errorf("%w: pull sample returned nil", ErrCaps)
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return Sample{}, fmt.Errorf("%w: sample has no buffer", ErrCaps)
	}
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return Sample{}, fmt.Errorf("%w: sample has no caps", ErrCaps)
	}

	structure := caps.GetStructureAt(0)
	width, err := intField(structure, "width")
	if err != nil {
		return Sample{}, err
	}
	height, err := intField(structure, "height")
	if err != nil {
		return Sample{}, err
	}
	format, _ := structure.GetValue("format")
	formatStr, _ := format.(string)

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return Sample{}, fmt.Errorf("%w: empty buffer", ErrCaps)
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	buffer.Unmap()

	stride := 0
	if height > 0 {
		stride = len(owned) / height
	}

	return Sample{
		Data: owned,
		Caps: Caps{Format: formatStr, Width: width, Height: height, Stride: stride},
	}, nil
}

func intField(s *gst.Structure, name string) (int, error) {
	v, err := s.GetValue(name)
	if err != nil {
		return 0, fmt.Errorf("%w: missing %s: %v", ErrCaps, name, err)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrCaps, name, v)
	}
}

func (p *gstPipeline) SetState(state State) error {
	if err := p.pipeline.SetState(toGstState(state)); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", ErrStateChange, p.Name(), state, err)
	}
	return nil
}

func (p *gstPipeline) QueryDuration() (time.Duration, bool) {
	ok, ns := p.pipeline.QueryDuration(gst.FormatTime)
	if !ok || ns < 0 {
		return 0, false
	}
	return time.Duration(ns), true
}

func (p *gstPipeline) QueryPosition() (time.Duration, bool) {
	ok, ns := p.pipeline.QueryPosition(gst.FormatTime)
	if !ok || ns < 0 {
		return 0, false
	}
	return time.Duration(ns), true
}

func (p *gstPipeline) SeekSimple(position time.Duration) bool {
	return p.pipeline.SeekSimple(int64(position), gst.FormatTime, gst.SeekFlagFlush)
}

func (p *gstPipeline) SeekFrame(frame uint64) bool {
	return p.pipeline.SeekSimple(int64(frame), gst.FormatDefault, gst.SeekFlagFlush|gst.SeekFlagAccurate)
}

func (p *gstPipeline) SeekRate(rate float64, position time.Duration) bool {
	ev := gst.NewSeekEvent(rate, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagAccurate,
		gst.SeekTypeSet, int64(position), gst.SeekTypeNone, -1)
	return p.pipeline.SendEvent(ev)
}

func (p *gstPipeline) SendEOS() bool {
	return p.pipeline.SendEvent(gst.NewEOSEvent())
}

func (p *gstPipeline) PopMessage(timeout time.Duration) *Message {
	msg := p.bus.TimedPop(timeout)
	if msg == nil {
		return nil
	}

	out := &Message{Source: msg.Source()}
	switch msg.Type() {
	case gst.MessageAsyncDone:
		out.Type = MessageAsyncDone
	case gst.MessageEOS:
		out.Type = MessageEOS
	case gst.MessageError:
		out.Type = MessageError
		gerr := msg.ParseError()
		out.Err = NewEngineError(msg.Source(), gerr.Error(), gerr.DebugString())
	case gst.MessageStateChanged:
		out.Type = MessageStateChanged
		old, cur := msg.ParseStateChanged()
		out.OldState = fromGstState(old)
		out.NewState = fromGstState(cur)
	default:
		out.Type = MessageUnknown
	}
	return out
}

func unwrap(e Element) (*gst.Element, error) {
	g, ok := e.(*gstElement)
	if !ok || g == nil {
		return nil, fmt.Errorf("%w: %T is not a gst element", ErrCast, e)
	}
	return g.elem, nil
}

func toGstState(s State) gst.State {
	switch s {
	case StateReady:
		return gst.StateReady
	case StatePaused:
		return gst.StatePaused
	case StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

func fromGstState(s gst.State) State {
	switch s {
	case gst.StateReady:
		return StateReady
	case gst.StatePaused:
		return StatePaused
	case gst.StatePlaying:
		return StatePlaying
	default:
		return StateNull
	}
}

func toFlowReturn(r FlowResult) gst.FlowReturn {
	switch r {
	case FlowEOS:
		return gst.FlowEOS
	case FlowError:
		return gst.FlowError
	default:
		return gst.FlowOK
	}
}
