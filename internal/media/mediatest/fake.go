// Package mediatest provides an in-memory media.Engine that records the graph
// it is asked to build and lets tests drive bus messages and samples.
package mediatest

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/e7canasta/camrecorder/internal/media"
)

// Engine is a fake media.Engine
type Engine struct {
	mu sync.Mutex

	// FailFactories makes NewElement fail for the listed factories
	FailFactories map[string]bool
	// FailLaunch makes ParseLaunch fail
	FailLaunch bool
	// Configure is called on every pipeline right after creation
	Configure func(p *Pipeline)

	Pipelines []*Pipeline
}

// NewEngine creates a fake engine
func NewEngine() *Engine {
	return &Engine{FailFactories: make(map[string]bool)}
}

// NewPipeline creates an empty fake pipeline
func (e *Engine) NewPipeline(name string) (media.Pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.newPipelineLocked(name), nil
}

var launchName = regexp.MustCompile(`(\w[\w-]*)\s+name=(\w[\w-]*)`)

// ParseLaunch creates a pipeline holding one element per "factory name=x"
// pair found in the description.
func (e *Engine) ParseLaunch(description string) (media.Pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.FailLaunch {
		return nil, fmt.Errorf("%w: parse launch: fake failure", media.ErrElementCreate)
	}
	p := e.newPipelineLocked("")
	p.Description = description
	for _, m := range launchName.FindAllStringSubmatch(description, -1) {
		p.addElement(m[1], m[2])
	}
	return p, nil
}

// Last returns the most recently created pipeline
func (e *Engine) Last() *Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Pipelines) == 0 {
		return nil
	}
	return e.Pipelines[len(e.Pipelines)-1]
}

func (e *Engine) newPipelineLocked(name string) *Pipeline {
	if name == "" {
		name = fmt.Sprintf("pipeline%d", len(e.Pipelines))
	}
	p := &Pipeline{
		name:          name,
		failFactories: e.FailFactories,
		elements:      make(map[string]*Element),
		caps:          make(map[string]string),
		callbacks:     make(map[string]media.SampleFunc),
		messages:      make(chan *media.Message, 64),
		SeekOK:        true,
		state:         media.StateNull,
	}
	e.Pipelines = append(e.Pipelines, p)
	if e.Configure != nil {
		e.Configure(p)
	}
	return p
}

// Element is a fake media.Element that records its properties
type Element struct {
	mu         sync.Mutex
	name       string
	factory    string
	properties map[string]interface{}
}

func (e *Element) Name() string    { return e.name }
func (e *Element) Factory() string { return e.factory }

func (e *Element) SetProperty(name string, value interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.properties[name] = value
	return nil
}

// Property returns a recorded property value
func (e *Element) Property(name string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.properties[name]
	return v, ok
}

// Link is a recorded link between two elements
type Link struct {
	Src string
	Pad string
	Dst string
}

// Seek is a recorded seek request
type Seek struct {
	Position time.Duration
	Frame    uint64
	ByFrame  bool
	Rate     float64
}

// Pipeline is a fake media.Pipeline
type Pipeline struct {
	mu sync.Mutex

	name          string
	failFactories map[string]bool
	order         []string
	elements      map[string]*Element
	links         []Link
	caps          map[string]string
	callbacks     map[string]media.SampleFunc
	states        []media.State
	state         media.State
	seeks         []Seek
	eosSent       int
	requestCount  map[string]int

	messages chan *media.Message

	// Description is the ParseLaunch input, if any
	Description string
	// Duration and Position are returned by the queries when the flags are set
	Duration    time.Duration
	HasDuration bool
	Position    time.Duration
	HasPosition bool
	// SeekOK is the result of every seek
	SeekOK bool
	// FailLink makes every Link and LinkRequest fail
	FailLink bool
	// PostEOSOnSend makes SendEOS queue an EOS message on the bus
	PostEOSOnSend bool
	// FailStates makes SetState fail for the listed target states
	FailStates map[media.State]bool
	// OnStateChange is invoked after every successful SetState
	OnStateChange func(p *Pipeline, s media.State)
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) NewElement(factory, name string) (media.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failFactories[factory] {
		return nil, fmt.Errorf("%w: %s (%s): no such element factory", media.ErrElementCreate, factory, name)
	}
	if _, exists := p.elements[name]; exists {
		return nil, fmt.Errorf("%w: duplicate element name %s", media.ErrElementCreate, name)
	}
	return p.addElement(factory, name), nil
}

func (p *Pipeline) addElement(factory, name string) *Element {
	e := &Element{name: name, factory: factory, properties: make(map[string]interface{})}
	p.elements[name] = e
	p.order = append(p.order, name)
	return e
}

func (p *Pipeline) ElementByName(name string) (media.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.elements[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", media.ErrNotFound, name)
	}
	return e, nil
}

func (p *Pipeline) Link(elems ...media.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailLink {
		return fmt.Errorf("%w: fake failure", media.ErrLink)
	}
	for i := 0; i+1 < len(elems); i++ {
		p.links = append(p.links, Link{Src: elems[i].Name(), Pad: "src", Dst: elems[i+1].Name()})
	}
	return nil
}

func (p *Pipeline) LinkRequest(fanout media.Element, template string, sink media.Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailLink {
		return "", fmt.Errorf("%w: fake failure", media.ErrLink)
	}
	if p.requestCount == nil {
		p.requestCount = make(map[string]int)
	}
	pad := fmt.Sprintf("src_%d", p.requestCount[fanout.Name()])
	p.requestCount[fanout.Name()]++
	p.links = append(p.links, Link{Src: fanout.Name(), Pad: pad, Dst: sink.Name()})
	return pad, nil
}

func (p *Pipeline) SetCaps(elem media.Element, caps string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caps[elem.Name()] = caps
	return nil
}

func (p *Pipeline) OnSample(sink media.Element, fn media.SampleFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sink.Factory() != "appsink" {
		return fmt.Errorf("%w: %s is not an appsink", media.ErrCast, sink.Name())
	}
	p.callbacks[sink.Name()] = fn
	return nil
}

func (p *Pipeline) SetState(state media.State) error {
	p.mu.Lock()
	if p.FailStates[state] {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s: fake failure", media.ErrStateChange, p.name, state)
	}
	p.states = append(p.states, state)
	p.state = state
	hook := p.OnStateChange
	p.mu.Unlock()

	if hook != nil {
		hook(p, state)
	}
	return nil
}

func (p *Pipeline) QueryDuration() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Duration, p.HasDuration
}

func (p *Pipeline) QueryPosition() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Position, p.HasPosition
}

func (p *Pipeline) SeekSimple(position time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, Seek{Position: position, Rate: 1})
	return p.SeekOK
}

func (p *Pipeline) SeekFrame(frame uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, Seek{Frame: frame, ByFrame: true, Rate: 1})
	return p.SeekOK
}

func (p *Pipeline) SeekRate(rate float64, position time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, Seek{Position: position, Rate: rate})
	return p.SeekOK
}

func (p *Pipeline) SendEOS() bool {
	p.mu.Lock()
	p.eosSent++
	post := p.PostEOSOnSend
	p.mu.Unlock()

	if post {
		p.PostType(media.MessageEOS)
	}
	return true
}

func (p *Pipeline) PopMessage(timeout time.Duration) *media.Message {
	select {
	case m := <-p.messages:
		return m
	case <-time.After(timeout):
		return nil
	}
}

// Post queues a bus message
func (p *Pipeline) Post(m *media.Message) {
	p.messages <- m
}

// PostType queues a bus message of the given type sourced from the pipeline
func (p *Pipeline) PostType(t media.MessageType) {
	p.Post(&media.Message{Type: t, Source: p.name})
}

// Emit drives the sample callback registered on sink, as the streaming
// thread would.
func (p *Pipeline) Emit(sink string, s media.Sample, err error) (media.FlowResult, bool) {
	p.mu.Lock()
	fn, ok := p.callbacks[sink]
	p.mu.Unlock()
	if !ok {
		return media.FlowError, false
	}
	return fn(s, err), true
}

// Element returns a recorded element
func (p *Pipeline) Element(name string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[name]
}

// ElementNames returns element names in creation order
func (p *Pipeline) ElementNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Links returns the recorded links
func (p *Pipeline) Links() []Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Link(nil), p.links...)
}

// Caps returns the caps string set on an element
func (p *Pipeline) Caps(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps[name]
}

// States returns every state requested so far
func (p *Pipeline) States() []media.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]media.State(nil), p.states...)
}

// State returns the current state
func (p *Pipeline) State() media.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Seeks returns the recorded seeks
func (p *Pipeline) Seeks() []Seek {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Seek(nil), p.seeks...)
}

// EOSSent returns how many EOS events were injected
func (p *Pipeline) EOSSent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eosSent
}

// SetDuration sets the duration returned by QueryDuration
func (p *Pipeline) SetDuration(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Duration, p.HasDuration = d, true
}

// SetPosition sets the position returned by QueryPosition
func (p *Pipeline) SetPosition(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Position, p.HasPosition = d, true
}
