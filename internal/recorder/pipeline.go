package recorder

import (
	"fmt"
	"log/slog"

	"github.com/e7canasta/camrecorder/internal/media"
)

// Element names of the recording graph
const (
	nameSource         = "video-src"
	nameTee            = "tee"
	nameEncQueue       = "enc-queue"
	nameEncRate        = "enc-rate"
	nameEncConvert     = "enc-convert"
	nameEncCaps        = "enc-caps"
	nameEncoder        = "h264-enc"
	nameH264Caps       = "h264-caps"
	nameMuxQueue       = "mux-queue"
	namePreviewQueue   = "preview-queue"
	namePreviewRate    = "preview-rate"
	namePreviewConvert = "preview-convert"
	namePreviewSink    = "preview-sink"
	nameAudioSource    = "audio-src"
	nameAudioCaps      = "audio-caps"
	nameVolume         = "volume"
	nameAudioQueue     = "audio-queue"
	nameAudioEncoder   = "aac-enc"
	nameMuxer          = "mux"
	nameFileSink       = "file-sink"
)

// PreviewCaps is the raw format delivered to the preview appsink
const PreviewCaps = "video/x-raw,format=RGBA,pixel-aspect-ratio=1/1"

// graph holds references to the elements the recorder talks to after
// assembly.
type graph struct {
	source      media.Element
	previewSink media.Element
	volume      media.Element // nil without audio
}

// assemble creates and links the recording graph inside p.
//
// Pipeline structure:
//
//	video-src → tee ─┬─ queue2 → videorate → videoconvert → capsfilter(raw, fps)
//	                 │      → x264enc → capsfilter(h264) → queue2 ──────┐
//	                 └─ queue2 → videorate → videoconvert → appsink(RGBA)
//	audio-src → capsfilter(1ch, 48k) → volume → queue2 → voaacenc ─────┤
//	                                                 matroskamux → filesink
//
// The graph is left in NULL; nothing flows until the recorder plays it.
func assemble(p media.Pipeline, cfg Config) (*graph, error) {
	b := &builder{p: p}

	// Source
	src := b.element(cfg.SourceElement, nameSource)
	if cfg.Device != "" {
		b.set(src, "device", cfg.Device)
	}
	if cfg.NumBuffers > 0 {
		b.set(src, "num-buffers", cfg.NumBuffers)
		slog.Debug("recorder: source limited", "num_buffers", cfg.NumBuffers)
	}
	tee := b.element("tee", nameTee)

	// Encode branch
	encQueue := b.element("queue2", nameEncQueue)
	b.unboundedQueue(encQueue)
	encRate := b.element("videorate", nameEncRate)
	encConvert := b.element("videoconvert", nameEncConvert)
	encCaps := b.element("capsfilter", nameEncCaps)
	b.caps(encCaps, fmt.Sprintf("video/x-raw,framerate=%s", cfg.FrameRate.Fraction()))

	encoder := b.element("x264enc", nameEncoder)
	b.set(encoder, "intra-refresh", cfg.Encoder.IntraRefresh)
	b.set(encoder, "vbv-buf-capacity", cfg.Encoder.VBVBufCapacity)
	b.set(encoder, "qp-min", cfg.Encoder.QPMin)
	b.set(encoder, "key-int-max", cfg.Encoder.KeyIntMax)

	h264Caps := b.element("capsfilter", nameH264Caps)
	b.caps(h264Caps, "video/x-h264,profile=constrained-baseline")
	muxQueue := b.element("queue2", nameMuxQueue)
	b.unboundedQueue(muxQueue)

	// Preview branch
	previewQueue := b.element("queue2", namePreviewQueue)
	b.set(previewQueue, "max-size-bytes", cfg.TeeQueueMaxBytes)
	b.set(previewQueue, "max-size-buffers", uint(0))
	b.set(previewQueue, "max-size-time", uint64(0))
	previewRate := b.element("videorate", namePreviewRate)
	previewConvert := b.element("videoconvert", namePreviewConvert)
	previewSink := b.element("appsink", namePreviewSink)
	b.caps(previewSink, PreviewCaps)
	b.set(previewSink, "max-buffers", uint(1))
	b.set(previewSink, "drop", true)

	// Sink
	mux := b.element(cfg.Muxer, nameMuxer)
	fileSink := b.element("filesink", nameFileSink)
	b.set(fileSink, "location", cfg.OutputPath)

	// Audio branch
	var volume, audioSrc, audioCaps, audioQueue, audioEnc media.Element
	if cfg.Audio.Enabled {
		audioSrc = b.element(cfg.Audio.Element, nameAudioSource)
		audioCaps = b.element("capsfilter", nameAudioCaps)
		b.caps(audioCaps, fmt.Sprintf("audio/x-raw,channels=%d,rate=%d", cfg.Audio.Channels, cfg.Audio.Rate))
		volume = b.element("volume", nameVolume)
		b.set(volume, "volume", cfg.Audio.Volume)
		audioQueue = b.element("queue2", nameAudioQueue)
		audioEnc = b.element("voaacenc", nameAudioEncoder)
	}

	if b.err != nil {
		return nil, b.err
	}

	// Linking
	if err := p.Link(src, tee); err != nil {
		return nil, fmt.Errorf("failed to link source: %w", err)
	}
	if _, err := p.LinkRequest(tee, "src_%u", encQueue); err != nil {
		return nil, fmt.Errorf("failed to link encode branch to tee: %w", err)
	}
	if _, err := p.LinkRequest(tee, "src_%u", previewQueue); err != nil {
		return nil, fmt.Errorf("failed to link preview branch to tee: %w", err)
	}
	if err := p.Link(encQueue, encRate, encConvert, encCaps, encoder, h264Caps, muxQueue, mux); err != nil {
		return nil, fmt.Errorf("failed to link encode branch: %w", err)
	}
	if err := p.Link(previewQueue, previewRate, previewConvert, previewSink); err != nil {
		return nil, fmt.Errorf("failed to link preview branch: %w", err)
	}
	if cfg.Audio.Enabled {
		if err := p.Link(audioSrc, audioCaps, volume, audioQueue, audioEnc, mux); err != nil {
			return nil, fmt.Errorf("failed to link audio branch: %w", err)
		}
	}
	if err := p.Link(mux, fileSink); err != nil {
		return nil, fmt.Errorf("failed to link muxer to file sink: %w", err)
	}

	slog.Info("recorder: pipeline assembled",
		"source", cfg.SourceElement,
		"device", cfg.Device,
		"fps", int(cfg.FrameRate),
		"audio", cfg.Audio.Enabled,
		"muxer", cfg.Muxer,
		"output", cfg.OutputPath,
	)

	return &graph{source: src, previewSink: previewSink, volume: volume}, nil
}

// builder accumulates the first construction error so assemble reads as a
// flat list of elements.
type builder struct {
	p   media.Pipeline
	err error
}

func (b *builder) element(factory, name string) media.Element {
	if b.err != nil {
		return nil
	}
	e, err := b.p.NewElement(factory, name)
	if err != nil {
		b.err = fmt.Errorf("failed to create %s: %w", factory, err)
		return nil
	}
	return e
}

func (b *builder) set(e media.Element, name string, value interface{}) {
	if b.err != nil || e == nil {
		return
	}
	if err := e.SetProperty(name, value); err != nil {
		b.err = fmt.Errorf("failed to configure %s: %w", e.Name(), err)
	}
}

func (b *builder) caps(e media.Element, caps string) {
	if b.err != nil || e == nil {
		return
	}
	if err := b.p.SetCaps(e, caps); err != nil {
		b.err = fmt.Errorf("failed to set caps on %s: %w", e.Name(), err)
	}
}

// unboundedQueue lifts every queue2 limit
func (b *builder) unboundedQueue(e media.Element) {
	b.set(e, "max-size-bytes", uint(0))
	b.set(e, "max-size-buffers", uint(0))
	b.set(e, "max-size-time", uint64(0))
}
