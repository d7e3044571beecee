package types

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// PixelFormat identifies the memory layout of Frame.Data
type PixelFormat int

const (
	// FormatUnknown is a format the recorder does not know how to display
	FormatUnknown PixelFormat = iota
	// FormatRGBA is 4 bytes per pixel, R G B A
	FormatRGBA
	// FormatBGRA is 4 bytes per pixel, B G R A
	FormatBGRA
	// FormatRGB is 3 bytes per pixel, R G B
	FormatRGB
)

// ParsePixelFormat maps a GStreamer raw video format name to a PixelFormat
func ParsePixelFormat(name string) PixelFormat {
	switch name {
	case "RGBA", "RGBx":
		return FormatRGBA
	case "BGRA", "BGRx":
		return FormatBGRA
	case "RGB":
		return FormatRGB
	default:
		return FormatUnknown
	}
}

// String returns the GStreamer caps name of the format
func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA:
		return "RGBA"
	case FormatBGRA:
		return "BGRA"
	case FormatRGB:
		return "RGB"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the pixel size in bytes (0 for unknown formats)
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGBA, FormatBGRA:
		return 4
	case FormatRGB:
		return 3
	default:
		return 0
	}
}

// Frame represents a single video frame handed from the pipeline to a consumer.
//
// Data is copied out of the engine buffer once and MUST NOT be modified
// afterwards: whoever holds the Frame owns it read-only.
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the sample left the pipeline
	Timestamp time.Time
	// Format is the negotiated pixel format
	Format PixelFormat
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Stride is the row length in bytes (GStreamer may pad rows)
	Stride int
	// Data contains the raw pixel bytes
	Data []byte
	// TraceID is a unique identifier for log correlation
	TraceID string
}

// Validate checks that Data is large enough for the declared geometry
func (f Frame) Validate() error {
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("unsupported pixel format %s", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	stride := f.rowStride()
	if stride < f.Width*bpp {
		return fmt.Errorf("stride %d shorter than row of %d pixels", stride, f.Width)
	}
	if need := stride*(f.Height-1) + f.Width*bpp; len(f.Data) < need {
		return fmt.Errorf("frame data too short: have %d bytes, need %d", len(f.Data), need)
	}
	return nil
}

// Resolution returns the frame size as "WxH"
func (f Frame) Resolution() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// RGB returns the color of pixel (x, y). Out of range reads return black.
func (f Frame) RGB(x, y int) (r, g, b uint8) {
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 || x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0, 0, 0
	}
	i := y*f.rowStride() + x*bpp
	if i+bpp > len(f.Data) {
		return 0, 0, 0
	}
	p := f.Data[i : i+bpp]
	switch f.Format {
	case FormatBGRA:
		return p[2], p[1], p[0]
	default:
		return p[0], p[1], p[2]
	}
}

// Image converts the frame into an image.Image (copying the pixels)
func (f Frame) Image() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b := f.RGB(x, y)
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return img, nil
}

func (f Frame) rowStride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	return f.Width * f.Format.BytesPerPixel()
}
