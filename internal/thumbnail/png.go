package thumbnail

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/e7canasta/camrecorder/internal/types"
)

// Scale returns the frame as an image no wider than maxWidth, keeping the
// aspect ratio. maxWidth <= 0 keeps the original size.
func Scale(frame types.Frame, maxWidth int) (image.Image, error) {
	src, err := frame.Image()
	if err != nil {
		return nil, err
	}
	if maxWidth <= 0 || frame.Width <= maxWidth {
		return src, nil
	}

	height := frame.Height * maxWidth / frame.Width
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// EncodePNG writes the frame as PNG, downscaled to maxWidth when wider
func EncodePNG(w io.Writer, frame types.Frame, maxWidth int) error {
	img, err := Scale(frame, maxWidth)
	if err != nil {
		return fmt.Errorf("thumbnail: %w", err)
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("thumbnail: encode png: %w", err)
	}
	return nil
}
