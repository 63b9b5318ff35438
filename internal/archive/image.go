package archive

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/care/oviss/internal/types"
)

// PlaceholderGray is the sample value of placeholder images
const PlaceholderGray = 128

// Placeholder returns a new flat mid-gray image of the given size
func Placeholder(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	gray := color.RGBA{R: PlaceholderGray, G: PlaceholderGray, B: PlaceholderGray, A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: gray}, image.Point{}, draw.Src)
	return img
}

// FrameImage converts a packed RGB frame to image.RGBA
func FrameImage(frame *types.Frame) (*image.RGBA, error) {
	if frame == nil {
		return nil, fmt.Errorf("nil frame")
	}
	if frame.Channels != 3 || !frame.Valid() {
		return nil, fmt.Errorf("invalid RGB frame: %dx%dx%d, %d bytes",
			frame.Width, frame.Height, frame.Channels, len(frame.Data))
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i, j := 0, 0; i < len(frame.Data); i, j = i+3, j+4 {
		img.Pix[j] = frame.Data[i]
		img.Pix[j+1] = frame.Data[i+1]
		img.Pix[j+2] = frame.Data[i+2]
		img.Pix[j+3] = 255
	}
	return img, nil
}

// EncodeJPEG encodes img at the given quality (1-100)
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
