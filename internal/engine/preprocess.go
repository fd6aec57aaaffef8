package engine

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // decoder registration for captured frames
	"image/png"

	"golang.org/x/image/draw"
)

// Preprocess controls how a frame is prepared before recognition
type Preprocess struct {
	Grayscale bool
	Scale     int // integer upscale factor, values below 2 disable scaling
}

// Enabled reports whether any transformation is requested
func (p Preprocess) Enabled() bool {
	return p.Grayscale || p.Scale > 1
}

// Apply decodes data, applies the requested transformations and re-encodes
// the image as PNG. Data is returned unchanged when nothing is requested.
func (p Preprocess) Apply(data []byte) ([]byte, error) {
	if !p.Enabled() {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	img := src
	if p.Grayscale {
		img = ToGray(img)
	}
	if p.Scale > 1 {
		img = Upscale(img, p.Scale)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// ToGray converts an image to 8-bit grayscale
func ToGray(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
	return gray
}

// Upscale enlarges src by an integer factor using Catmull-Rom resampling
func Upscale(src image.Image, factor int) image.Image {
	b := src.Bounds()
	rect := image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor)

	var dst draw.Image
	if _, ok := src.(*image.Gray); ok {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.CatmullRom.Scale(dst, rect, src, b, draw.Src, nil)
	return dst
}
