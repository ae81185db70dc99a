// Package imaging decodes uploaded raster images and normalizes them onto a
// fixed square canvas for the image-to-image capability.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable is returned when bytes are not a supported raster image.
var ErrUndecodable = errors.New("image could not be decoded")

// White is the default letterbox fill.
var White = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// Decode decodes PNG, JPEG, GIF, WebP or BMP data.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrUndecodable)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return img, format, nil
}

// Letterbox scales src to fit inside a size x size square, preserving aspect
// ratio, and centres it on bg. The image is never cropped.
func Letterbox(src image.Image, size int, bg color.Color) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return dst
	}

	nw, nh := size, size
	if w > h {
		nh = int(float64(h)*float64(size)/float64(w) + 0.5)
	} else if h > w {
		nw = int(float64(w)*float64(size)/float64(h) + 0.5)
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	x0 := (size - nw) / 2
	y0 := (size - nh) / 2
	target := image.Rect(x0, y0, x0+nw, y0+nh)

	draw.CatmullRom.Scale(dst, target, src, b, draw.Over, nil)
	return dst
}

// Normalize decodes data, letterboxes it onto the canvas and re-encodes it
// as PNG.
func Normalize(data []byte, size int, bg color.Color) ([]byte, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return EncodePNG(Letterbox(img, size, bg))
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Dimensions returns the width and height of encoded image data without
// decoding the full image.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return cfg.Width, cfg.Height, nil
}

// ParseBackground parses "white", "transparent", "black" or a #rrggbb hex
// colour. The empty string means white.
func ParseBackground(s string) (color.Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "white":
		return White, nil
	case "transparent":
		return color.NRGBA{}, nil
	case "black":
		return color.NRGBA{A: 255}, nil
	}

	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return nil, fmt.Errorf("invalid background colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid background colour %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
