package hashing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	MinSize = 2
	MaxSize = 64

	// DefaultMaxPixels is twice PIL's decompression bomb warning threshold,
	// the point where it refuses to open an image.
	DefaultMaxPixels int64 = 2 * 89_478_485
)

// lanczos3 is the windowed sinc PIL resizes with under LANCZOS. draw widens
// the support by the scale factor when shrinking, as PIL does.
var lanczos3 = &draw.Kernel{
	Support: 3,
	At: func(t float64) float64 {
		if t == 0 {
			return 1
		}
		x := math.Pi * t
		return 3 * math.Sin(x) * math.Sin(x/3) / (x * x)
	},
}

// Hash decodes data and returns its difference hash, refusing images above
// DefaultMaxPixels.
func Hash(data []byte, size int) (Fingerprint, error) {
	return HashWithLimit(data, size, DefaultMaxPixels)
}

// HashWithLimit is Hash with an explicit pixel budget. Dimensions are read
// from the header first, so an oversized image is refused before any pixel
// buffer is allocated. Decoding failures wrap ErrUndecodable so callers can
// skip the attachment.
func HashWithLimit(data []byte, size int, maxPixels int64) (Fingerprint, error) {
	if size < MinSize || size > MaxSize {
		return Fingerprint{}, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Fingerprint{}, fmt.Errorf("%w: empty image", ErrUndecodable)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > maxPixels {
		return Fingerprint{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUndecodable, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if img.Bounds().Empty() {
		return Fingerprint{}, fmt.Errorf("%w: empty image", ErrUndecodable)
	}
	return FromImage(img, size), nil
}

// FromImage computes the difference hash of an already decoded image: the
// luminance image is shrunk to (size+1)×size and each bit records whether a
// pixel is brighter than its left neighbour.
func FromImage(img image.Image, size int) Fingerprint {
	gray := luminance(img)

	small := image.NewGray(image.Rect(0, 0, size+1, size))
	lanczos3.Scale(small, small.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	fp := newFingerprint(size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if small.GrayAt(x+1, y).Y > small.GrayAt(x, y).Y {
				fp.set(y*size + x)
			}
		}
	}
	return fp
}

// luminance converts img to 8-bit gray with ITU-R 601-2 weights over the
// straight colour channels. Alpha is dropped, not composited, so a fully
// transparent pixel keeps the gray of its stored colour.
func luminance(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)

	switch src := img.(type) {
	case *image.Gray:
		draw.Draw(gray, b, src, b.Min, draw.Src)
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				p := src.Pix[src.PixOffset(x, y):]
				gray.Pix[gray.PixOffset(x, y)] = luma(uint32(p[0]), uint32(p[1]), uint32(p[2]))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl := straightRGB(img.At(x, y))
				gray.Pix[gray.PixOffset(x, y)] = luma(r, g, bl)
			}
		}
	}
	return gray
}

// straightRGB returns 8-bit colour channels without alpha premultiplication.
// Colours that only carry premultiplied values lose their hue at zero alpha.
func straightRGB(c color.Color) (r, g, b uint32) {
	switch c := c.(type) {
	case color.NRGBA:
		return uint32(c.R), uint32(c.G), uint32(c.B)
	case color.NRGBA64:
		return uint32(c.R >> 8), uint32(c.G >> 8), uint32(c.B >> 8)
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return uint32(n.R), uint32(n.G), uint32(n.B)
}

func luma(r, g, b uint32) uint8 {
	return uint8((r*19595 + g*38470 + b*7471 + 0x8000) >> 16)
}
