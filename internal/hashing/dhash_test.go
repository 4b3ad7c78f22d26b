package hashing

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withDimensions rewrites the IHDR width and height of a PNG, leaving the
// pixel data as it was.
func withDimensions(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestHash_OversizedHeaderIsRefused(t *testing.T) {
	bomb := withDimensions(t, uniformPNG(t, 1, 1, color.Gray{Y: 10}), 20000, 20000)

	_, err := Hash(bomb, 8)
	require.ErrorIs(t, err, ErrUndecodable)
	assert.Contains(t, err.Error(), "20000x20000")
}

func TestHashWithLimit(t *testing.T) {
	data := gradientPNG(t, 40, 30, true)

	tests := []struct {
		name      string
		maxPixels int64
		wantErr   bool
	}{
		{"below budget", 1200, false},
		{"above budget", 1199, true},
		{"no budget", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, err := HashWithLimit(data, 8, tt.maxPixels)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUndecodable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.Repeat("f", 16), fp.String())
		})
	}
}

func TestPool_AppliesConfiguredPixelLimit(t *testing.T) {
	conf := hashingConfig()
	conf.Hashing.MaxPixels = 100

	_, err := NewPool(conf).Compute(context.Background(), gradientPNG(t, 40, 30, true), 8)
	assert.ErrorIs(t, err, ErrUndecodable)

	conf.Hashing.MaxPixels = 0
	_, err = NewPool(conf).Compute(context.Background(), gradientPNG(t, 40, 30, true), 8)
	assert.NoError(t, err)
}

func TestFromImage_TransparencyIgnored(t *testing.T) {
	opaque := image.NewNRGBA(image.Rect(0, 0, 36, 32))
	hidden := image.NewNRGBA(opaque.Bounds())
	for y := 0; y < 32; y++ {
		for x := 0; x < 36; x++ {
			v := uint8(x * 7)
			opaque.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
			hidden.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 0})
		}
	}

	want := FromImage(opaque, 8)
	assert.Equal(t, strings.Repeat("f", 16), want.String())
	assert.Equal(t, want, FromImage(hidden, 8))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, hidden))
	fp, err := Hash(buf.Bytes(), 8)
	require.NoError(t, err)
	assert.Equal(t, want, fp)
}

func TestLuminance_Weights(t *testing.T) {
	tests := []struct {
		c    color.Color
		want uint8
	}{
		{color.NRGBA{R: 255, A: 255}, 76},
		{color.NRGBA{G: 255, A: 255}, 150},
		{color.NRGBA{B: 255, A: 255}, 29},
		{color.NRGBA{R: 255, G: 255, B: 255, A: 255}, 255},
		{color.RGBA{R: 128, G: 128, B: 128, A: 255}, 128},
		{color.NRGBA64{R: 0xffff, G: 0xffff, B: 0xffff}, 255},
	}
	for _, tt := range tests {
		r, g, b := straightRGB(tt.c)
		assert.Equal(t, tt.want, luma(r, g, b), "%#v", tt.c)
	}
}
