package hashing

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientPNG(t *testing.T, w, h int, rising bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := x * 255 / (w - 1)
			if !rising {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uniformPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHash_RisingGradientSetsEveryBit(t *testing.T) {
	fp, err := Hash(gradientPNG(t, 256, 64, true), 8)
	require.NoError(t, err)
	assert.Equal(t, 8, fp.Size())
	assert.Equal(t, strings.Repeat("f", 16), fp.String())
}

func TestHash_FallingGradientClearsEveryBit(t *testing.T) {
	fp, err := Hash(gradientPNG(t, 256, 64, false), 8)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("0", 16), fp.String())
}

func TestHash_UniformImageIsZero(t *testing.T) {
	fp, err := Hash(uniformPNG(t, 40, 30, color.RGBA{R: 200, G: 10, B: 10, A: 255}), 8)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("0", 16), fp.String())
}

func TestHash_SameImageDifferentScaleIsClose(t *testing.T) {
	a, err := Hash(gradientPNG(t, 256, 64, true), 8)
	require.NoError(t, err)
	b, err := Hash(gradientPNG(t, 128, 32, true), 8)
	require.NoError(t, err)

	d, err := Distance(a, b)
	require.NoError(t, err)
	assert.LessOrEqual(t, d, 2)
}

func TestHash_HexWidthFollowsSize(t *testing.T) {
	data := gradientPNG(t, 256, 64, true)
	for _, size := range []int{4, 8, 16} {
		fp, err := Hash(data, size)
		require.NoError(t, err)
		assert.Len(t, fp.String(), size*size/4, "size %d", size)
	}
}

func TestHash_Undecodable(t *testing.T) {
	_, err := Hash([]byte("definitely not an image"), 8)
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestHash_InvalidSize(t *testing.T) {
	data := gradientPNG(t, 16, 16, true)
	_, err := Hash(data, 1)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = Hash(data, MaxSize+1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestParseFingerprint_RoundTrip(t *testing.T) {
	cases := []string{
		"0000000000000000",
		"ffffffffffffffff",
		"8f373714acfcf4d0",
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	}
	for _, hex := range cases {
		fp, err := ParseFingerprint(hex)
		require.NoError(t, err, hex)
		assert.Equal(t, hex, fp.String())
	}
}

func TestParseFingerprint_SizeFromLength(t *testing.T) {
	fp, err := ParseFingerprint("8f373714acfcf4d0")
	require.NoError(t, err)
	assert.Equal(t, 8, fp.Size())

	fp, err = ParseFingerprint(strings.Repeat("a", 64))
	require.NoError(t, err)
	assert.Equal(t, 16, fp.Size())
}

func TestParseFingerprint_Invalid(t *testing.T) {
	for _, s := range []string{"", "  ", "zz", "-1", "1ffff"} {
		_, err := ParseFingerprint(s)
		assert.ErrorIs(t, err, ErrInvalidHex, "%q", s)
	}
}

func TestDistance(t *testing.T) {
	a, _ := ParseFingerprint("0000000000000000")
	b, _ := ParseFingerprint("000000000000000f")
	c, _ := ParseFingerprint("ffffffffffffffff")

	d, err := Distance(a, b)
	require.NoError(t, err)
	assert.Equal(t, 4, d)

	d, err = Distance(a, c)
	require.NoError(t, err)
	assert.Equal(t, 64, d)

	d, err = Distance(b, b)
	require.NoError(t, err)
	assert.Zero(t, d)
	assert.True(t, b.Equal(b))
	assert.False(t, a.Equal(b))
}

func TestDistance_SizeMismatch(t *testing.T) {
	a, _ := ParseFingerprint("0000000000000000")
	b, _ := ParseFingerprint(strings.Repeat("0", 64))
	_, err := Distance(a, b)
	assert.ErrorIs(t, err, ErrSizeMismatch)
	assert.False(t, a.Equal(b))
}
