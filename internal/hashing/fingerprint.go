package hashing

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"strings"
)

var (
	ErrUndecodable  = errors.New("image cannot be decoded")
	ErrInvalidSize  = errors.New("invalid hash size")
	ErrInvalidHex   = errors.New("invalid fingerprint hex")
	ErrSizeMismatch = errors.New("fingerprints have different sizes")
)

// Fingerprint is a square bit matrix of Size×Size bits stored row-major.
// Bit i lives in words[i/64] at position i%64.
type Fingerprint struct {
	size  int
	words []uint64
}

func newFingerprint(size int) Fingerprint {
	n := size * size
	return Fingerprint{size: size, words: make([]uint64, (n+63)/64)}
}

func (f Fingerprint) Size() int { return f.size }

func (f Fingerprint) Bits() int { return f.size * f.size }

func (f Fingerprint) IsZero() bool { return f.size == 0 }

func (f Fingerprint) bit(i int) bool {
	return f.words[i/64]&(1<<(uint(i)%64)) != 0
}

func (f *Fingerprint) set(i int) {
	f.words[i/64] |= 1 << (uint(i) % 64)
}

// String renders the fingerprint in imagehash's hex layout: the bit
// matrix read row-major as one big-endian integer, printed as zero-padded hex.
func (f Fingerprint) String() string {
	n := f.Bits()
	if n == 0 {
		return ""
	}
	v := new(big.Int)
	for i := 0; i < n; i++ {
		if f.bit(i) {
			v.SetBit(v, n-1-i, 1)
		}
	}
	width := (n + 3) / 4
	s := v.Text(16)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}

// ParseFingerprint decodes a hex string written by String or by imagehash.
// The side length is floor(sqrt(4*len(hex))).
func ParseFingerprint(s string) (Fingerprint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Fingerprint{}, fmt.Errorf("%w: empty", ErrInvalidHex)
	}
	size := int(math.Sqrt(float64(len(s) * 4)))
	if size < 2 {
		return Fingerprint{}, fmt.Errorf("%w: %q too short", ErrInvalidHex, s)
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok || v.Sign() < 0 {
		return Fingerprint{}, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	n := size * size
	if v.BitLen() > n {
		return Fingerprint{}, fmt.Errorf("%w: %q does not fit %d bits", ErrInvalidHex, s, n)
	}
	fp := newFingerprint(size)
	for i := 0; i < n; i++ {
		if v.Bit(n-1-i) == 1 {
			fp.set(i)
		}
	}
	return fp, nil
}

// Distance is the Hamming distance between two fingerprints of the same size.
func Distance(a, b Fingerprint) (int, error) {
	if a.size != b.size {
		return 0, fmt.Errorf("%w: %d vs %d", ErrSizeMismatch, a.size, b.size)
	}
	d := 0
	for i := range a.words {
		d += bits.OnesCount64(a.words[i] ^ b.words[i])
	}
	return d, nil
}

// Equal reports bit-for-bit equality.
func (f Fingerprint) Equal(o Fingerprint) bool {
	d, err := Distance(f, o)
	return err == nil && d == 0
}
