// Package signature extracts a fixed-size perceptual descriptor from a
// decoded thumbnail: average Luv color plus Daubechies wavelet sub-band
// energies over non-overlapping 4x4 blocks, per spec.md §4.2.
package signature

import (
	"fmt"
	"math"
	"math/rand"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/imgdup/pkg/raster"
)

var log = logging.Logger("signature")

// Len is the number of scalar features in a Vector: L, u, v, LH, HL, HH.
const Len = 6

// Vector is the componentwise mean of per-block features across an image.
type Vector [Len]byte

// Region is a reserved extension point (spec.md §9 open question): region
// descriptors are never emitted by this reduction, so Region is always
// empty. A later refinement may populate it; compute_image_signature's
// region count is unconditionally 0.
type Region [16]byte

// Signature is a computed image descriptor: the feature vector plus its
// (always-empty) region list.
type Signature struct {
	Vec     Vector
	Regions []Region
}

type errorType string

func (e errorType) Error() string { return string(e) }

// ErrTooSmall is returned when an image has fewer than 4 columns or rows.
const ErrTooSmall = errorType("signature: image smaller than one 4x4 block")

type block struct {
	l, u, v    uint32
	lh, hl, hh uint32
}

// Compute extracts a Signature from img, per spec.md §4.2. It fails with
// ErrTooSmall if img has fewer than 4 columns or rows.
func Compute(img *raster.Raster) (Signature, error) {
	if img.Cols < 4 || img.Rows < 4 {
		return Signature{}, ErrTooSmall
	}
	w := img.Cols / 4
	h := img.Rows / 4
	blocks := make([]block, 0, w*h)

	for by := uint32(0); by < h; by++ {
		for bx := uint32(0); bx < w; bx++ {
			blocks = append(blocks, computeBlock(img, bx*4, by*4))
		}
	}

	var lSum, uSum, vSum, lhSum, hlSum, hhSum uint64
	for _, b := range blocks {
		lSum += uint64(b.l)
		uSum += uint64(b.u)
		vSum += uint64(b.v)
		lhSum += uint64(b.lh)
		hlSum += uint64(b.hl)
		hhSum += uint64(b.hh)
	}
	n := uint64(len(blocks))
	return Signature{
		Vec: Vector{
			byte(lSum / n), byte(uSum / n), byte(vSum / n),
			byte(lhSum / n), byte(hlSum / n), byte(hhSum / n),
		},
	}, nil
}

func computeBlock(img *raster.Raster, x0, y0 uint32) block {
	var t [16]int32
	var lSum, uSum, vSum uint32
	i := 0
	for y := uint32(0); y < 4; y++ {
		for x := uint32(0); x < 4; x++ {
			r, g, b := img.Pixel(x0+x, y0+y)
			l, u, v := defaultGrid.convert(r, g, b)
			t[i] = int32(l)
			lSum += uint32(l)
			uSum += uint32(u)
			vSum += uint32(v)
			i++
		}
	}

	daubechies4Block(&t)

	lh := energy(t[8], t[9], t[12], t[13])
	hl := energy(t[2], t[3], t[6], t[7])
	hh := energy(t[10], t[11], t[14], t[15])

	return block{
		l: lSum >> 4, u: uSum >> 4, v: vSum >> 4,
		lh: lh, hl: hl, hh: hh,
	}
}

func energy(a, b, c, d int32) uint32 {
	sum := float64(a)*float64(a) + float64(b)*float64(b) + float64(c)*float64(c) + float64(d)*float64(d)
	v := math.Sqrt(sum) / 16
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint32(v)
}

// VerifyLuvGrid is the startup self-test required by spec.md §4.2.1: the
// maximum squared error between the approximation grid and the exact
// reference conversion, sampled over a large number of random pixels, must
// not exceed 12.
func VerifyLuvGrid(rnd *rand.Rand) error {
	const samples = 100_000
	const maxSquaredError = 12

	var worst int
	for i := 0; i < samples; i++ {
		r := uint8(rnd.Intn(256))
		g := uint8(rnd.Intn(256))
		b := uint8(rnd.Intn(256))

		wantL, wantU, wantV := srgbToLuvExact(r, g, b)
		gotL, gotU, gotV := defaultGrid.convert(r, g, b)

		se := sq(int(wantL)-int(gotL)) + sq(int(wantU)-int(gotU)) + sq(int(wantV)-int(gotV))
		if se > worst {
			worst = se
		}
	}
	if worst > maxSquaredError {
		return fmt.Errorf("signature: luv grid accuracy self-test failed: max squared error %d exceeds %d", worst, maxSquaredError)
	}
	log.Infof("luv grid self-test passed: max squared error %d over %d samples", worst, samples)
	return nil
}

func sq(v int) int { return v * v }
