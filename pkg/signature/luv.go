package signature

import "math"

// Grid and interpolation resolution per spec.md §4.2.1, grounded on
// original_source/images/color.h's COLOR_CONV_SIZE/COLOR_CONV_OFS.
const (
	grid = 32 // 5 bits per channel
	ofs  = 8  // 3 bits per fractional component
)

// Reference white and the sRGB->XYZ matrix, taken verbatim from
// original_source/images/color.h.
const (
	refWhiteX = 0.96422
	refWhiteY = 1.0
	refWhiteZ = 0.82521

	srgbXyzXR = 0.412424
	srgbXyzXG = 0.357579
	srgbXyzXB = 0.180464
	srgbXyzYR = 0.212656
	srgbXyzYG = 0.715158
	srgbXyzYB = 0.072186
	srgbXyzZR = 0.019332
	srgbXyzZG = 0.119193
	srgbXyzZB = 0.950444
)

// srgbToXYZSlow is the exact (non-approximated) sRGB->XYZ conversion used to
// seed the grid corners; color.h declares this routine but does not define
// it in the retrieved source, so the gamma decode follows the standard IEC
// 61966-2-1 sRGB transfer function.
func srgbToXYZSlow(c [3]float64) [3]float64 {
	var lin [3]float64
	for i, v := range c {
		v /= 255
		if v <= 0.04045 {
			lin[i] = v / 12.92
		} else {
			lin[i] = math.Pow((v+0.055)/1.055, 2.4)
		}
	}
	r, g, b := lin[0], lin[1], lin[2]
	return [3]float64{
		srgbXyzXR*r + srgbXyzXG*g + srgbXyzXB*b,
		srgbXyzYR*r + srgbXyzYG*g + srgbXyzYB*b,
		srgbXyzZR*r + srgbXyzZG*g + srgbXyzZB*b,
	}
}

// xyzToLuvSlow converts a CIE XYZ triple to CIE L*u*v*, scaled the way the
// signature extractor wants: L in 0..255, u/v centered at 128 with scale
// 2.55/4 (spec.md §4.2.1).
func xyzToLuvSlow(xyz [3]float64) [3]float64 {
	x, y, z := xyz[0], xyz[1], xyz[2]
	var l float64
	if y <= (6.0/29.0)*(6.0/29.0)*(6.0/29.0) {
		l = (29.0 / 3.0) * (29.0 / 3.0) * (29.0 / 3.0) * y
	} else {
		l = 116*math.Cbrt(y) - 16
	}

	denom := x + 15*y + 3*z
	var uPrime, vPrime float64
	if denom > 0 {
		uPrime = 4 * x / denom
		vPrime = 9 * y / denom
	}
	wDenom := refWhiteX + 15*refWhiteY + 3*refWhiteZ
	uPrimeW := 4 * refWhiteX / wDenom
	vPrimeW := 9 * refWhiteY / wDenom

	u := 13 * l * (uPrime - uPrimeW)
	v := 13 * l * (vPrime - vPrimeW)

	lByte := l * 2.55
	uByte := 128 + u*(2.55/4)
	vByte := 128 + v*(2.55/4)
	return [3]float64{lByte, uByte, vByte}
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}

// srgbToLuvExact is the reference (unapproximated) pixel conversion used
// both to seed grid corners and, in tests, to bound the grid's error.
func srgbToLuvExact(r, g, b uint8) (l, u, v byte) {
	xyz := srgbToXYZSlow([3]float64{float64(r), float64(g), float64(b)})
	luv := xyzToLuvSlow(xyz)
	return clampByte(luv[0]), clampByte(luv[1]), clampByte(luv[2])
}

// luvGrid is the precomputed grid³ × 3-byte approximation table plus its
// tetrahedral interpolation weights, built once per process.
type luvGrid struct {
	nodes  [grid * grid * grid][3]byte
	interp [ofs * ofs * ofs]interpNode
}

// interpNode holds the 4 corner offsets (relative to the base grid node, in
// flattened grid-index units) and the 4 barycentric weights (scaled by 256)
// of the tetrahedron containing a given sub-cube fractional position.
type interpNode struct {
	offset [4]int32
	weight [4]uint16
}

var defaultGrid = buildLuvGrid()

func buildLuvGrid() *luvGrid {
	g := &luvGrid{}
	for i := 0; i < grid; i++ {
		for j := 0; j < grid; j++ {
			for k := 0; k < grid; k++ {
				r := byte((i*255 + (grid-1)/2) / (grid - 1))
				gg := byte((j*255 + (grid-1)/2) / (grid - 1))
				b := byte((k*255 + (grid-1)/2) / (grid - 1))
				l, u, v := srgbToLuvExact(r, gg, b)
				g.nodes[flatGridIndex(i, j, k)] = [3]byte{l, u, v}
			}
		}
	}
	for i := 0; i < ofs; i++ {
		for j := 0; j < ofs; j++ {
			for k := 0; k < ofs; k++ {
				g.interp[flatInterpIndex(i, j, k)] = tetrahedronFor(
					float64(i)/ofs, float64(j)/ofs, float64(k)/ofs)
			}
		}
	}
	return g
}

func flatGridIndex(i, j, k int) int32 {
	return int32(i + j*grid + k*grid*grid)
}

func flatInterpIndex(i, j, k int) int {
	return i + j*ofs + k*ofs*ofs
}

// gridStride gives the flattened-offset delta of moving +1 along each axis,
// used to express tetrahedron corners as offsets from the base node.
var gridStride = [3]int32{1, grid, grid * grid}

// tetrahedronFor computes the 5-tetrahedra decomposition (spec.md §4.2.1) of
// the unit cube at fractional position (p0,p1,p2), returning the 4 corner
// offsets and barycentric weights (scaled to 0..256) of whichever tetrahedron
// contains the point.
func tetrahedronFor(p0, p1, p2 float64) interpNode {
	corner := func(dx, dy, dz int32) int32 {
		return dx*gridStride[0] + dy*gridStride[1] + dz*gridStride[2]
	}
	scale := func(w float64) uint16 {
		s := w * 256
		if s < 0 {
			s = 0
		}
		if s > 256 {
			s = 256
		}
		return uint16(s + 0.5)
	}

	switch {
	case p0+p1+p2 <= 1:
		// Tetra A: corners (0,0,0),(1,0,0),(0,1,0),(0,0,1).
		return interpNode{
			offset: [4]int32{corner(0, 0, 0), corner(1, 0, 0), corner(0, 1, 0), corner(0, 0, 1)},
			weight: [4]uint16{scale(1 - p0 - p1 - p2), scale(p0), scale(p1), scale(p2)},
		}
	case 1+p0 <= p1+p2:
		// Tetra B: corners (0,1,1),(1,1,1),(0,0,1),(0,1,0).
		return interpNode{
			offset: [4]int32{corner(0, 1, 1), corner(1, 1, 1), corner(0, 0, 1), corner(0, 1, 0)},
			weight: [4]uint16{scale(p1 + p2 - p0 - 1), scale(p0), scale(1 - p1), scale(1 - p2)},
		}
	case 1+p1 <= p0+p2:
		// Tetra C: corners (1,0,1),(0,0,1),(1,1,1),(1,0,0).
		return interpNode{
			offset: [4]int32{corner(1, 0, 1), corner(0, 0, 1), corner(1, 1, 1), corner(1, 0, 0)},
			weight: [4]uint16{scale(p0 + p2 - p1 - 1), scale(1 - p0), scale(p1), scale(1 - p2)},
		}
	case 1+p2 <= p0+p1:
		// Tetra D: corners (1,1,0),(0,1,0),(1,0,0),(1,1,1).
		return interpNode{
			offset: [4]int32{corner(1, 1, 0), corner(0, 1, 0), corner(1, 0, 0), corner(1, 1, 1)},
			weight: [4]uint16{scale(p0 + p1 - p2 - 1), scale(1 - p0), scale(1 - p1), scale(p2)},
		}
	default:
		// Central tetra E: corners (1,0,0),(0,1,0),(0,0,1),(1,1,1).
		q3 := (p0 + p1 + p2 - 1) / 2
		return interpNode{
			offset: [4]int32{corner(1, 0, 0), corner(0, 1, 0), corner(0, 0, 1), corner(1, 1, 1)},
			weight: [4]uint16{scale(p0 - q3), scale(p1 - q3), scale(p2 - q3), scale(q3)},
		}
	}
}

// convert approximates the sRGB->Luv conversion of one pixel via the
// precomputed grid and interpolation table.
func (g *luvGrid) convert(r, gg, b uint8) (l, u, v byte) {
	// Map each 8-bit channel into a grid cell index and an ofs-resolution
	// fractional position within that cell.
	idx := func(c uint8) (cell int, frac int) {
		scaled := int(c) * (grid - 1) * ofs
		unit := scaled / 255
		return unit / ofs, unit % ofs
	}
	ri, rf := idx(r)
	gi, gf := idx(gg)
	bi, bf := idx(b)
	if ri >= grid-1 {
		ri = grid - 2
		rf = ofs - 1
	}
	if gi >= grid-1 {
		gi = grid - 2
		gf = ofs - 1
	}
	if bi >= grid-1 {
		bi = grid - 2
		bf = ofs - 1
	}

	base := flatGridIndex(ri, gi, bi)
	n := g.interp[flatInterpIndex(rf, gf, bf)]

	var acc [3]int32
	for c := 0; c < 4; c++ {
		node := g.nodes[base+n.offset[c]]
		w := int32(n.weight[c])
		acc[0] += int32(node[0]) * w
		acc[1] += int32(node[1]) * w
		acc[2] += int32(node[2]) * w
	}
	return byte(clampInt32(acc[0] >> 8)), byte(clampInt32(acc[1] >> 8)), byte(clampInt32(acc[2] >> 8))
}

func clampInt32(v int32) int32 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
