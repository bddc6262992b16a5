package capture

// fracBits is the precision of the 16.16 fixed-point source coordinates.
const fracBits = 16

const (
	fracOne  = 1 << fracBits
	fracMask = fracOne - 1
	// roundHalf is 0.5 in the 32-bit product of two fractional weights.
	roundHalf = 1 << (2*fracBits - 1)
)

// Resize scales packed RGB src (sw x sh) into dst (dw x dh) with bilinear
// interpolation. Each destination pixel maps to source coordinate
// (x*sw/dw, y*sh/dh); the right and bottom neighbours are clamped to the
// source edge. Weights are 16.16 fixed point so a constant field and the
// identity scale reproduce their input exactly. dst is written in place and
// nothing is allocated.
func Resize(dst []byte, dw, dh int, src []byte, sw, sh int) error {
	if dw <= 0 || dh <= 0 || sw <= 0 || sh <= 0 {
		return ErrInvalidTarget
	}
	if len(dst) < dw*dh*3 || len(src) < sw*sh*3 {
		return ErrBufferSize
	}

	srcStride := sw * 3
	for y := 0; y < dh; y++ {
		fy := int64(y) * int64(sh) << fracBits / int64(dh)
		y0 := int(fy >> fracBits)
		y1 := min(y0+1, sh-1)
		wy := uint64(fy & fracMask)

		row0 := src[y0*srcStride : y0*srcStride+srcStride]
		row1 := src[y1*srcStride : y1*srcStride+srcStride]
		out := dst[y*dw*3 : (y+1)*dw*3]

		for x := 0; x < dw; x++ {
			fx := int64(x) * int64(sw) << fracBits / int64(dw)
			x0 := int(fx>>fracBits) * 3
			x1 := min(int(fx>>fracBits)+1, sw-1) * 3
			wx := uint64(fx & fracMask)

			o := x * 3
			for c := 0; c < 3; c++ {
				top := uint64(row0[x0+c])*(fracOne-wx) + uint64(row0[x1+c])*wx
				bottom := uint64(row1[x0+c])*(fracOne-wx) + uint64(row1[x1+c])*wx
				v := top*(fracOne-wy) + bottom*wy
				out[o+c] = byte((v + roundHalf) >> (2 * fracBits))
			}
		}
	}
	return nil
}
