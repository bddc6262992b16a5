//go:build windows

package capture

import (
	"errors"
	"unsafe"
)

const (
	srcCopy      = 0x00CC0020
	biRGB        = 0
	dibRGBColors = 0
)

type bitmapInfoHeader struct {
	BiSize          uint32
	BiWidth         int32
	BiHeight        int32
	BiPlanes        uint16
	BiBitCount      uint16
	BiCompression   uint32
	BiSizeImage     uint32
	BiXPelsPerMeter int32
	BiYPelsPerMeter int32
	BiClrUsed       uint32
	BiClrImportant  uint32
}

type bitmapInfo struct {
	BmiHeader bitmapInfoHeader
	BmiColors [1]uint32
}

// gdiAcquirer copies the screen DC into a memory bitmap and reads it back as
// a 24-bit top-down DIB. Handles are created once and reused every cycle.
type gdiAcquirer struct {
	size Size

	screenDC  uintptr
	memDC     uintptr
	hBitmap   uintptr
	oldBitmap uintptr
	bi        bitmapInfo

	// Padded DIB rows; see dibStride.
	pixBuf []byte
}

func newGDIAcquirer(size Size) (Acquirer, error) {
	a := &gdiAcquirer{size: size}

	hdc, _, _ := procGetDC.Call(0)
	if hdc == 0 {
		return nil, errors.New("GetDC failed")
	}
	a.screenDC = hdc

	memDC, _, _ := procCreateCompatibleDC.Call(hdc)
	if memDC == 0 {
		a.Close()
		return nil, errors.New("CreateCompatibleDC failed")
	}
	a.memDC = memDC

	hBitmap, _, _ := procCreateCompatibleBitmap.Call(hdc, uintptr(size.Width), uintptr(size.Height))
	if hBitmap == 0 {
		a.Close()
		return nil, errors.New("CreateCompatibleBitmap failed")
	}
	a.hBitmap = hBitmap

	oldBitmap, _, _ := procSelectObject.Call(memDC, hBitmap)
	if oldBitmap == 0 {
		a.Close()
		return nil, errors.New("SelectObject failed")
	}
	a.oldBitmap = oldBitmap

	a.pixBuf = make([]byte, dibStride(size.Width)*size.Height)
	a.bi = bitmapInfo{
		BmiHeader: bitmapInfoHeader{
			BiSize:        uint32(unsafe.Sizeof(bitmapInfoHeader{})),
			BiWidth:       int32(size.Width),
			BiHeight:      -int32(size.Height), // negative = top-down
			BiPlanes:      1,
			BiBitCount:    24,
			BiCompression: biRGB,
		},
	}
	return a, nil
}

func (a *gdiAcquirer) Method() Method {
	return MethodFallback
}

// AcquireInto always produces a full frame; GDI has no notion of "unchanged".
func (a *gdiAcquirer) AcquireInto(dst []byte) Outcome {
	if a.memDC == 0 {
		return OutcomeLost
	}
	w, h := a.size.Width, a.size.Height

	ret, _, _ := procBitBlt.Call(a.memDC, 0, 0, uintptr(w), uintptr(h), a.screenDC, 0, 0, srcCopy)
	if ret == 0 {
		return OutcomeFailed
	}

	ret, _, _ = procGetDIBits.Call(
		a.memDC,
		a.hBitmap,
		0,
		uintptr(h),
		uintptr(unsafe.Pointer(&a.pixBuf[0])),
		uintptr(unsafe.Pointer(&a.bi)),
		dibRGBColors,
	)
	if ret == 0 {
		return OutcomeFailed
	}

	if !bgrToRGB(dst, a.pixBuf, w, h) {
		return OutcomeFailed
	}
	return OutcomeOK
}

// Close restores the memory DC's original bitmap, then frees the bitmap and
// both DCs.
func (a *gdiAcquirer) Close() error {
	if a.oldBitmap != 0 && a.memDC != 0 {
		procSelectObject.Call(a.memDC, a.oldBitmap)
	}
	if a.hBitmap != 0 {
		procDeleteObject.Call(a.hBitmap)
	}
	if a.memDC != 0 {
		procDeleteDC.Call(a.memDC)
	}
	if a.screenDC != 0 {
		procReleaseDC.Call(0, a.screenDC)
	}
	a.screenDC, a.memDC, a.hBitmap, a.oldBitmap = 0, 0, 0, 0
	return nil
}

var _ Acquirer = (*gdiAcquirer)(nil)
