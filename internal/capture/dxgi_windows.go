//go:build windows

package capture

import (
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	d3d11DLL = windows.NewLazySystemDLL("d3d11.dll")

	procD3D11CreateDevice = d3d11DLL.NewProc("D3D11CreateDevice")
)

// D3D11/DXGI constants
const (
	d3dDriverTypeHardware = 1
	d3dFeatureLevel11_0   = 0xb000
	d3d11SDKVersion       = 7

	d3d11UsageStaging  = 3
	d3d11CPUAccessRead = 0x20000
	d3d11MapRead       = 1
	dxgiFormatB8G8R8A8 = 87

	dxgiModeRotation90  = 2
	dxgiModeRotation270 = 4

	dxgiErrWaitTimeout   = 0x887A0027
	dxgiErrAccessLost    = 0x887A0026
	dxgiErrInvalidCall   = 0x887A0001
	dxgiErrDeviceRemoved = 0x887A0005
	dxgiErrDeviceReset   = 0x887A0007

	// DXGI/D3D11 COM vtable indices
	dxgiDeviceGetAdapter       = 7  // IDXGIDevice (after IUnknown+IDXGIObject)
	dxgiAdapterEnumOutputs     = 7  // IDXGIAdapter
	dxgiOutput1DuplicateOutput = 22 // IDXGIOutput1
	dxgiDuplGetDesc            = 7  // IDXGIOutputDuplication
	dxgiDuplAcquireNextFrame   = 8  // IDXGIOutputDuplication
	dxgiDuplReleaseFrame       = 14 // IDXGIOutputDuplication
	d3d11DeviceCreateTexture2D = 5  // ID3D11Device
	d3d11CtxMap                = 14 // ID3D11DeviceContext
	d3d11CtxUnmap              = 15 // ID3D11DeviceContext
	d3d11CtxCopyResource       = 47 // ID3D11DeviceContext
)

// d3d11Texture2DDesc matches D3D11_TEXTURE2D_DESC (44 bytes).
type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32 // DXGI_SAMPLE_DESC.Count
	SampleQuality  uint32 // DXGI_SAMPLE_DESC.Quality
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

// d3d11MappedSubresource matches D3D11_MAPPED_SUBRESOURCE.
type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

type dxgiRational struct {
	Numerator   uint32
	Denominator uint32
}

// dxgiModeDesc matches DXGI_MODE_DESC.
type dxgiModeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      dxgiRational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

// dxgiOutDuplDesc matches DXGI_OUTDUPL_DESC.
type dxgiOutDuplDesc struct {
	ModeDesc                   dxgiModeDesc
	Rotation                   uint32
	DesktopImageInSystemMemory int32 // BOOL
}

// dxgiOutDuplFrameInfo matches DXGI_OUTDUPL_FRAME_INFO.
type dxgiOutDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPositionX          int32
	PointerPositionY          int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

// duplicationAcquirer captures the primary output with DXGI Desktop
// Duplication. All COM objects form one bundle released together by Close.
type duplicationAcquirer struct {
	size    Size
	timeout uint32 // milliseconds

	device      uintptr // ID3D11Device
	context     uintptr // ID3D11DeviceContext
	duplication uintptr // IDXGIOutputDuplication
	staging     uintptr // ID3D11Texture2D (staging, CPU-readable)
}

// newDuplicationAcquirer creates the D3D11 device, duplicates output 0 and
// allocates the staging texture. Any failure releases whatever was created.
func newDuplicationAcquirer(size Size, timeout time.Duration) (Acquirer, error) {
	a := &duplicationAcquirer{size: size, timeout: uint32(timeout.Milliseconds())}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *duplicationAcquirer) init() error {
	featureLevel := uint32(d3dFeatureLevel11_0)
	var actualLevel uint32
	hr, _, _ := procD3D11CreateDevice.Call(
		0,                                      // pAdapter (NULL = default)
		uintptr(d3dDriverTypeHardware),         // DriverType
		0,                                      // Software
		0,                                      // Flags
		uintptr(unsafe.Pointer(&featureLevel)), // pFeatureLevels
		1,                                      // FeatureLevels count
		uintptr(d3d11SDKVersion),               // SDKVersion
		uintptr(unsafe.Pointer(&a.device)),     // ppDevice
		uintptr(unsafe.Pointer(&actualLevel)),  // pFeatureLevel
		uintptr(unsafe.Pointer(&a.context)),    // ppImmediateContext
	)
	if int32(hr) < 0 {
		return fmt.Errorf("D3D11CreateDevice failed: 0x%08X", uint32(hr))
	}

	dxgiDevice, err := comQuery(a.device, iidIDXGIDevice)
	if err != nil {
		return err
	}
	defer comRelease(dxgiDevice)

	var adapter uintptr
	if _, err := comCall(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		return fmt.Errorf("IDXGIDevice::GetAdapter: %w", err)
	}
	defer comRelease(adapter)

	var output uintptr
	if _, err := comCall(adapter, dxgiAdapterEnumOutputs, 0, uintptr(unsafe.Pointer(&output))); err != nil {
		return fmt.Errorf("IDXGIAdapter::EnumOutputs: %w", err)
	}
	output1, err := comQuery(output, iidIDXGIOutput1)
	comRelease(output)
	if err != nil {
		return err
	}
	defer comRelease(output1)

	if _, err := comCall(output1, dxgiOutput1DuplicateOutput, a.device, uintptr(unsafe.Pointer(&a.duplication))); err != nil {
		return fmt.Errorf("IDXGIOutput1::DuplicateOutput: %w", err)
	}

	var desc dxgiOutDuplDesc
	hr, _, _ = syscall.SyscallN(comVtblFn(a.duplication, dxgiDuplGetDesc),
		a.duplication,
		uintptr(unsafe.Pointer(&desc)),
	)
	if int32(hr) < 0 {
		return fmt.Errorf("IDXGIOutputDuplication::GetDesc failed: 0x%08X", uint32(hr))
	}
	// Rotated panels deliver textures in native orientation; GDI handles them.
	if desc.Rotation == dxgiModeRotation90 || desc.Rotation == dxgiModeRotation270 {
		return fmt.Errorf("duplicated output is rotated (%d)", desc.Rotation)
	}
	if int(desc.ModeDesc.Width) != a.size.Width || int(desc.ModeDesc.Height) != a.size.Height {
		return fmt.Errorf("duplicated output is %dx%d, screen is %dx%d",
			desc.ModeDesc.Width, desc.ModeDesc.Height, a.size.Width, a.size.Height)
	}

	stagingDesc := d3d11Texture2DDesc{
		Width:          uint32(a.size.Width),
		Height:         uint32(a.size.Height),
		MipLevels:      1,
		ArraySize:      1,
		Format:         dxgiFormatB8G8R8A8,
		SampleCount:    1,
		Usage:          d3d11UsageStaging,
		CPUAccessFlags: d3d11CPUAccessRead,
	}
	if _, err := comCall(a.device, d3d11DeviceCreateTexture2D,
		uintptr(unsafe.Pointer(&stagingDesc)),
		0, // pInitialData
		uintptr(unsafe.Pointer(&a.staging)),
	); err != nil {
		return fmt.Errorf("CreateTexture2D staging: %w", err)
	}
	return nil
}

func (a *duplicationAcquirer) Method() Method {
	return MethodDuplication
}

// AcquireInto waits up to the configured timeout for the next desktop frame.
func (a *duplicationAcquirer) AcquireInto(dst []byte) Outcome {
	if a.duplication == 0 {
		return OutcomeLost
	}

	var info dxgiOutDuplFrameInfo
	var resource uintptr
	hr, _, _ := syscall.SyscallN(comVtblFn(a.duplication, dxgiDuplAcquireNextFrame),
		a.duplication,
		uintptr(a.timeout),
		uintptr(unsafe.Pointer(&info)),
		uintptr(unsafe.Pointer(&resource)),
	)
	switch uint32(hr) {
	case dxgiErrWaitTimeout:
		return OutcomeUnchanged
	case dxgiErrAccessLost, dxgiErrInvalidCall, dxgiErrDeviceRemoved, dxgiErrDeviceReset:
		log.Info("DXGI duplication invalidated", "hresult", fmt.Sprintf("0x%08X", uint32(hr)))
		return OutcomeLost
	}
	if int32(hr) < 0 {
		log.Debug("AcquireNextFrame failed", "hresult", fmt.Sprintf("0x%08X", uint32(hr)))
		return OutcomeFailed
	}

	// Every successful acquire is paired with exactly one ReleaseFrame.
	defer syscall.SyscallN(comVtblFn(a.duplication, dxgiDuplReleaseFrame), a.duplication)

	if info.AccumulatedFrames == 0 {
		// Pointer-only update; the desktop image did not change.
		comRelease(resource)
		return OutcomeUnchanged
	}

	texture, err := comQuery(resource, iidID3D11Texture2D)
	comRelease(resource)
	if err != nil {
		log.Debug("desktop resource is not a texture", "error", err)
		return OutcomeFailed
	}

	// CopyResource is void; errors surface through a failed Map.
	syscall.SyscallN(comVtblFn(a.context, d3d11CtxCopyResource), a.context, a.staging, texture)
	comRelease(texture)

	var mapped d3d11MappedSubresource
	hr, _, _ = syscall.SyscallN(comVtblFn(a.context, d3d11CtxMap),
		a.context,
		a.staging,
		0, // Subresource
		d3d11MapRead,
		0, // Flags
		uintptr(unsafe.Pointer(&mapped)),
	)
	if int32(hr) < 0 {
		log.Debug("Map staging texture failed", "hresult", fmt.Sprintf("0x%08X", uint32(hr)))
		return OutcomeFailed
	}

	w, h := a.size.Width, a.size.Height
	pitch := int(mapped.RowPitch)
	src := unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), (h-1)*pitch+w*4)
	ok := bgraToRGB(dst, src, w, h, pitch)

	syscall.SyscallN(comVtblFn(a.context, d3d11CtxUnmap), a.context, a.staging, 0)

	if !ok {
		return OutcomeFailed
	}
	return OutcomeOK
}

// Close releases the staging texture, duplication, context and device in
// reverse creation order.
func (a *duplicationAcquirer) Close() error {
	comRelease(a.staging)
	comRelease(a.duplication)
	comRelease(a.context)
	comRelease(a.device)
	a.staging, a.duplication, a.context, a.device = 0, 0, 0, 0
	return nil
}

var _ Acquirer = (*duplicationAcquirer)(nil)
