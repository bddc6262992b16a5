//go:build windows

package capture

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
)

// COM vtable calling infrastructure for D3D11/DXGI.
// IUnknown: 0=QueryInterface, 1=AddRef, 2=Release
const (
	vtblQueryInterface = 0
	vtblRelease        = 2
)

// COM interface IDs used by the duplication path.
var (
	iidIDXGIDevice     = ole.NewGUID("{54ec77fa-1377-44e6-8c32-88fd5f44c84c}")
	iidIDXGIOutput1    = ole.NewGUID("{00cddea8-939b-4b83-a340-a685226666cc}")
	iidID3D11Texture2D = ole.NewGUID("{6f15aaf2-d208-4e89-9ab4-489535d34f9c}")
)

// comVtblFn resolves a COM vtable function pointer by index.
func comVtblFn(obj uintptr, idx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// comCall invokes a COM vtable method at the given index and converts a
// failing HRESULT into an error.
// obj is a pointer to a COM interface (pointer to pointer to vtable).
func comCall(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(comVtblFn(obj, vtableIdx), allArgs...)
	if int32(ret) < 0 {
		return ret, fmt.Errorf("COM vtable[%d] HRESULT 0x%08X", vtableIdx, uint32(ret))
	}
	return ret, nil
}

// comQuery calls IUnknown::QueryInterface for iid.
func comQuery(obj uintptr, iid *ole.GUID) (uintptr, error) {
	var out uintptr
	_, err := comCall(obj, vtblQueryInterface,
		uintptr(unsafe.Pointer(iid)),
		uintptr(unsafe.Pointer(&out)),
	)
	if err != nil {
		return 0, fmt.Errorf("QueryInterface %s: %w", iid.String(), err)
	}
	return out, nil
}

// comRelease calls IUnknown::Release. Zero handles are ignored.
func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, vtblRelease), obj)
	}
}
