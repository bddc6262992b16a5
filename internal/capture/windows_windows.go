//go:build windows

package capture

import (
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	windowListMu sync.Mutex
	windowList   []string

	enumWindowsCallback = syscall.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		if !windows.IsWindowVisible(hwnd) {
			return 1
		}
		var buf [256]uint16
		n, _ := windows.GetWindowText(hwnd, &buf[0], int32(len(buf)))
		if n > 0 {
			windowList = append(windowList, windows.UTF16ToString(buf[:n]))
		}
		return 1
	})
)

// AvailableWindows lists the titles of visible top-level windows. The engine
// only captures the whole desktop; the list is informational.
func AvailableWindows() ([]string, error) {
	windowListMu.Lock()
	defer windowListMu.Unlock()

	windowList = nil
	if err := windows.EnumWindows(enumWindowsCallback, unsafe.Pointer(nil)); err != nil {
		return nil, err
	}
	out := windowList
	windowList = nil
	return out, nil
}
