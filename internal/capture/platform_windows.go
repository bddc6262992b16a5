//go:build windows

package capture

import (
	"errors"
	"runtime"
	"time"

	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procGetDC              = user32.NewProc("GetDC")
	procReleaseDC          = user32.NewProc("ReleaseDC")
	procGetSystemMetrics   = user32.NewProc("GetSystemMetrics")
	procSetProcessDPIAware = user32.NewProc("SetProcessDPIAware")

	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
)

const (
	smCxScreen = 0
	smCyScreen = 1

	// S_FALSE: COM already initialized on this thread.
	sFalse = 0x00000001
)

func init() {
	// Without this, GetSystemMetrics reports scaled (logical) pixels on
	// high-DPI displays.
	if procSetProcessDPIAware.Find() == nil {
		procSetProcessDPIAware.Call()
	}
}

func nativePlatform(cfg Config) Platform {
	timeout := cfg.AcquireTimeout
	return Platform{
		ScreenSize: primaryScreenSize,
		Duplication: func(size Size) (Acquirer, error) {
			return newDuplicationAcquirer(size, timeout)
		},
		Fallback: newGDIAcquirer,
	}
}

// NativeAvailable reports whether this build can capture the desktop.
func NativeAvailable() bool {
	return true
}

// ProbeDuplication builds and immediately releases a duplication acquirer.
func ProbeDuplication(size Size, timeout time.Duration) error {
	acq, err := newDuplicationAcquirer(size, timeout)
	if err != nil {
		return err
	}
	return acq.Close()
}

// PrimaryScreenSize returns the primary display size in physical pixels.
func PrimaryScreenSize() (Size, error) {
	return primaryScreenSize()
}

func primaryScreenSize() (Size, error) {
	w, _, _ := procGetSystemMetrics.Call(smCxScreen)
	h, _, _ := procGetSystemMetrics.Call(smCyScreen)
	if w == 0 || h == 0 {
		return Size{}, errors.New("GetSystemMetrics returned zero dimensions")
	}
	return Size{Width: int(w), Height: int(h)}, nil
}

// lockCaptureThread pins the loop goroutine to one OS thread and joins it to
// the multithreaded COM apartment for the lifetime of the loop.
func lockCaptureThread() func() {
	runtime.LockOSThread()
	err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED)
	comInit := err == nil
	if err != nil {
		var oleErr *ole.OleError
		if errors.As(err, &oleErr) && oleErr.Code() == sFalse {
			comInit = true
		} else {
			log.Warn("CoInitializeEx failed on capture thread", "error", err)
		}
	}
	return func() {
		if comInit {
			ole.CoUninitialize()
		}
		runtime.UnlockOSThread()
	}
}
