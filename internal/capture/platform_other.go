//go:build !windows

package capture

import "time"

func nativePlatform(Config) Platform {
	return Platform{
		ScreenSize: func() (Size, error) { return Size{}, ErrNotSupported },
	}
}

// NativeAvailable reports whether this build can capture the desktop.
func NativeAvailable() bool {
	return false
}

// ProbeDuplication builds and immediately releases a duplication acquirer.
func ProbeDuplication(Size, time.Duration) error {
	return ErrNotSupported
}

// PrimaryScreenSize returns the primary display size in physical pixels.
func PrimaryScreenSize() (Size, error) {
	return Size{}, ErrNotSupported
}

func lockCaptureThread() func() {
	return func() {}
}
