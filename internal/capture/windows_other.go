//go:build !windows

package capture

// AvailableWindows lists the titles of visible top-level windows.
func AvailableWindows() ([]string, error) {
	return nil, ErrNotSupported
}
