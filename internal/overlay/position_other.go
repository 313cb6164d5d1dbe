//go:build !linux

package overlay

// positionWindow is a no-op: the OS places the window.
func positionWindow(title string, width, height, margin int) {}
