//go:build !darwin && !windows

package input

import (
	"fmt"
)

// Stub implementation for platforms without native injection support.

// NativeInjector is a stub input injector
type NativeInjector struct{}

// NewInjector creates a new stub injector
func NewInjector() *NativeInjector {
	return &NativeInjector{}
}

// MoveCursor moves the pointer by a relative delta (stub)
func (i *NativeInjector) MoveCursor(dx, dy int) error {
	return fmt.Errorf("input injection not supported on this platform")
}

// SetCursorPos places the pointer at absolute coordinates (stub)
func (i *NativeInjector) SetCursorPos(x, y int) error {
	return fmt.Errorf("input injection not supported on this platform")
}

// Click injects a mouse button event (stub)
func (i *NativeInjector) Click(button int, pressed bool) error {
	return fmt.Errorf("input injection not supported on this platform")
}

// Scroll injects a scroll event (stub)
func (i *NativeInjector) Scroll(dx, dy int) error {
	return fmt.Errorf("input injection not supported on this platform")
}

// KeyEvent injects a keyboard event (stub)
func (i *NativeInjector) KeyEvent(code uint16, pressed bool) error {
	return fmt.Errorf("input injection not supported on this platform")
}
