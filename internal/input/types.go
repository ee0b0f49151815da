// Package input provides cross-platform native input injection.
package input

// Injector synthesizes mouse and keyboard events on the local machine.
// Implementations are synchronous and side-effecting; a failed injection is
// reported through the returned error and has no lasting effect on the
// injector.
type Injector interface {
	// MoveCursor moves the pointer by a relative delta in pixels.
	MoveCursor(dx, dy int) error

	// SetCursorPos places the pointer at absolute screen coordinates.
	SetCursorPos(x, y int) error

	// Click presses or releases a mouse button (1=left, 2=right, 3=middle).
	Click(button int, pressed bool) error

	// Scroll scrolls by the given horizontal and vertical amounts. Positive
	// dy scrolls up.
	Scroll(dx, dy int) error

	// KeyEvent presses or releases the key identified by a Windows
	// virtual-key code.
	KeyEvent(code uint16, pressed bool) error
}
