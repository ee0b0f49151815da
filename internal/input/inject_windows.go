//go:build windows

package input

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Windows implementation of input injection using SendInput

const (
	inputMouse    = 0
	inputKeyboard = 1

	mouseEventfMove       = 0x0001
	mouseEventfLeftDown   = 0x0002
	mouseEventfLeftUp     = 0x0004
	mouseEventfRightDown  = 0x0008
	mouseEventfRightUp    = 0x0010
	mouseEventfMiddleDown = 0x0020
	mouseEventfMiddleUp   = 0x0040
	mouseEventfWheel      = 0x0800
	mouseEventfHWheel     = 0x1000

	keyEventfKeyUp = 0x0002

	// One notch of a physical wheel per scroll unit
	wheelDelta = 120
)

var (
	user32           = windows.NewLazySystemDLL("user32.dll")
	procSendInput    = user32.NewProc("SendInput")
	procSetCursorPos = user32.NewProc("SetCursorPos")
)

type mouseInput struct {
	Dx        int32
	Dy        int32
	MouseData uint32
	Flags     uint32
	Time      uint32
	ExtraInfo uintptr
}

type keybdInput struct {
	Vk        uint16
	Scan      uint16
	Flags     uint32
	Time      uint32
	ExtraInfo uintptr
}

// winInput mirrors the Windows INPUT struct: a type tag followed by a union.
// MOUSEINPUT is the largest union member, so it sets the struct size.
type winInput struct {
	Type uint32
	_    uint32 // alignment padding before the union
	Mi   mouseInput
}

type winKeyInput struct {
	Type uint32
	_    uint32
	Ki   keybdInput
	_    [8]byte // pad the union up to MOUSEINPUT's size
}

func sendMouse(mi mouseInput) error {
	in := winInput{Type: inputMouse, Mi: mi}
	n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if n == 0 {
		return fmt.Errorf("SendInput failed: %v", err)
	}
	return nil
}

func sendKey(ki keybdInput) error {
	in := winKeyInput{Type: inputKeyboard, Ki: ki}
	n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if n == 0 {
		return fmt.Errorf("SendInput failed: %v", err)
	}
	return nil
}

// NativeInjector is a Windows input injector
type NativeInjector struct{}

// NewInjector creates a new input injector for Windows
func NewInjector() *NativeInjector {
	return &NativeInjector{}
}

// MoveCursor moves the pointer by a relative delta
func (i *NativeInjector) MoveCursor(dx, dy int) error {
	return sendMouse(mouseInput{
		Dx:    int32(dx),
		Dy:    int32(dy),
		Flags: mouseEventfMove,
	})
}

// SetCursorPos places the pointer at absolute screen coordinates
func (i *NativeInjector) SetCursorPos(x, y int) error {
	n, _, err := procSetCursorPos.Call(uintptr(x), uintptr(y))
	if n == 0 {
		return fmt.Errorf("SetCursorPos failed: %v", err)
	}
	return nil
}

// Click injects a mouse button event
func (i *NativeInjector) Click(button int, pressed bool) error {
	var flags uint32
	switch button {
	case 1:
		flags = mouseEventfLeftDown
		if !pressed {
			flags = mouseEventfLeftUp
		}
	case 2:
		flags = mouseEventfRightDown
		if !pressed {
			flags = mouseEventfRightUp
		}
	case 3:
		flags = mouseEventfMiddleDown
		if !pressed {
			flags = mouseEventfMiddleUp
		}
	default:
		return fmt.Errorf("invalid button number: %d", button)
	}

	return sendMouse(mouseInput{Flags: flags})
}

// Scroll injects wheel events; positive dy scrolls up
func (i *NativeInjector) Scroll(dx, dy int) error {
	if dy != 0 {
		if err := sendMouse(mouseInput{
			MouseData: uint32(int32(dy) * wheelDelta),
			Flags:     mouseEventfWheel,
		}); err != nil {
			return err
		}
	}
	if dx != 0 {
		return sendMouse(mouseInput{
			MouseData: uint32(int32(dx) * wheelDelta),
			Flags:     mouseEventfHWheel,
		})
	}
	return nil
}

// KeyEvent injects a keyboard event using the Windows virtual-key code directly
func (i *NativeInjector) KeyEvent(code uint16, pressed bool) error {
	var flags uint32
	if !pressed {
		flags = keyEventfKeyUp
	}
	return sendKey(keybdInput{Vk: code, Flags: flags})
}
