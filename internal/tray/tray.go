// Package tray provides the system tray control surface using
// getlantern/systray.
package tray

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/getlantern/systray"

	"remotemouse/internal/autostart"
	"remotemouse/internal/server"
)

// Surface wires the tray menu to the server lifecycle without the tray
// importing controller internals. All fields are required.
type Surface struct {
	Start      func() error
	Stop       func()
	Status     func() server.State
	Subscribe  func(func(server.State))
	PairingPNG func() (string, error)
}

// Tray manages the system tray icon and menu.
type Tray struct {
	surface Surface

	statusItem *systray.MenuItem
	toggleItem *systray.MenuItem
	qrItem     *systray.MenuItem
	loginItem  *systray.MenuItem
	quitItem   *systray.MenuItem

	quitCh chan struct{}
}

// New creates the tray around the given surface.
func New(surface Surface) *Tray {
	return &Tray{
		surface: surface,
		quitCh:  make(chan struct{}),
	}
}

// Run starts the tray event loop (blocks until Quit).
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Stop stops the tray.
func (t *Tray) Stop() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Remote Mouse")
	systray.SetTooltip("Remote Mouse server")
	systray.SetIcon(getIcon())

	t.statusItem = systray.AddMenuItem("Status: stopped", "")
	t.statusItem.Disable()
	systray.AddSeparator()
	t.toggleItem = systray.AddMenuItem("Start server", "")
	t.qrItem = systray.AddMenuItem("Save pairing code…", "Write the pairing QR code to a PNG file")
	t.qrItem.Disable()
	systray.AddSeparator()
	t.loginItem = systray.AddMenuItem("Launch at login", "")
	if autostart.IsEnabled() {
		t.loginItem.Check()
	}
	systray.AddSeparator()
	t.quitItem = systray.AddMenuItem("Quit", "")

	t.refresh(t.surface.Status())
	t.surface.Subscribe(func(st server.State) {
		t.refresh(st)
	})

	go t.loop()
}

func (t *Tray) onExit() {
	close(t.quitCh)
}

func (t *Tray) loop() {
	for {
		select {
		case <-t.toggleItem.ClickedCh:
			t.toggle()
		case <-t.qrItem.ClickedCh:
			t.savePairingCode()
		case <-t.loginItem.ClickedCh:
			t.toggleLoginItem()
		case <-t.quitItem.ClickedCh:
			t.surface.Stop()
			systray.Quit()
			return
		case <-t.quitCh:
			return
		}
	}
}

func (t *Tray) toggle() {
	switch t.surface.Status() {
	case server.StateRunning:
		t.surface.Stop()
	case server.StateStopped:
		if err := t.surface.Start(); err != nil {
			log.Printf("Tray: start failed: %v", err)
		}
	}
}

func (t *Tray) toggleLoginItem() {
	if autostart.IsEnabled() {
		if err := autostart.Disable(); err != nil {
			log.Printf("Tray: disabling launch at login failed: %v", err)
			return
		}
		t.loginItem.Uncheck()
	} else {
		if err := autostart.Enable(); err != nil {
			log.Printf("Tray: enabling launch at login failed: %v", err)
			return
		}
		t.loginItem.Check()
	}
}

func (t *Tray) savePairingCode() {
	path, err := t.surface.PairingPNG()
	if err != nil {
		log.Printf("Tray: saving pairing code failed: %v", err)
		return
	}
	log.Printf("Tray: pairing code written to %s", path)
}

// refresh updates the menu to reflect a lifecycle state. Called from the
// transition callback, so it must not block.
func (t *Tray) refresh(st server.State) {
	t.statusItem.SetTitle(fmt.Sprintf("Status: %s", st))

	switch st {
	case server.StateRunning:
		t.toggleItem.SetTitle("Stop server")
		t.toggleItem.Enable()
		t.qrItem.Enable()
	case server.StateStopped:
		t.toggleItem.SetTitle("Start server")
		t.toggleItem.Enable()
		t.qrItem.Disable()
	default:
		t.toggleItem.Disable()
		t.qrItem.Disable()
	}
}

// DefaultPairingPath returns where the pairing QR image is written.
func DefaultPairingPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "remotemouse-pairing.png"
	}
	return filepath.Join(home, "remotemouse-pairing.png")
}

// getIcon returns a placeholder icon (valid 16x16 ICO)
func getIcon() []byte {
	// A valid 16x16 32-bit ICO file with correct size and DIB header
	icon := make([]byte, 1118)
	// ICO Header
	copy(icon[0:6], []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00})
	// Icon Directory
	copy(icon[6:22], []byte{
		0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00,
		0x48, 0x04, 0x00, 0x00, // Size: 1024 (pixels) + 40 (header) + 32 (mask) = 1096 bytes
		0x16, 0x00, 0x00, 0x00, // Offset
	})
	// DIB Header
	copy(icon[22:62], []byte{
		0x28, 0x00, 0x00, 0x00, // Size
		0x10, 0x00, 0x00, 0x00, // Width
		0x20, 0x00, 0x00, 0x00, // Height (16 * 2 for icon)
		0x01, 0x00, // Planes
		0x20, 0x00, // BPP
		0x00, 0x00, 0x00, 0x00, // Compression
		0x00, 0x04, 0x00, 0x00, // Image Size
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	})
	// The rest (pixels and mask) can stay 0 for transparency
	return icon
}
