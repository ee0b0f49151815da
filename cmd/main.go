// Remote Mouse - pairing and session server
// Turns a phone into a trackpad for this machine over the local network.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"remotemouse/internal/config"
	"remotemouse/internal/discovery"
	"remotemouse/internal/input"
	"remotemouse/internal/network"
	"remotemouse/internal/server"
	"remotemouse/internal/token"
	"remotemouse/internal/tray"
)

var (
	version  = "0.1.0"
	port     = flag.Int("port", 0, "Port to listen on (0 uses the configured preference)")
	headless = flag.Bool("headless", false, "Run without the system tray")
	qrPath   = flag.String("qr", "", "Write the pairing QR code to this PNG file on start")
	showVer  = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("remotemouse version %s\n", version)
		return
	}

	// Initialize config
	cfgMgr, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	if err := cfgMgr.Load(); err != nil {
		log.Printf("Warning: failed to load config: %v", err)
	}

	ctrl := server.NewController(cfgMgr, input.NewInjector())

	// Advertise over mDNS while the server runs.
	adv := discovery.NewAdvertiser()
	ctrl.Subscribe(func(st server.State) {
		switch st {
		case server.StateRunning:
			if !cfgMgr.Get().DiscoveryEnabled {
				return
			}
			if desc, ok := ctrl.Descriptor(); ok {
				if err := adv.Start(desc.Port); err != nil {
					log.Printf("Warning: mDNS advertisement failed: %v", err)
				}
			}
		case server.StateStopped:
			adv.Stop()
		}
	})

	startServer := func() error {
		p := *port
		if p == 0 {
			p = cfgMgr.Get().PreferredPort
		}

		desc, err := ctrl.Start(p)
		if errors.Is(err, server.ErrBindFailed) && *port == 0 {
			// The preferred port is taken; scan for a nearby free one.
			free, ferr := network.FindFreePort(p+1, p+100)
			if ferr != nil {
				return err
			}
			log.Printf("Port %d unavailable, falling back to %d", p, free)
			desc, err = ctrl.Start(free)
		}
		if err != nil {
			return err
		}

		log.Printf("Pair by scanning the QR code or opening %s", desc.URL())
		if *qrPath != "" {
			if werr := writePairingPNG(desc, *qrPath); werr != nil {
				log.Printf("Warning: failed to write pairing code: %v", werr)
			}
		}
		return nil
	}

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *headless {
		runHeadless(ctrl, startServer, sigCh)
		return
	}

	if cfgMgr.Get().AutoStart {
		if err := startServer(); err != nil {
			log.Printf("Warning: auto-start failed: %v", err)
		}
	}

	t := tray.New(tray.Surface{
		Start:     startServer,
		Stop:      ctrl.Stop,
		Status:    ctrl.Status,
		Subscribe: ctrl.Subscribe,
		PairingPNG: func() (string, error) {
			desc, ok := ctrl.Descriptor()
			if !ok {
				return "", fmt.Errorf("server is not running")
			}
			path := tray.DefaultPairingPath()
			return path, writePairingPNG(desc, path)
		},
	})

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		ctrl.Stop()
		t.Stop()
	}()

	t.Run()
	ctrl.Stop()
}

func runHeadless(ctrl *server.Controller, startServer func() error, sigCh chan os.Signal) {
	if err := startServer(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Running headless. Press Ctrl+C to stop.")
	<-sigCh
	log.Println("Shutting down...")
	ctrl.Stop()
}

func writePairingPNG(desc token.Descriptor, path string) error {
	png, err := desc.QRPNG(256)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, 0600); err != nil {
		return err
	}
	log.Printf("Pairing code written to %s", path)
	return nil
}
