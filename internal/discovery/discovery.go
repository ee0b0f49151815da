// Package discovery advertises the server on the local network via
// mDNS/DNS-SD so a mobile controller can find it without typing an address.
// Discovery only reveals presence; the pairing token is still required.
package discovery

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"

	"remotemouse/internal/protocol"
)

// ServiceType is the DNS-SD service type advertised on the local domain.
const ServiceType = "_remotemouse._tcp"

// Advertiser manages the mDNS registration for a running server. The zero
// value is not usable; construct with NewAdvertiser.
type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Start registers the service on the given port. A no-op when already
// advertising.
func (a *Advertiser) Start(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "remotemouse"
	}

	txt := []string{
		fmt.Sprintf("version=%d", protocol.Version),
		fmt.Sprintf("name=%s", name),
	}

	server, err := zeroconf.Register(name, ServiceType, "local.", port, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	log.Printf("Discovery: advertising %s on port %d", ServiceType, port)
	return nil
}

// Stop withdraws the advertisement. Safe to call repeatedly or without a
// prior Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		log.Printf("Discovery: advertisement withdrawn")
	}
}

// IsRunning reports whether an advertisement is active.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}
