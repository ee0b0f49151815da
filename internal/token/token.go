// Package token issues and validates short-lived pairing tokens.
//
// A token proves that a connecting controller scanned the descriptor shown on
// this machine. Exactly one token is valid at a time; issuing a new one or
// invalidating it revokes the previous value.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"

	"github.com/skip2/go-qrcode"

	"remotemouse/internal/network"
)

// Length is the rendered token length: 16 random bytes (128 bits) encoded as
// unpadded base32.
const Length = 26

// Descriptor is the bundle a mobile client needs to pair: where the server
// listens and the token that authorizes the connection. Immutable once issued.
type Descriptor struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"token"`
}

// Addr returns the host:port the client should dial.
func (d Descriptor) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// URL renders the descriptor as the pairing payload encoded into the QR code.
func (d Descriptor) URL() string {
	return fmt.Sprintf("remotemouse://pair?host=%s&port=%d&token=%s",
		url.QueryEscape(d.Host), d.Port, d.Token)
}

// QRPNG renders the pairing payload as a PNG QR code of the given pixel size.
func (d Descriptor) QRPNG(size int) ([]byte, error) {
	png, err := qrcode.Encode(d.URL(), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("token: render QR code: %w", err)
	}
	return png, nil
}

// Issuer mints pairing tokens and validates candidates against the single
// currently valid value.
type Issuer struct {
	mu      sync.Mutex
	current string

	// Lookup resolves the local address placed in descriptors. Overridable
	// for tests; defaults to network.GetLocalIP.
	Lookup func() (string, error)
}

// NewIssuer creates an issuer with no valid token.
func NewIssuer() *Issuer {
	return &Issuer{Lookup: network.GetLocalIP}
}

// Issue mints a fresh token and pairs it with the local address and the given
// port. Any previously issued token is invalidated. Fails only when no usable
// local network interface is found, which callers must treat as fatal to
// starting the server.
func (i *Issuer) Issue(port int) (Descriptor, error) {
	host, err := i.Lookup()
	if err != nil {
		return Descriptor{}, fmt.Errorf("token: resolve local address: %w", err)
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return Descriptor{}, fmt.Errorf("token: generate token: %w", err)
	}
	tok := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	i.mu.Lock()
	i.current = tok
	i.mu.Unlock()

	return Descriptor{Host: host, Port: port, Token: tok}, nil
}

// Validate reports whether candidate exactly matches the current token.
// Comparison is constant-time. Always false when no token is outstanding.
func (i *Issuer) Validate(candidate string) bool {
	i.mu.Lock()
	current := i.current
	i.mu.Unlock()

	if current == "" || len(candidate) != len(current) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(current)) == 1
}

// Invalidate revokes the current token. Called when the server stops.
func (i *Issuer) Invalidate() {
	i.mu.Lock()
	i.current = ""
	i.mu.Unlock()
}
