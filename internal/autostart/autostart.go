// Package autostart registers the server to launch at login.
package autostart

// Enable registers the current executable to launch at login.
func Enable() error {
	return enable()
}

// Disable removes the login registration.
func Disable() error {
	return disable()
}

// IsEnabled reports whether the login registration exists.
func IsEnabled() bool {
	return isEnabled()
}
