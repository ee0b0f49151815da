//go:build !darwin && !windows

package autostart

import (
	"fmt"
	"runtime"
)

func enable() error {
	return fmt.Errorf("auto-start not supported on %s", runtime.GOOS)
}

func disable() error {
	return fmt.Errorf("auto-start not supported on %s", runtime.GOOS)
}

func isEnabled() bool {
	return false
}
