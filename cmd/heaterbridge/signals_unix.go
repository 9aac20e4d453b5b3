//go:build unix

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// reloadSignals trigger a config reload and session restart.
func reloadSignals() []os.Signal {
	return []os.Signal{unix.SIGHUP}
}
