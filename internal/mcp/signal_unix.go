//go:build !windows

package mcp

import (
	"os"
	"syscall"
)

// shutdownSignals cancel a running simulation or server.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
