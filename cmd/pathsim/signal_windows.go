//go:build windows

package main

import "os"

// shutdownSignals cancel a running simulation or server. Windows has no SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt}
