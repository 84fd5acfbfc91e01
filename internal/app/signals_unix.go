//go:build unix

package app

import (
	"os"
	"syscall"
)

var (
	exitSignals   = []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM}
	statusSignals = []os.Signal{syscall.SIGUSR1}
)
