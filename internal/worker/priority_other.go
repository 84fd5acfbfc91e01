//go:build !linux

package worker

import (
	"fmt"
	"runtime"
)

var setPriority = setThreadPriority

func setThreadPriority(int) (func() error, error) {
	return nil, fmt.Errorf("real-time priority not supported on %s", runtime.GOOS)
}
