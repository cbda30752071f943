//go:build linux

package adapters

import (
	"os"
	"syscall"
)

// peakRSS returns the maximum resident set size of the finished process in bytes
func peakRSS(state *os.ProcessState) (int64, bool) {
	if state == nil {
		return 0, false
	}
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return 0, false
	}
	// Linux reports kilobytes
	return int64(ru.Maxrss) * 1024, true
}
