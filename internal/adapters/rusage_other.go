//go:build !linux

package adapters

import "os"

func peakRSS(_ *os.ProcessState) (int64, bool) {
	return 0, false
}
