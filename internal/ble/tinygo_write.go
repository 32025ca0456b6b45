package ble

import (
	"runtime"

	"github.com/vitaminmoo/esplink/internal/config"
)

// unackedWriter is the write every tinygo backend offers.
type unackedWriter interface {
	WriteWithoutResponse(p []byte) (int, error)
}

// writeUnacked is the write path on backends without an acknowledged write
// (BlueZ, HCI). A request for a response is downgraded.
func writeUnacked(w unackedWriter, data []byte, withResponse bool) (int, error) {
	if withResponse {
		config.Debugf("write with response unavailable on %s, writing without response", runtime.GOOS)
	}
	return w.WriteWithoutResponse(data)
}
