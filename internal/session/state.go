package session

import (
	"time"

	"github.com/vitaminmoo/esplink/internal/ble"
)

// ErrorRecord is the last failure kept for display.
type ErrorRecord struct {
	Kind    Kind
	Message string
	At      time.Time
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	Phase Phase
	// Peripheral is set whenever Phase.HasPeripheral is true.
	Peripheral   *ble.Peripheral
	TransferSize int
	LastError    *ErrorRecord
	// Dropped counts notifications discarded because the buffer was full.
	Dropped uint64
}

// Connection describes a session that completed the connection pipeline.
type Connection struct {
	Peripheral   ble.Peripheral
	TransferSize int
	Services     ble.ServiceMap
}

// MaxPayload is the largest payload one ATT packet carries. Longer writes
// rely on the host stack.
func (r Connection) MaxPayload() int {
	return r.TransferSize - ble.ATTHeaderSize
}

// Target names the endpoint pair the session talks to.
type Target struct {
	Service        string
	Characteristic string
}
