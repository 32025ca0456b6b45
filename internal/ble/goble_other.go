//go:build !linux && !darwin

package ble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
)

func newGoBLEDevice() (ble.Device, error) {
	return nil, fmt.Errorf("go-ble on %s: %w", runtime.GOOS, ErrUnsupported)
}
