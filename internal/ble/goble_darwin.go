package ble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

func newGoBLEDevice() (ble.Device, error) {
	d, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return d, nil
}
