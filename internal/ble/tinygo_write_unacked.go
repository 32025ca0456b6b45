//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

func writeCharacteristic(c bluetooth.DeviceCharacteristic, data []byte, withResponse bool) (int, error) {
	return writeUnacked(c, data, withResponse)
}
