//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

func writeCharacteristic(c bluetooth.DeviceCharacteristic, data []byte, withResponse bool) (int, error) {
	if withResponse {
		return c.Write(data)
	}
	return c.WriteWithoutResponse(data)
}
