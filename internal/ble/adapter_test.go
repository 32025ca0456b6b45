package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testService = "12345678-1234-5678-1234-56789abcdef0"
	testChar    = "87654321-4321-6789-4321-abcdef012345"
)

func TestServiceMapNormalisesUUIDs(t *testing.T) {
	sm := make(ServiceMap)
	sm.Add("1234567812345678123456789ABCDEF0", "2A00")
	sm.Add("180a")

	assert.True(t, sm.Has(testService, "00002a00-0000-1000-8000-00805f9b34fb"))
	assert.True(t, sm.HasService("12345678-1234-5678-1234-56789ABCDEF0"))
	assert.True(t, sm.HasService("0x180A"))
	assert.False(t, sm.Has(testService, testChar))
	assert.False(t, sm.Has("180a", "2a00"))
	assert.Equal(t, []string{
		"0000180a-0000-1000-8000-00805f9b34fb",
		testService,
	}, sm.Services())
}

func TestServiceMapAddIsIdempotent(t *testing.T) {
	sm := make(ServiceMap)
	sm.Add("180a", "2a29")
	sm.Add("180A", "2A29", "2a24")

	assert.Len(t, sm, 1)
	assert.Equal(t, []string{
		"00002a29-0000-1000-8000-00805f9b34fb",
		"00002a24-0000-1000-8000-00805f9b34fb",
	}, sm["0000180a-0000-1000-8000-00805f9b34fb"])
}

func TestPeripheral(t *testing.T) {
	p := NewPeripheral("AA:BB:CC:DD:EE:FF", "")
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", p.DisplayName())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", p.String())

	p.Name = "ESP32_Bluetooth"
	p.Services = []string{testService}
	assert.Equal(t, "ESP32_Bluetooth", p.DisplayName())
	assert.Equal(t, "ESP32_Bluetooth (AA:BB:CC:DD:EE:FF)", p.String())
	assert.True(t, p.HasService("12345678-1234-5678-1234-56789ABCDEF0"))
	assert.False(t, p.HasService("180a"))
}

func TestEndpointKey(t *testing.T) {
	assert.Equal(t,
		endpointKey(testService, testChar),
		endpointKey("1234567812345678123456789ABCDEF0", "87654321-4321-6789-4321-ABCDEF012345"),
	)
	assert.NotEqual(t, endpointKey(testService, testChar), endpointKey(testChar, testService))
}
