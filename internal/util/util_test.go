package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"180d", "0000180d-0000-1000-8000-00805f9b34fb"},
		{"0x180D", "0000180d-0000-1000-8000-00805f9b34fb"},
		{"0000180D", "0000180d-0000-1000-8000-00805f9b34fb"},
		{"12345678-1234-5678-1234-56789ABCDEF0", "12345678-1234-5678-1234-56789abcdef0"},
		{"1234567812345678123456789abcdef0", "12345678-1234-5678-1234-56789abcdef0"},
		{" 2a00 ", "00002a00-0000-1000-8000-00805f9b34fb"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeUUID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeUUIDRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "xyz", "180", "not-a-uuid-at-all"} {
		_, err := NormalizeUUID(in)
		assert.Error(t, err, in)
	}
}

func TestSameUUID(t *testing.T) {
	assert.True(t, SameUUID("180a", "0000180A-0000-1000-8000-00805F9B34FB"))
	assert.False(t, SameUUID("180a", "180b"))
	assert.True(t, SameUUID("weird", "WEIRD"))
}

func TestPrintable(t *testing.T) {
	assert.Equal(t, "LED ON", Printable([]byte("LED ON")))
	assert.Equal(t, "line\r\n", Printable([]byte("line\r\n")))
	assert.Equal(t, "00FF10", Printable([]byte{0x00, 0xff, 0x10}))
	assert.Equal(t, "", Printable(nil))
	assert.False(t, IsTextData([]byte("caf\xc3\xa9")))
}

func TestHexDump(t *testing.T) {
	out := HexDump([]byte("0123456789abcdefXY"))
	assert.Equal(t,
		"0000  30 31 32 33 34 35 36 37  38 39 61 62 63 64 65 66  |0123456789abcdef|\n"+
			"0010  58 59                                             |XY|\n",
		out)
}
