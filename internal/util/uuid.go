package util

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// bluetoothBaseSuffix completes 16- and 32-bit assigned numbers into a full
// 128-bit UUID on the Bluetooth base UUID.
const bluetoothBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID returns the canonical lowercase, dashed form of a BLE UUID.
// Short forms ("180d", "0x180D", "0000180d") are expanded on the Bluetooth
// base UUID; dashless 128-bit forms are accepted.
func NormalizeUUID(s string) (string, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")

	switch len(raw) {
	case 4:
		raw = "0000" + raw + bluetoothBaseSuffix
	case 8:
		raw = raw + bluetoothBaseSuffix
	}

	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u.String(), nil
}

// SameUUID reports whether a and b name the same UUID. Unparseable inputs
// fall back to a case-insensitive comparison.
func SameUUID(a, b string) bool {
	na, errA := NormalizeUUID(a)
	nb, errB := NormalizeUUID(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return na == nb
}
