package util

import (
	"fmt"
	"strings"
)

// IsTextData checks if a byte slice contains only printable ASCII text
func IsTextData(data []byte) bool {
	for _, b := range data {
		if b < 32 && b != 9 && b != 10 && b != 13 || b > 126 {
			return false
		}
	}
	return true
}

// Printable renders a payload for display: the text itself when it is
// printable, otherwise uppercase hex.
func Printable(data []byte) string {
	if len(data) > 0 && IsTextData(data) {
		return string(data)
	}
	return fmt.Sprintf("%X", data)
}

// HexDump formats data in hex dump format
func HexDump(data []byte) string {
	var b strings.Builder
	for i := 0; i < len(data); i += 16 {
		// Address
		fmt.Fprintf(&b, "%04x  ", i)

		// Hex bytes
		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				fmt.Fprintf(&b, "%02x ", data[i+j])
			} else {
				b.WriteString("   ")
			}
			if j == 7 {
				b.WriteString(" ")
			}
		}

		// ASCII
		b.WriteString(" |")
		for j := 0; j < 16 && i+j < len(data); j++ {
			c := data[i+j]
			if c >= 32 && c < 127 {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("|\n")
	}
	return b.String()
}
