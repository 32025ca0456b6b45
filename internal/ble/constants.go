package ble

import (
	"fmt"
	"time"

	"github.com/vitaminmoo/esplink/internal/config"
)

// New returns the driver named in cfg. The radio is not touched until the
// first scan or connect.
func New(cfg *config.Config) (Adapter, error) {
	switch cfg.Driver {
	case config.DriverTinyGo, "":
		return NewTinyGo(cfg.ConnectTimeout), nil
	case config.DriverGoBLE:
		return NewGoBLE(cfg.ConnectTimeout), nil
	default:
		return nil, fmt.Errorf("unknown bluetooth driver %q", cfg.Driver)
	}
}

// settleDelay lets a fresh CCCD write take effect before the first write,
// as some ESP32 stacks drop notifications sent right after subscription.
const settleDelay = 100 * time.Millisecond
