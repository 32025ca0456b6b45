package control

import (
	"context"

	"github.com/vitaminmoo/esplink/internal/ble"
	"github.com/vitaminmoo/esplink/internal/config"
	"github.com/vitaminmoo/esplink/internal/session"
)

// TargetFilter builds the discovery filter for the configured target: the
// address when one is set, otherwise the advertised name.
func TargetFilter(t config.Target) session.Filter {
	if t.Address != "" {
		return session.MatchAddress(t.Address)
	}
	return session.MatchName(t.Name)
}

// connected returns the peripheral of a session already Ready for the
// configured target.
func connected(sess Session, cfg *config.Config) (ble.Peripheral, bool) {
	snap := sess.Snapshot()
	if snap.Phase != session.Ready || snap.Peripheral == nil {
		return ble.Peripheral{}, false
	}
	if !TargetFilter(cfg.Target).Match(*snap.Peripheral) {
		return ble.Peripheral{}, false
	}
	return *snap.Peripheral, true
}

// Establish connects to the configured target. A session already Ready for
// the target is returned as is. A configured address that the driver can
// dial directly skips discovery.
func Establish(ctx context.Context, sess Session, cfg *config.Config) (session.Connection, error) {
	target := session.Target{
		Service:        cfg.Target.Service,
		Characteristic: cfg.Target.Characteristic,
	}

	p, live := connected(sess, cfg)
	switch {
	case live:
	case cfg.Target.Address != "":
		p = ble.NewPeripheral(cfg.Target.Address, cfg.Target.Name)
	default:
		var err error
		p, err = sess.Discover(ctx, TargetFilter(cfg.Target), cfg.ScanTimeout)
		if err != nil {
			return session.Connection{}, err
		}
	}
	return sess.Connect(ctx, p, target)
}
