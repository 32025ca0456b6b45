package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/vitaminmoo/esplink/internal/ble"
	"github.com/vitaminmoo/esplink/internal/config"
	"github.com/vitaminmoo/esplink/internal/control"
	"github.com/vitaminmoo/esplink/internal/protocol"
	"github.com/vitaminmoo/esplink/internal/session"
)

// Session is what the one-shot commands drive. *session.Session satisfies
// it.
type Session interface {
	control.Session
	SendCommand(ctx context.Context, cmd protocol.Command) error
	Survey(ctx context.Context, filter session.Filter, timeout time.Duration) ([]ble.Peripheral, error)
}

var _ Session = (*session.Session)(nil)

// Scan lists named peripherals in range, strongest first. byService limits
// the list to peripherals advertising the configured service.
func Scan(ctx context.Context, sess Session, cfg *config.Config, out io.Writer, byService bool) error {
	var filter session.Filter
	if byService {
		filter = session.MatchService(cfg.Target.Service)
	}

	fmt.Fprintf(out, "Scanning for %s (%s)...\n", filter, cfg.ScanTimeout)
	found, err := sess.Survey(ctx, filter, cfg.ScanTimeout)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(found) == 0 {
		fmt.Fprintln(out, "No peripherals found")
		return nil
	}

	fmt.Fprintf(out, "\nFound %d peripherals:\n\n", len(found))
	for i, p := range found {
		marker := " "
		if p.Name == cfg.Target.Name {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %2d. %-24s %-20s %4d dBm\n", marker, i+1, p.Name, p.ID, p.RSSI)
	}
	return nil
}

// Explore connects to the configured target and lists its services and
// characteristics. It never writes.
func Explore(ctx context.Context, sess Session, cfg *config.Config, out io.Writer) error {
	fmt.Fprintf(out, "Connecting to %s...\n", describeTarget(cfg.Target))
	conn, err := control.Establish(ctx, sess, cfg)
	if err != nil {
		return err
	}
	defer disconnect(sess)

	fmt.Fprintf(out, "Connected to %s (MTU %d, max payload %d bytes)\n",
		conn.Peripheral, conn.TransferSize, conn.MaxPayload())
	printServices(out, conn.Services, cfg.Target)
	return nil
}

func printServices(out io.Writer, services ble.ServiceMap, target config.Target) {
	svcs := services.Services()
	fmt.Fprintf(out, "\nFound %d services:\n\n", len(svcs))
	for i, svc := range svcs {
		fmt.Fprintf(out, "Service #%d: %s\n", i+1, svc)
		for j, char := range services[svc] {
			marker := ""
			if svc == target.Service && char == target.Characteristic {
				marker = "  <- target"
			}
			fmt.Fprintf(out, "  [%d] %s%s\n", j+1, char, marker)
		}
		fmt.Fprintln(out)
	}
}
