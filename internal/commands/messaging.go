package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/vitaminmoo/esplink/internal/backoff"
	"github.com/vitaminmoo/esplink/internal/config"
	"github.com/vitaminmoo/esplink/internal/control"
	"github.com/vitaminmoo/esplink/internal/protocol"
	"github.com/vitaminmoo/esplink/internal/session"
	"github.com/vitaminmoo/esplink/internal/store"
	"github.com/vitaminmoo/esplink/internal/util"
)

// Send connects, writes text once and prints whatever the peripheral sends
// back within wait. A zero wait disconnects right after the write. A non-nil
// st records the exchange.
func Send(ctx context.Context, sess Session, cfg *config.Config, out io.Writer, text string, wait time.Duration, st *store.Store) error {
	cmd, err := protocol.NewTextCommand(text, protocol.OriginProgram)
	if err != nil {
		return err
	}

	conn, err := control.Establish(ctx, sess, cfg)
	if err != nil {
		return err
	}
	defer disconnect(sess)
	zap.L().Debug("connected", zap.Stringer("peripheral", conn.Peripheral), zap.Int("mtu", conn.TransferSize))

	rec := record(st, conn)
	defer closeRecorder(rec)

	if err := sess.SendCommand(ctx, cmd); err != nil {
		return err
	}
	rec.Sent(cmd)
	fmt.Fprintf(out, "→ %s\n", text)

	if wait <= 0 {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for n := range sess.NotificationsContext(waitCtx) {
		rec.Received(n)
		fmt.Fprintf(out, "← %s\n", n)
	}
	return nil
}

// Listen prints notifications from the configured target until ctx is done.
// With reconnect set a failed or lost connection is retried with backoff;
// otherwise it ends the command. A non-nil st records one transcript per
// connection.
func Listen(ctx context.Context, sess Session, cfg *config.Config, out io.Writer, reconnect bool, st *store.Store) error {
	log := zap.L().Named("listen")
	b := backoff.New(backoff.Config{
		Initial: cfg.Reconnect.Initial,
		Max:     cfg.Reconnect.Max,
	})
	defer disconnect(sess)

	for {
		conn, err := control.Establish(ctx, sess, cfg)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if !reconnect {
				return err
			}
			log.Warn("connect failed", zap.Error(err), zap.Int("attempt", b.Attempts()+1))
			if err := b.Wait(ctx); err != nil {
				return nil
			}
			continue
		}

		b.Reset()
		fmt.Fprintf(out, "Listening to %s (MTU %d), Ctrl-C to stop\n", conn.Peripheral, conn.TransferSize)
		rec := record(st, conn)
		for n := range sess.NotificationsContext(ctx) {
			rec.Received(n)
			fmt.Fprintln(out, n)
			if config.Verbose && !n.IsText() {
				fmt.Fprint(out, util.HexDump(n.Payload))
			}
		}
		closeRecorder(rec)
		if ctx.Err() != nil {
			return nil
		}

		lost := errors.New("connection closed")
		if last := sess.Snapshot().LastError; last != nil {
			lost = errors.New(last.Message)
		}
		if !reconnect {
			return lost
		}
		fmt.Fprintf(out, "Connection lost: %v, reconnecting...\n", lost)
		if err := b.Wait(ctx); err != nil {
			return nil
		}
	}
}

// record starts a transcript for conn. Recording problems never fail the
// command.
func record(st *store.Store, conn session.Connection) *store.Recorder {
	if st == nil {
		return nil
	}
	rec, err := st.Begin(conn.Peripheral.DisplayName(), conn.Peripheral.ID)
	if err != nil {
		zap.L().Warn("not recording", zap.Error(err))
		return nil
	}
	zap.L().Debug("recording", zap.String("transcript", rec.ID()))
	return rec
}

func closeRecorder(rec *store.Recorder) {
	if err := rec.Close(); err != nil {
		zap.L().Warn("transcript incomplete", zap.String("transcript", rec.ID()), zap.Error(err))
	}
}
