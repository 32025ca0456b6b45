// Package control is the boundary between the session core and the
// interactive front ends. Every operation returns immediately; outcomes
// arrive on Results and received payloads on Payloads.
package control

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitaminmoo/esplink/internal/ble"
	"github.com/vitaminmoo/esplink/internal/config"
	"github.com/vitaminmoo/esplink/internal/protocol"
	"github.com/vitaminmoo/esplink/internal/session"
)

// Session is the part of *session.Session the controller drives.
type Session interface {
	Discover(ctx context.Context, filter session.Filter, timeout time.Duration) (ble.Peripheral, error)
	Connect(ctx context.Context, p ble.Peripheral, target session.Target) (session.Connection, error)
	SendText(ctx context.Context, text string, origin protocol.Origin) error
	Disconnect(ctx context.Context) error
	NotificationsContext(ctx context.Context) iter.Seq[protocol.Notification]
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Event, func())
	Close(ctx context.Context) error
}

// Op names the operation a Result belongs to.
type Op int

const (
	OpConnect Op = iota
	OpSend
	OpDisconnect
)

func (o Op) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpSend:
		return "send"
	case OpDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Result is the outcome of one asynchronous operation.
type Result struct {
	Op   Op
	Text string // what was sent, or the peripheral connected to
	Err  error
}

// Status is what a front end shows in its status line.
type Status struct {
	Phase        session.Phase
	Display      string
	Peripheral   string
	TransferSize int
	LastError    string
	Dropped      uint64
}

// Connected reports whether commands can be sent.
func (s Status) Connected() bool {
	return s.Phase == session.Ready
}

// Busy reports whether a connection attempt is under way.
func (s Status) Busy() bool {
	return s.Phase.InFlight() || s.Phase == session.Disconnecting
}

// Controller runs session operations in the background for a front end.
type Controller struct {
	sess Session
	cfg  *config.Config
	log  *zap.Logger

	results  chan Result
	payloads chan protocol.Notification
	events   <-chan session.Event
	unsub    func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a controller over sess. Close stops it and the session.
func New(sess Session, cfg *config.Config, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	events, unsub := sess.Subscribe()
	return &Controller{
		sess:     sess,
		cfg:      cfg,
		log:      log.Named("control"),
		results:  make(chan Result, 16),
		payloads: make(chan protocol.Notification, 64),
		events:   events,
		unsub:    unsub,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Results delivers the outcome of Connect, Send and Disconnect.
func (c *Controller) Results() <-chan Result { return c.results }

// Payloads delivers received notifications across sessions.
func (c *Controller) Payloads() <-chan protocol.Notification { return c.payloads }

// Events delivers session phase changes.
func (c *Controller) Events() <-chan session.Event { return c.events }

// QuickCommands lists the configured canned commands.
func (c *Controller) QuickCommands() []config.QuickCommand {
	return c.cfg.QuickCommands
}

func (c *Controller) Status() Status {
	snap := c.sess.Snapshot()
	st := Status{
		Phase:        snap.Phase,
		Display:      snap.Phase.Display(),
		TransferSize: snap.TransferSize,
		Dropped:      snap.Dropped,
	}
	if snap.Peripheral != nil {
		st.Peripheral = snap.Peripheral.DisplayName()
	}
	if snap.LastError != nil {
		st.LastError = snap.LastError.Message
	}
	return st
}

func (c *Controller) publish(r Result) {
	select {
	case c.results <- r:
	case <-c.ctx.Done():
	}
}

func (c *Controller) goRun(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

// Connect finds the configured peripheral, connects, and starts forwarding
// its notifications to Payloads.
func (c *Controller) Connect() {
	c.goRun(func(ctx context.Context) {
		// A live session already has a forwarder.
		_, live := connected(c.sess, c.cfg)
		conn, err := Establish(ctx, c.sess, c.cfg)
		if err != nil {
			c.log.Warn("connect failed", zap.Error(err))
			c.publish(Result{Op: OpConnect, Err: err})
			return
		}
		c.publish(Result{Op: OpConnect, Text: conn.Peripheral.DisplayName()})
		if live {
			return
		}
		c.forward(ctx)
	})
}

// forward copies the current session's notifications to Payloads until the
// session ends.
func (c *Controller) forward(ctx context.Context) {
	for n := range c.sess.NotificationsContext(ctx) {
		select {
		case c.payloads <- n:
		case <-ctx.Done():
			return
		}
	}
	c.log.Debug("notification stream ended")
}

// Send writes text typed by the operator.
func (c *Controller) Send(text string) {
	c.send(text, protocol.OriginUser)
}

// QuickCommand sends the payload bound to name (key or label).
func (c *Controller) QuickCommand(name string) error {
	qc, ok := c.cfg.QuickCommand(name)
	if !ok {
		return fmt.Errorf("unknown quick command %q", name)
	}
	c.send(qc.Payload, protocol.OriginProgram)
	return nil
}

func (c *Controller) send(text string, origin protocol.Origin) {
	c.goRun(func(ctx context.Context) {
		err := c.sess.SendText(ctx, text, origin)
		c.publish(Result{Op: OpSend, Text: text, Err: err})
	})
}

func (c *Controller) Disconnect() {
	c.goRun(func(ctx context.Context) {
		err := c.sess.Disconnect(ctx)
		c.publish(Result{Op: OpDisconnect, Err: err})
	})
}

// Close disconnects, releases the adapter and waits for background work.
func (c *Controller) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	err := c.sess.Close(ctx)
	c.cancel()
	c.wg.Wait()
	c.unsub()
	return err
}
