// Package session owns the connection lifecycle for a single peripheral:
// discovery, the connection pipeline, the message channel and teardown.
//
// All state lives in one record guarded by a mutex that is never held across
// adapter calls. Discover, Survey and Connect are mutually exclusive; a
// concurrent call fails with ErrAlreadyInProgress instead of queueing.
// Disconnect may be called at any time and supersedes whatever is in flight.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitaminmoo/esplink/internal/ble"
	"github.com/vitaminmoo/esplink/internal/config"
)

// Options tune a Session. Zero values take the defaults from config.
type Options struct {
	ScanTimeout time.Duration
	// StepTimeout bounds each step of the connection pipeline.
	StepTimeout        time.Duration
	TransferSize       int
	WriteWithResponse  bool
	NotificationBuffer int
	Logger             *zap.Logger
	Now                func() time.Time
}

// OptionsFromConfig maps the on-disk configuration onto session options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ScanTimeout:        cfg.ScanTimeout,
		StepTimeout:        cfg.ConnectTimeout,
		TransferSize:       cfg.TransferSize,
		WriteWithResponse:  cfg.WriteWithResponse,
		NotificationBuffer: cfg.NotificationBuffer,
	}
}

func (o *Options) applyDefaults() {
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = config.DefaultScanTimeout
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = config.DefaultConnectTimeout
	}
	if o.TransferSize <= 0 {
		o.TransferSize = config.DefaultTransferSize
	}
	if o.NotificationBuffer <= 0 {
		o.NotificationBuffer = config.DefaultNotificationBuffer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Session is the single authoritative connection record.
type Session struct {
	adapter ble.Adapter
	opts    Options
	log     *zap.Logger
	events  *eventBus

	mu           sync.Mutex
	phase        Phase
	peripheral   *ble.Peripheral
	transferSize int
	lastErr      *ErrorRecord
	lastCause    error
	busy         bool
	gen          uint64
	cancelOp     context.CancelFunc
	link         ble.Link
	target       Target
	services     ble.ServiceMap
	stream       *stream
	dropped      uint64

	sendMu sync.Mutex
}

// New returns an idle session on top of adapter. The adapter is shared for
// the life of the session and released by Close.
func New(adapter ble.Adapter, opts Options) *Session {
	opts.applyDefaults()
	return &Session{
		adapter: adapter,
		opts:    opts,
		log:     opts.Logger.Named("session"),
		events:  newEventBus(),
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Phase:        s.phase,
		TransferSize: s.transferSize,
		Dropped:      s.dropped,
	}
	if s.stream != nil {
		snap.Dropped += s.stream.droppedCount()
	}
	if s.peripheral != nil {
		p := *s.peripheral
		snap.Peripheral = &p
	}
	if s.lastErr != nil {
		e := *s.lastErr
		snap.LastError = &e
	}
	return snap
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// acquire claims the busy flag for op.
func (s *Session) acquire(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return newError(KindAlreadyInProgress, op, nil)
	}
	s.busy = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// setPhaseLocked moves to p. Forward moves clear the last error; Failed,
// Disconnecting and Idle keep it.
func (s *Session) setPhaseLocked(p Phase) {
	prev := s.phase
	if prev == p {
		return
	}
	s.phase = p

	switch p {
	case Idle, Disconnecting, Failed:
	default:
		s.lastErr, s.lastCause = nil, nil
	}

	e := Event{Phase: p, Previous: prev, At: s.opts.Now()}
	if s.peripheral != nil {
		e.Peripheral = s.peripheral.DisplayName()
	}
	if p == Failed || p == Idle {
		e.Err = s.lastCause
	}
	s.log.Debug("phase", zap.Stringer("from", prev), zap.Stringer("to", p))
	s.events.publish(e)
}

func (s *Session) recordErrorLocked(err error) {
	s.lastErr = &ErrorRecord{
		Kind:    KindOf(err),
		Message: err.Error(),
		At:      s.opts.Now(),
	}
	s.lastCause = err
}

// superseded reports whether Disconnect ran since gen was taken.
func (s *Session) superseded(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}
