package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vitaminmoo/esplink/internal/ble"
)

// Connect runs the connection pipeline against p: open the link, negotiate
// the transfer size, resolve the target endpoint and subscribe to it. On
// success the session is Ready.
//
// A handle obtained without discovery (a configured address) enters the
// pipeline at Connecting; there is no scan to report.
//
// Connect continues a session that Discover left in Connecting for the same
// peripheral, returns the existing session when already Ready for p, and
// tears down any other session first. On failure the session passes through
// Failed, any half-open link is released, and the session ends Idle.
func (s *Session) Connect(ctx context.Context, p ble.Peripheral, target Target) (Connection, error) {
	const op = "connect"

	if err := s.acquire(op); err != nil {
		return Connection{}, err
	}
	defer s.release()

	s.mu.Lock()
	switch {
	case s.phase == Ready && s.peripheral != nil && s.peripheral.ID == p.ID:
		r := s.readyLocked()
		s.mu.Unlock()
		return r, nil
	case s.phase == Connecting && s.peripheral != nil && s.peripheral.ID == p.ID && s.link == nil:
		// Discovered and waiting for us.
	case s.phase == Disconnecting:
		s.mu.Unlock()
		return Connection{}, newError(KindAlreadyInProgress, op, errors.New("disconnect in progress"))
	case s.phase != Idle:
		s.log.Info("replacing previous session", zap.Stringer("phase", s.phase))
		_ = s.teardownLocked(ctx, nil)
		s.mu.Lock()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelOp = cancel
	gen := s.gen
	s.peripheral = &p
	s.target = target
	s.setPhaseLocked(Connecting)
	s.mu.Unlock()

	log := s.log.With(zap.String("peripheral", p.String()))

	// Step 1: open the link.
	log.Info("connecting")
	link, err := step(s, ctx, func(ctx context.Context) (ble.Link, error) {
		return s.adapter.Connect(ctx, p)
	})
	if err != nil {
		return Connection{}, s.fail(ctx, gen, newError(KindLinkFailed, op, err))
	}
	if !s.adopt(gen, link) {
		_ = closeLink(context.WithoutCancel(ctx), link)
		return Connection{}, newError(KindCanceled, op, nil)
	}

	// Step 2: transfer size. Failure is not fatal.
	if !s.advance(gen, NegotiatingTransfer) {
		return Connection{}, newError(KindCanceled, op, nil)
	}
	size, err := step(s, ctx, func(ctx context.Context) (int, error) {
		return link.RequestTransferSize(ctx, s.opts.TransferSize)
	})
	switch {
	case err != nil:
		log.Warn("transfer size negotiation failed, using default",
			zap.Error(err), zap.Int("size", ble.DefaultTransferSize))
		size = ble.DefaultTransferSize
	case size < ble.DefaultTransferSize:
		size = ble.DefaultTransferSize
	case size > s.opts.TransferSize:
		size = s.opts.TransferSize
	}
	s.mu.Lock()
	if s.gen == gen {
		s.transferSize = size
	}
	s.mu.Unlock()
	log.Info("transfer size", zap.Int("requested", s.opts.TransferSize), zap.Int("granted", size))

	// Step 3: resolve the endpoint.
	if !s.advance(gen, ResolvingServices) {
		return Connection{}, newError(KindCanceled, op, nil)
	}
	services, err := step(s, ctx, link.Resolve)
	if err == nil && !services.Has(target.Service, target.Characteristic) {
		if services.HasService(target.Service) {
			err = fmt.Errorf("characteristic %s missing from service %s", target.Characteristic, target.Service)
		} else {
			err = fmt.Errorf("service %s not offered by peripheral", target.Service)
		}
	}
	if err != nil {
		return Connection{}, s.fail(ctx, gen, newError(KindServiceNotFound, op, err))
	}

	// Step 4: subscribe. The stream accepts notifications from here on but
	// only hands them out once the session is Ready.
	if !s.advance(gen, SubscribingNotifications) {
		return Connection{}, newError(KindCanceled, op, nil)
	}
	st := newStream(s.opts.NotificationBuffer)
	_, err = step(s, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, link.Subscribe(ctx, target.Service, target.Characteristic, func(data []byte) {
			s.deliver(st, data)
		})
	})
	if err != nil {
		st.close()
		return Connection{}, s.fail(ctx, gen, newError(KindSubscriptionFailed, op, err))
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		st.close()
		return Connection{}, newError(KindCanceled, op, nil)
	}
	s.stream = st
	s.services = services
	s.cancelOp = nil
	s.setPhaseLocked(Ready)
	r := s.readyLocked()
	s.mu.Unlock()

	st.open()
	go s.watch(gen, link)

	log.Info("ready", zap.Int("transfer_size", size))
	return r, nil
}

// step bounds one pipeline step by the step timeout.
func step[T any](s *Session, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()
	return fn(ctx)
}

// adopt hands a freshly opened link to the session unless the attempt was
// superseded.
func (s *Session) adopt(gen uint64, link ble.Link) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.link = link
	return true
}

// advance moves one step along the pipeline unless the attempt was
// superseded.
func (s *Session) advance(gen uint64, to Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	if next, ok := pipelineNext(s.phase); !ok || next != to {
		panic(fmt.Sprintf("session: invalid transition %s -> %s", s.phase, to))
	}
	s.setPhaseLocked(to)
	return true
}

// fail records err, passes through Failed and tears the attempt down. A
// superseded attempt reports Canceled instead.
func (s *Session) fail(ctx context.Context, gen uint64, err *Error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return newError(KindCanceled, err.Op, nil)
	}
	if ctx.Err() != nil {
		err = newError(KindCanceled, err.Op, ctx.Err())
	}
	s.log.Warn("connection failed", zap.Error(err))
	s.recordErrorLocked(err)
	s.setPhaseLocked(Failed)

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StepTimeout)
	defer cancel()
	_ = s.teardownLocked(tctx, err)
	return err
}

func (s *Session) readyLocked() Connection {
	r := Connection{TransferSize: s.transferSize, Services: s.services}
	if s.peripheral != nil {
		r.Peripheral = *s.peripheral
	}
	return r
}
