package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vitaminmoo/esplink/internal/ble"
)

// Disconnect ends whatever the session is doing and returns it to Idle. It is
// idempotent: Idle and Disconnecting return nil at once. A failed link close
// still leaves the session Idle and is reported as ErrDisconnect.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.phase == Idle || s.phase == Disconnecting {
		s.mu.Unlock()
		return nil
	}
	s.log.Info("disconnecting", zap.Stringer("phase", s.phase))
	return s.teardownLocked(ctx, nil)
}

// teardownLocked must be called with s.mu held and returns with it released.
// cause, when set, becomes the last error.
func (s *Session) teardownLocked(ctx context.Context, cause error) error {
	s.gen++
	if s.cancelOp != nil {
		s.cancelOp()
		s.cancelOp = nil
	}
	if cause != nil {
		s.recordErrorLocked(cause)
	}
	s.setPhaseLocked(Disconnecting)

	link := s.link
	st := s.stream
	s.link, s.stream = nil, nil
	s.mu.Unlock()

	if st != nil {
		st.close()
	}

	var err error
	if link != nil {
		err = closeLink(ctx, link)
		if err != nil {
			s.log.Warn("link close failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st != nil {
		s.dropped += st.droppedCount()
	}
	s.peripheral = nil
	s.transferSize = 0
	s.target = Target{}
	s.services = nil
	if err != nil {
		err = newError(KindDisconnect, "disconnect", err)
		if cause == nil {
			s.recordErrorLocked(err)
		}
	}
	s.setPhaseLocked(Idle)
	return err
}

// closeLink releases link. A link the peripheral already dropped counts as
// closed.
func closeLink(ctx context.Context, link ble.Link) error {
	if !link.IsConnected() {
		return nil
	}
	if err := link.Close(ctx); err != nil && !errors.Is(err, ble.ErrLinkClosed) {
		return err
	}
	return nil
}

// watch tears the session down when the adapter reports link loss.
func (s *Session) watch(gen uint64, link ble.Link) {
	<-link.Done()

	s.mu.Lock()
	if s.gen != gen || s.link != link {
		s.mu.Unlock()
		return
	}
	s.log.Warn("link lost")
	_ = s.teardownLocked(context.Background(), newError(KindLinkLost, "link", ble.ErrLinkClosed))
}

// Close disconnects and releases the adapter. The session must not be used
// afterwards.
func (s *Session) Close(ctx context.Context) error {
	derr := s.Disconnect(ctx)
	if err := s.adapter.Close(); err != nil {
		return errors.Join(derr, newError(KindAdapter, "close", err))
	}
	return derr
}
