package session

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitaminmoo/esplink/internal/ble"
	"github.com/vitaminmoo/esplink/internal/protocol"
)

// stream is the notification queue of one Ready session: a drop-oldest ring
// shared by every consumer of that session.
type stream struct {
	mu      sync.Mutex
	buf     []protocol.Notification
	head    int
	size    int
	seq     uint64
	dropped uint64
	visible bool
	closed  bool

	signal chan struct{}
	done   chan struct{}
}

func newStream(capacity int) *stream {
	return &stream{
		buf:    make([]protocol.Notification, capacity),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends a notification, evicting the oldest when full. It reports
// false once the stream is closed.
func (st *stream) push(payload []byte, at time.Time) (protocol.Notification, bool, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return protocol.Notification{}, false, false
	}

	st.seq++
	n := protocol.Notification{Seq: st.seq, Payload: payload, ReceivedAt: at}
	evicted := false
	if st.size == len(st.buf) {
		st.head = (st.head + 1) % len(st.buf)
		st.size--
		st.dropped++
		evicted = true
	}
	st.buf[(st.head+st.size)%len(st.buf)] = n
	st.size++

	if st.visible {
		st.wake()
	}
	return n, true, evicted
}

func (st *stream) wake() {
	select {
	case st.signal <- struct{}{}:
	default:
	}
}

// open makes buffered notifications available to consumers.
func (st *stream) open() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.visible = true
	if st.size > 0 {
		st.wake()
	}
}

func (st *stream) close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	st.size = 0
	close(st.done)
}

func (st *stream) droppedCount() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dropped
}

func (st *stream) pop() (protocol.Notification, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed || !st.visible || st.size == 0 {
		return protocol.Notification{}, false
	}
	n := st.buf[st.head]
	st.buf[st.head] = protocol.Notification{}
	st.head = (st.head + 1) % len(st.buf)
	st.size--
	if st.size > 0 {
		st.wake()
	}
	return n, true
}

// next blocks until a notification is available, the stream closes or ctx
// is done.
func (st *stream) next(ctx context.Context) (protocol.Notification, bool) {
	for {
		if n, ok := st.pop(); ok {
			return n, true
		}
		select {
		case <-st.done:
			return protocol.Notification{}, false
		case <-ctx.Done():
			return protocol.Notification{}, false
		case <-st.signal:
		}
	}
}

// Notifications returns the notification sequence of the current Ready
// session. Every call during one session shares the same queue. The sequence
// ends when the session leaves Ready; outside Ready it is empty.
func (s *Session) Notifications() iter.Seq[protocol.Notification] {
	return s.NotificationsContext(context.Background())
}

// NotificationsContext is Notifications that also ends when ctx is done.
func (s *Session) NotificationsContext(ctx context.Context) iter.Seq[protocol.Notification] {
	s.mu.Lock()
	var st *stream
	if s.phase == Ready {
		st = s.stream
	}
	s.mu.Unlock()

	return func(yield func(protocol.Notification) bool) {
		if st == nil {
			return
		}
		for {
			n, ok := st.next(ctx)
			if !ok || !yield(n) {
				return
			}
		}
	}
}

// deliver is the subscription handler for one session's stream.
func (s *Session) deliver(st *stream, data []byte) {
	if len(data) == 0 {
		s.log.Warn("dropping malformed notification", zap.String("reason", "empty payload"))
		return
	}
	n, ok, evicted := st.push(data, s.opts.Now())
	if !ok {
		s.log.Debug("dropping notification after teardown", zap.Int("bytes", len(data)))
		return
	}
	if evicted {
		s.log.Warn("notification buffer full, dropped oldest", zap.Uint64("seq", n.Seq))
	}
	s.log.Debug("notification", zap.Uint64("seq", n.Seq), zap.Int("bytes", len(data)))
}

// Send writes payload to the target characteristic as one message.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	return s.SendCommand(ctx, protocol.Command{Payload: payload, Origin: protocol.OriginProgram})
}

// SendText sends text verbatim. Whitespace-only text is rejected.
func (s *Session) SendText(ctx context.Context, text string, origin protocol.Origin) error {
	cmd, err := protocol.NewTextCommand(text, origin)
	if err != nil {
		if _, _, _, rerr := s.readyLink("send"); rerr != nil {
			return rerr
		}
		return newError(KindInvalidPayload, "send", err)
	}
	return s.SendCommand(ctx, cmd)
}

// SendCommand writes cmd. Sends are serialised and never retried.
func (s *Session) SendCommand(ctx context.Context, cmd protocol.Command) error {
	const op = "send"

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	link, target, size, err := s.readyLink(op)
	if err != nil {
		return err
	}
	if len(cmd.Payload) == 0 {
		return newError(KindInvalidPayload, op, protocol.ErrEmptyPayload)
	}
	// Payloads beyond one ATT packet are left to the host stack (long
	// writes); if it refuses, that surfaces as a write failure.
	if len(cmd.Payload) > size-ble.ATTHeaderSize {
		s.log.Debug("payload exceeds one packet", zap.Int("bytes", len(cmd.Payload)), zap.Int("transfer_size", size))
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()

	s.log.Debug("sending",
		zap.Stringer("origin", cmd.Origin),
		zap.Int("bytes", len(cmd.Payload)),
		zap.Bool("with_response", s.opts.WriteWithResponse))
	if err := link.Write(ctx, target.Service, target.Characteristic, cmd.Payload, s.opts.WriteWithResponse); err != nil {
		werr := newError(KindTransportWriteFailed, op, err)
		s.mu.Lock()
		if s.link == link {
			s.recordErrorLocked(werr)
		}
		s.mu.Unlock()
		s.log.Warn("write failed", zap.Error(err))
		return werr
	}
	return nil
}

func (s *Session) readyLink(op string) (ble.Link, Target, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Ready || s.link == nil {
		return nil, Target{}, 0, newError(KindNotConnected, op, fmt.Errorf("session is %s", s.phase))
	}
	return s.link, s.target, s.transferSize, nil
}
