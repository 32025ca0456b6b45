package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitaminmoo/esplink/internal/ble"
	"github.com/vitaminmoo/esplink/internal/util"
)

// Filter selects peripherals during discovery.
type Filter struct {
	match    func(ble.Peripheral) bool
	services []string
	desc     string
}

// Match reports whether p passes the filter. The zero Filter matches
// everything.
func (f Filter) Match(p ble.Peripheral) bool {
	return f.match == nil || f.match(p)
}

func (f Filter) String() string {
	if f.desc == "" {
		return "any"
	}
	return f.desc
}

// MatchFunc wraps an arbitrary predicate.
func MatchFunc(desc string, fn func(ble.Peripheral) bool) Filter {
	return Filter{match: fn, desc: desc}
}

// MatchName matches the advertised local name exactly.
func MatchName(name string) Filter {
	return Filter{
		match: func(p ble.Peripheral) bool { return p.Name == name },
		desc:  fmt.Sprintf("name=%q", name),
	}
}

// MatchNameFold matches the advertised local name ignoring case.
func MatchNameFold(name string) Filter {
	return Filter{
		match: func(p ble.Peripheral) bool { return strings.EqualFold(p.Name, name) },
		desc:  fmt.Sprintf("name~%q", name),
	}
}

// MatchAddress matches the peripheral ID ignoring case.
func MatchAddress(id string) Filter {
	return Filter{
		match: func(p ble.Peripheral) bool { return strings.EqualFold(p.ID, id) },
		desc:  "address=" + id,
	}
}

// MatchService matches peripherals advertising service. The scan itself is
// narrowed to that service where the driver supports it.
func MatchService(service string) Filter {
	if n, err := util.NormalizeUUID(service); err == nil {
		service = n
	}
	return Filter{
		match:    func(p ble.Peripheral) bool { return p.HasService(service) },
		services: []string{service},
		desc:     "service=" + service,
	}
}

// MatchAll requires every filter to match.
func MatchAll(filters ...Filter) Filter {
	var f Filter
	var descs []string
	for _, sub := range filters {
		f.services = append(f.services, sub.services...)
		if sub.desc != "" {
			descs = append(descs, sub.desc)
		}
	}
	f.desc = strings.Join(descs, " ")
	f.match = func(p ble.Peripheral) bool {
		for _, sub := range filters {
			if !sub.Match(p) {
				return false
			}
		}
		return true
	}
	return f
}

// beginScan claims the session for a scan and returns the attempt generation
// and a context that Disconnect cancels.
func (s *Session) beginScan(ctx context.Context, op string) (context.Context, context.CancelFunc, uint64, error) {
	if err := s.acquire(op); err != nil {
		return nil, nil, 0, err
	}

	s.mu.Lock()
	if s.phase == Disconnecting {
		s.mu.Unlock()
		s.release()
		return nil, nil, 0, newError(KindAlreadyInProgress, op, errors.New("disconnect in progress"))
	}
	if s.phase != Idle {
		s.log.Info("replacing previous session", zap.Stringer("phase", s.phase))
		_ = s.teardownLocked(ctx, nil)
		s.mu.Lock()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelOp = cancel
	gen := s.gen
	s.setPhaseLocked(Scanning)
	s.mu.Unlock()
	return ctx, cancel, gen, nil
}

// endScan returns a scan that did not produce a peripheral to Idle, unless
// Disconnect already did.
func (s *Session) endScan(op string, gen uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return newError(KindCanceled, op, nil)
	}
	s.cancelOp = nil
	if err != nil {
		s.recordErrorLocked(err)
	}
	s.setPhaseLocked(Idle)
	return err
}

// scanError classifies why a scan stopped without a result.
func scanError(op string, parent context.Context, scanErr error) *Error {
	switch {
	case scanErr != nil:
		return newError(KindAdapter, op, scanErr)
	case parent.Err() != nil:
		return newError(KindCanceled, op, parent.Err())
	default:
		return newError(KindNotFound, op, nil)
	}
}

// Discover scans until a peripheral passes filter or timeout elapses. The
// first match wins: the scan stops and the session moves to Connecting with
// that peripheral. A non-positive timeout uses the configured scan timeout.
func (s *Session) Discover(ctx context.Context, filter Filter, timeout time.Duration) (ble.Peripheral, error) {
	const op = "discover"
	if timeout <= 0 {
		timeout = s.opts.ScanTimeout
	}

	scanCtx, cancel, gen, err := s.beginScan(ctx, op)
	if err != nil {
		return ble.Peripheral{}, err
	}
	defer s.release()
	defer cancel()
	scanCtx, cancelTimeout := context.WithTimeout(scanCtx, timeout)
	defer cancelTimeout()

	s.log.Info("scanning", zap.Stringer("filter", filter), zap.Duration("timeout", timeout))

	found := make(chan ble.Peripheral, 1)
	scanDone := make(chan error, 1)
	go func() {
		scanDone <- s.adapter.Scan(scanCtx, ble.ScanOptions{Services: filter.services}, func(p ble.Peripheral) {
			if !filter.Match(p) {
				return
			}
			select {
			case found <- p:
			default:
			}
		})
	}()

	var (
		p       ble.Peripheral
		matched bool
		stopped bool
		scanErr error
	)
	select {
	case p = <-found:
		matched = true
	case scanErr = <-scanDone:
		stopped = true
	case <-scanCtx.Done():
	}

	if !stopped {
		_ = s.adapter.StopScan()
		cancelTimeout()
		scanErr = <-scanDone
	}
	if !matched {
		// A match may have raced the end of the scan.
		select {
		case p = <-found:
			matched = true
		default:
		}
	}
	if !matched {
		if stopped && scanErr == nil && scanCtx.Err() == nil {
			scanErr = errors.New("scan stopped unexpectedly")
		}
		return ble.Peripheral{}, s.endScan(op, gen, scanError(op, ctx, scanErr))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return ble.Peripheral{}, newError(KindCanceled, op, nil)
	}
	s.cancelOp = nil
	s.peripheral = &p
	s.setPhaseLocked(Connecting)
	s.log.Info("found peripheral", zap.String("id", p.ID), zap.String("name", p.Name), zap.Int("rssi", p.RSSI))
	return p, nil
}

// Survey scans for the whole timeout and returns every named peripheral that
// passes filter, strongest signal first. The session returns to Idle.
func (s *Session) Survey(ctx context.Context, filter Filter, timeout time.Duration) ([]ble.Peripheral, error) {
	const op = "survey"
	if timeout <= 0 {
		timeout = s.opts.ScanTimeout
	}

	scanCtx, cancel, gen, err := s.beginScan(ctx, op)
	if err != nil {
		return nil, err
	}
	defer s.release()
	defer cancel()
	scanCtx, cancelTimeout := context.WithTimeout(scanCtx, timeout)
	defer cancelTimeout()

	s.log.Info("surveying", zap.Stringer("filter", filter), zap.Duration("timeout", timeout))

	var mu sync.Mutex
	seen := make(map[string]*ble.Peripheral)
	var order []string
	scanErr := s.adapter.Scan(scanCtx, ble.ScanOptions{Services: filter.services}, func(p ble.Peripheral) {
		if p.Name == "" || !filter.Match(p) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if prev, ok := seen[p.ID]; ok {
			prev.RSSI = p.RSSI
			return
		}
		seen[p.ID] = &p
		order = append(order, p.ID)
	})
	_ = s.adapter.StopScan()

	if s.superseded(gen) {
		return nil, newError(KindCanceled, op, nil)
	}
	if scanErr != nil {
		return nil, s.endScan(op, gen, newError(KindAdapter, op, scanErr))
	}
	if ctx.Err() != nil {
		return nil, s.endScan(op, gen, newError(KindCanceled, op, ctx.Err()))
	}

	mu.Lock()
	out := make([]ble.Peripheral, 0, len(order))
	for _, id := range order {
		out = append(out, *seen[id])
	}
	mu.Unlock()

	slices.SortStableFunc(out, func(a, b ble.Peripheral) int {
		return cmp.Compare(b.RSSI, a.RSSI)
	})
	return out, s.endScan(op, gen, nil)
}
