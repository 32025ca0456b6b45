// Package bletest provides a scriptable in-memory ble.Adapter for tests.
package bletest

import (
	"context"
	"sync"
	"time"

	"github.com/vitaminmoo/esplink/internal/ble"
)

// Advert is one scripted advertisement, reported Delay after the scan
// starts.
type Advert struct {
	Peripheral ble.Peripheral
	Delay      time.Duration
}

// Adapter is a fake radio. Set the exported fields before handing it to the
// code under test; they are read under the adapter lock on every call.
type Adapter struct {
	mu sync.Mutex

	Adverts []Advert
	ScanErr error

	ConnectErr   error
	ConnectDelay time.Duration

	// Granted is the transfer size links report; zero echoes the request.
	Granted     int
	TransferErr error

	Services     ble.ServiceMap
	ResolveErr   error
	ResolveDelay time.Duration

	SubscribeErr error
	WriteErr     error
	CloseErr     error

	scans    int
	stops    int
	connects int
	closed   bool
	stopCh   chan struct{}
	links    []*Link
}

// New returns an adapter whose links expose a single service with a single
// characteristic.
func New(service, characteristic string) *Adapter {
	sm := make(ble.ServiceMap)
	sm.Add(service, characteristic)
	return &Adapter{Services: sm}
}

// Advertise appends a scripted advertisement.
func (a *Adapter) Advertise(p ble.Peripheral, delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Adverts = append(a.Adverts, Advert{Peripheral: p, Delay: delay})
}

func (a *Adapter) Scan(ctx context.Context, opts ble.ScanOptions, found func(ble.Peripheral)) error {
	a.mu.Lock()
	a.scans++
	if a.ScanErr != nil {
		err := a.ScanErr
		a.mu.Unlock()
		return err
	}
	adverts := append([]Advert(nil), a.Adverts...)
	stop := make(chan struct{})
	a.stopCh = stop
	a.mu.Unlock()

	start := time.Now()
	for _, adv := range adverts {
		wait := time.Until(start.Add(adv.Delay))
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-time.After(wait):
		}
		if len(opts.Services) > 0 && !matchesAny(adv.Peripheral, opts.Services) {
			continue
		}
		found(adv.Peripheral)
	}

	select {
	case <-ctx.Done():
	case <-stop:
	}
	return nil
}

func matchesAny(p ble.Peripheral, services []string) bool {
	for _, s := range services {
		if p.HasService(s) {
			return true
		}
	}
	return false
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
	return nil
}

func (a *Adapter) Connect(ctx context.Context, p ble.Peripheral) (ble.Link, error) {
	a.mu.Lock()
	a.connects++
	delay, err := a.ConnectDelay, a.ConnectErr
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}

	l := &Link{adapter: a, peripheral: p, subs: make(map[string]func([]byte)), done: make(chan struct{})}
	a.mu.Lock()
	a.links = append(a.links, l)
	a.mu.Unlock()
	return l, nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Scans reports how many scans were started.
func (a *Adapter) Scans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// Connects reports how many connection attempts were made.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// Closed reports whether Close was called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Link returns the most recently opened link, or nil.
func (a *Adapter) Link() *Link {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.links) == 0 {
		return nil
	}
	return a.links[len(a.links)-1]
}

// Links returns every link opened so far.
func (a *Adapter) Links() []*Link {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Link(nil), a.links...)
}

// Link is a fake connection. Tests push notifications with Notify and
// simulate the peripheral going away with Drop.
type Link struct {
	adapter    *Adapter
	peripheral ble.Peripheral

	mu        sync.Mutex
	requested int
	subs      map[string]func([]byte)
	writes    []Write
	closes    int

	once sync.Once
	done chan struct{}
}

// Write records one call to Link.Write.
type Write struct {
	Service        string
	Characteristic string
	Data           []byte
	WithResponse   bool
}

func (l *Link) Peripheral() ble.Peripheral { return l.peripheral }

func (l *Link) RequestTransferSize(_ context.Context, n int) (int, error) {
	l.adapter.mu.Lock()
	granted, err := l.adapter.Granted, l.adapter.TransferErr
	l.adapter.mu.Unlock()

	l.mu.Lock()
	l.requested = n
	l.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if granted == 0 || granted > n {
		return n, nil
	}
	return granted, nil
}

// Requested reports the transfer size asked for.
func (l *Link) Requested() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requested
}

func (l *Link) Resolve(ctx context.Context) (ble.ServiceMap, error) {
	l.adapter.mu.Lock()
	services, err, delay := l.adapter.Services, l.adapter.ResolveErr, l.adapter.ResolveDelay
	l.adapter.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.done:
			return nil, ble.ErrLinkClosed
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	out := make(ble.ServiceMap)
	for svc, chars := range services {
		out.Add(svc, chars...)
	}
	return out, nil
}

func (l *Link) has(service, characteristic string) bool {
	l.adapter.mu.Lock()
	defer l.adapter.mu.Unlock()
	return l.adapter.Services.Has(service, characteristic)
}

func (l *Link) Subscribe(_ context.Context, service, characteristic string, fn func([]byte)) error {
	l.adapter.mu.Lock()
	err := l.adapter.SubscribeErr
	l.adapter.mu.Unlock()
	if err != nil {
		return err
	}
	if !l.has(service, characteristic) {
		return ble.ErrUnknownCharacteristic
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[service+"/"+characteristic] = fn
	return nil
}

// Notify delivers data to every subscriber, as the peripheral would.
func (l *Link) Notify(data []byte) {
	l.mu.Lock()
	subs := make([]func([]byte), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(append([]byte(nil), data...))
	}
}

// Subscribed reports whether anything subscribed on this link.
func (l *Link) Subscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs) > 0
}

func (l *Link) Write(_ context.Context, service, characteristic string, data []byte, withResponse bool) error {
	if !l.IsConnected() {
		return ble.ErrLinkClosed
	}
	l.adapter.mu.Lock()
	err := l.adapter.WriteErr
	l.adapter.mu.Unlock()

	l.mu.Lock()
	l.writes = append(l.writes, Write{
		Service:        service,
		Characteristic: characteristic,
		Data:           append([]byte(nil), data...),
		WithResponse:   withResponse,
	})
	l.mu.Unlock()
	return err
}

// Writes returns the recorded writes, including failed ones.
func (l *Link) Writes() []Write {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Write(nil), l.writes...)
}

func (l *Link) Close(_ context.Context) error {
	l.adapter.mu.Lock()
	err := l.adapter.CloseErr
	l.adapter.mu.Unlock()

	l.mu.Lock()
	l.closes++
	l.mu.Unlock()

	l.Drop()
	return err
}

// Closes reports how many times Close was called.
func (l *Link) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// Drop ends the link from the peripheral side.
func (l *Link) Drop() {
	l.once.Do(func() { close(l.done) })
}

func (l *Link) IsConnected() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *Link) Done() <-chan struct{} { return l.done }
