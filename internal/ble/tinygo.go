package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vitaminmoo/esplink/internal/config"
	"github.com/vitaminmoo/esplink/internal/util"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter drives the host radio through tinygo.org/x/bluetooth
// (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows).
type TinyGoAdapter struct {
	adapter        *bluetooth.Adapter
	connectTimeout time.Duration

	mu      sync.Mutex
	enabled bool
	links   map[string]*tinygoLink // keyed by address string
}

// stopScanRetry paces StopScan retries while a cancelled scan is still
// starting up.
const stopScanRetry = 50 * time.Millisecond

// stopOnCancel calls stop once ctx is done and keeps calling it until done
// is closed. The radio refuses StopScan before its scan has started, so a
// single attempt can miss the window.
func stopOnCancel(ctx context.Context, done <-chan struct{}, stop func() error, every time.Duration) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if err := stop(); err == nil {
			return
		}
		select {
		case <-done:
			return
		case <-t.C:
		}
	}
}

// NewTinyGo wraps bluetooth.DefaultAdapter. connectTimeout bounds each
// connection attempt.
func NewTinyGo(connectTimeout time.Duration) *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:        bluetooth.DefaultAdapter,
		connectTimeout: connectTimeout,
		links:          make(map[string]*tinygoLink),
	}
}

// enable turns the radio on once. A failed enable is retried on the next
// call.
func (a *TinyGoAdapter) enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}

	a.adapter.SetConnectHandler(a.onConnectChange)
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable Bluetooth: %w", err)
	}
	a.enabled = true
	config.Debugf("Bluetooth adapter enabled")
	return nil
}

func (a *TinyGoAdapter) onConnectChange(device bluetooth.Device, connected bool) {
	addr := device.Address.String()
	config.Debugf("Connection change: %s connected=%v", addr, connected)
	if connected {
		return
	}

	a.mu.Lock()
	link := a.links[addr]
	delete(a.links, addr)
	a.mu.Unlock()

	if link != nil {
		link.markClosed()
	}
}

// Scan blocks until ctx is done or StopScan is called.
func (a *TinyGoAdapter) Scan(ctx context.Context, opts ScanOptions, found func(Peripheral)) error {
	if err := a.enable(); err != nil {
		return err
	}

	var services []bluetooth.UUID
	var names []string
	for _, s := range opts.Services {
		name, err := util.NormalizeUUID(s)
		if err != nil {
			return fmt.Errorf("invalid service filter: %w", err)
		}
		u, err := bluetooth.ParseUUID(name)
		if err != nil {
			return fmt.Errorf("invalid service filter %q: %w", s, err)
		}
		services = append(services, u)
		names = append(names, name)
	}

	if ctx.Err() != nil {
		return nil
	}
	done := make(chan struct{})
	defer close(done)
	go stopOnCancel(ctx, done, a.adapter.StopScan, stopScanRetry)

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		p := Peripheral{
			ID:     result.Address.String(),
			Name:   result.LocalName(),
			RSSI:   int(result.RSSI),
			native: result.Address,
		}
		for i, u := range services {
			if result.AdvertisementPayload.HasServiceUUID(u) {
				p.Services = append(p.Services, names[i])
			}
		}
		if len(services) > 0 && len(p.Services) == 0 {
			return
		}
		found(p)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) StopScan() error {
	return a.adapter.StopScan()
}

// resolveAddress finds the driver address for a handle that was built from
// a configured ID rather than a scan result.
func (a *TinyGoAdapter) resolveAddress(ctx context.Context, id string) (bluetooth.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, a.connectTimeout)
	defer cancel()

	var addr bluetooth.Address
	var ok bool
	err := a.Scan(ctx, ScanOptions{}, func(p Peripheral) {
		if ok || !strings.EqualFold(p.ID, id) {
			return
		}
		addr, ok = p.native.(bluetooth.Address), true
		_ = a.adapter.StopScan()
	})
	if err != nil {
		return addr, err
	}
	if !ok {
		return addr, fmt.Errorf("address %s not seen while scanning", id)
	}
	return addr, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, p Peripheral) (Link, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	addr, ok := p.native.(bluetooth.Address)
	if !ok {
		var err error
		if addr, err = a.resolveAddress(ctx, p.ID); err != nil {
			return nil, err
		}
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{
			ConnectionTimeout: bluetooth.NewDuration(a.connectTimeout),
		})
		ch <- result{device, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		// The driver call cannot be interrupted; release whatever it
		// produces once it returns.
		go func() {
			if late := <-ch; late.err == nil {
				_ = late.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to connect: %w", res.err)
	}

	link := &tinygoLink{
		device: res.device,
		chars:  make(map[string]bluetooth.DeviceCharacteristic),
		done:   make(chan struct{}),
	}
	a.mu.Lock()
	a.links[addr.String()] = link
	a.mu.Unlock()

	config.Debugf("Connected to %s", addr.String())
	return link, nil
}

// Close forgets open links. tinygo has no way to power the radio down, so
// the adapter itself stays enabled for the life of the process.
func (a *TinyGoAdapter) Close() error {
	a.mu.Lock()
	links := a.links
	a.links = make(map[string]*tinygoLink)
	a.mu.Unlock()

	for _, l := range links {
		_ = l.Close(context.Background())
	}
	return nil
}

type tinygoLink struct {
	device bluetooth.Device

	mu       sync.Mutex
	services []bluetooth.DeviceService
	chars    map[string]bluetooth.DeviceCharacteristic

	closeOnce sync.Once
	done      chan struct{}
}

func (l *tinygoLink) markClosed() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *tinygoLink) Done() <-chan struct{} {
	return l.done
}

func (l *tinygoLink) IsConnected() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *tinygoLink) discoverServices() ([]bluetooth.DeviceService, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.services != nil {
		return l.services, nil
	}
	services, err := l.device.DiscoverServices(nil)
	if err != nil {
		return nil, err
	}
	l.services = services
	return services, nil
}

// RequestTransferSize reports the MTU the host stack negotiated. BlueZ and
// CoreBluetooth run the exchange themselves on connect, so the request only
// caps what is reported.
func (l *tinygoLink) RequestTransferSize(_ context.Context, n int) (int, error) {
	services, err := l.discoverServices()
	if err != nil {
		return 0, fmt.Errorf("failed to discover services: %w", err)
	}
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil || len(chars) == 0 {
			continue
		}
		mtu, err := chars[0].GetMTU()
		if err != nil {
			return 0, fmt.Errorf("failed to read MTU: %w", err)
		}
		return min(int(mtu), n), nil
	}
	return 0, fmt.Errorf("no characteristic to read MTU from: %w", ErrUnsupported)
}

func (l *tinygoLink) Resolve(_ context.Context) (ServiceMap, error) {
	services, err := l.discoverServices()
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	sm := make(ServiceMap)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, svc := range services {
		svcUUID := svc.UUID().String()
		sm.Add(svcUUID)

		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics of %s: %w", svcUUID, err)
		}
		for _, c := range chars {
			charUUID := c.UUID().String()
			config.Debugf("Found characteristic: %s/%s", svcUUID, charUUID)
			sm.Add(svcUUID, charUUID)
			l.chars[endpointKey(svcUUID, charUUID)] = c
		}
	}
	return sm, nil
}

func (l *tinygoLink) characteristic(service, characteristic string) (bluetooth.DeviceCharacteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chars[endpointKey(service, characteristic)]
	if !ok {
		return c, fmt.Errorf("%s/%s: %w", service, characteristic, ErrUnknownCharacteristic)
	}
	return c, nil
}

func (l *tinygoLink) Subscribe(_ context.Context, service, characteristic string, fn func([]byte)) error {
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	if err := c.EnableNotifications(fn); err != nil {
		return fmt.Errorf("failed to enable notifications: %w", err)
	}
	time.Sleep(settleDelay)
	return nil
}

func (l *tinygoLink) Write(_ context.Context, service, characteristic string, data []byte, withResponse bool) error {
	if !l.IsConnected() {
		return ErrLinkClosed
	}
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}

	if _, err := writeCharacteristic(c, data, withResponse); err != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(data), err)
	}
	return nil
}

func (l *tinygoLink) Close(_ context.Context) error {
	if !l.IsConnected() {
		return nil
	}
	err := l.device.Disconnect()
	l.markClosed()
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}
