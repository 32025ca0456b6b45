package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"

	"github.com/vitaminmoo/esplink/internal/config"
	"github.com/vitaminmoo/esplink/internal/util"
)

// GoBLEAdapter drives the radio through github.com/go-ble/ble (raw HCI on
// Linux, CoreBluetooth on macOS). Unlike tinygo it runs a real MTU exchange.
type GoBLEAdapter struct {
	connectTimeout time.Duration

	mu         sync.Mutex
	device     ble.Device
	stopScan   context.CancelFunc
	newDevice  func() (ble.Device, error)
	deviceOpen bool
}

// NewGoBLE returns a go-ble driver. The HCI device is opened on first use.
func NewGoBLE(connectTimeout time.Duration) *GoBLEAdapter {
	return &GoBLEAdapter{
		connectTimeout: connectTimeout,
		newDevice:      newGoBLEDevice,
	}
}

func (a *GoBLEAdapter) open() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deviceOpen {
		return a.device, nil
	}
	d, err := a.newDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to open bluetooth device: %w", err)
	}
	a.device = d
	a.deviceOpen = true
	config.Debugf("go-ble device opened")
	return d, nil
}

// Scan blocks until ctx is done or StopScan is called.
func (a *GoBLEAdapter) Scan(ctx context.Context, opts ScanOptions, found func(Peripheral)) error {
	d, err := a.open()
	if err != nil {
		return err
	}

	var filter []ble.UUID
	for _, s := range opts.Services {
		name, err := util.NormalizeUUID(s)
		if err != nil {
			return fmt.Errorf("invalid service filter: %w", err)
		}
		u, err := ble.Parse(name)
		if err != nil {
			return fmt.Errorf("invalid service filter %q: %w", s, err)
		}
		filter = append(filter, u)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	a.stopScan = cancel
	a.mu.Unlock()

	err = d.Scan(ctx, false, func(adv ble.Advertisement) {
		p := Peripheral{
			ID:     adv.Addr().String(),
			Name:   adv.LocalName(),
			RSSI:   adv.RSSI(),
			native: adv.Addr(),
		}
		for _, u := range adv.Services() {
			p.Services = append(p.Services, normalizeOrLower(u.String()))
		}
		if len(filter) > 0 && !advertises(adv.Services(), filter) {
			return
		}
		found(p)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func advertises(have, want []ble.UUID) bool {
	for _, w := range want {
		for _, h := range have {
			if h.Equal(w) {
				return true
			}
		}
	}
	return false
}

func (a *GoBLEAdapter) StopScan() error {
	a.mu.Lock()
	stop := a.stopScan
	a.stopScan = nil
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
	return nil
}

func (a *GoBLEAdapter) Connect(ctx context.Context, p Peripheral) (Link, error) {
	d, err := a.open()
	if err != nil {
		return nil, err
	}

	addr, ok := p.native.(ble.Addr)
	if !ok {
		addr = ble.NewAddr(p.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, a.connectTimeout)
	defer cancel()
	client, err := d.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	config.Debugf("Connected to %s", addr.String())
	return &gobleLink{
		client: client,
		chars:  make(map[string]*ble.Characteristic),
	}, nil
}

func (a *GoBLEAdapter) Close() error {
	_ = a.StopScan()

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.deviceOpen {
		return nil
	}
	a.deviceOpen = false
	if err := a.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop bluetooth device: %w", err)
	}
	return nil
}

type gobleLink struct {
	client ble.Client

	mu    sync.Mutex
	chars map[string]*ble.Characteristic
}

func (l *gobleLink) Done() <-chan struct{} {
	return l.client.Disconnected()
}

func (l *gobleLink) IsConnected() bool {
	select {
	case <-l.client.Disconnected():
		return false
	default:
		return true
	}
}

func (l *gobleLink) RequestTransferSize(_ context.Context, n int) (int, error) {
	granted, err := l.client.ExchangeMTU(n)
	if err != nil {
		return 0, fmt.Errorf("MTU exchange failed: %w", err)
	}
	return min(granted, n), nil
}

func (l *gobleLink) Resolve(_ context.Context) (ServiceMap, error) {
	profile, err := l.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	sm := make(ServiceMap)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, svc := range profile.Services {
		svcUUID := svc.UUID.String()
		sm.Add(svcUUID)
		for _, c := range svc.Characteristics {
			charUUID := c.UUID.String()
			config.Debugf("Found characteristic: %s/%s", svcUUID, charUUID)
			sm.Add(svcUUID, charUUID)
			l.chars[endpointKey(svcUUID, charUUID)] = c
		}
	}
	return sm, nil
}

func (l *gobleLink) characteristic(service, characteristic string) (*ble.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chars[endpointKey(service, characteristic)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", service, characteristic, ErrUnknownCharacteristic)
	}
	return c, nil
}

func (l *gobleLink) Subscribe(_ context.Context, service, characteristic string, fn func([]byte)) error {
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	// Indications are used only when the characteristic cannot notify.
	ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
	if err := l.client.Subscribe(c, ind, func(data []byte) {
		fn(append([]byte(nil), data...))
	}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	time.Sleep(settleDelay)
	return nil
}

func (l *gobleLink) Write(_ context.Context, service, characteristic string, data []byte, withResponse bool) error {
	if !l.IsConnected() {
		return ErrLinkClosed
	}
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	if err := l.client.WriteCharacteristic(c, data, !withResponse); err != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(data), err)
	}
	return nil
}

func (l *gobleLink) Close(_ context.Context) error {
	if !l.IsConnected() {
		return nil
	}
	if err := l.client.CancelConnection(); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}
