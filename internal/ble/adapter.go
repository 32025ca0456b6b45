// Package ble is the boundary between the session core and the platform
// Bluetooth stack. The core only sees Adapter and Link; the concrete drivers
// wrap tinygo.org/x/bluetooth and github.com/go-ble/ble.
package ble

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/vitaminmoo/esplink/internal/util"
)

const (
	// DefaultTransferSize is the ATT MTU every link starts with before any
	// exchange.
	DefaultTransferSize = 23

	// ATTHeaderSize is the per-packet overhead of a write or notification.
	ATTHeaderSize = 3
)

var (
	// ErrUnsupported is returned by drivers for operations the platform
	// stack does not expose.
	ErrUnsupported = errors.New("not supported by bluetooth driver")

	// ErrUnknownCharacteristic is returned when a write or subscribe names an
	// endpoint that Resolve did not find.
	ErrUnknownCharacteristic = errors.New("characteristic not resolved on link")

	// ErrLinkClosed is returned by operations on a link after Close or after
	// the peripheral dropped it.
	ErrLinkClosed = errors.New("link closed")
)

// Adapter is the radio. Drivers enable the radio lazily on first use and
// release it in Close.
type Adapter interface {
	// Scan reports advertisements until ctx is done or StopScan is called.
	Scan(ctx context.Context, opts ScanOptions, found func(Peripheral)) error
	StopScan() error
	Connect(ctx context.Context, p Peripheral) (Link, error)
	Close() error
}

// Link is one open connection to a peripheral.
type Link interface {
	// RequestTransferSize asks for an ATT MTU of n and returns what was
	// granted.
	RequestTransferSize(ctx context.Context, n int) (int, error)
	Resolve(ctx context.Context) (ServiceMap, error)
	Subscribe(ctx context.Context, service, characteristic string, fn func([]byte)) error
	Write(ctx context.Context, service, characteristic string, data []byte, withResponse bool) error
	Close(ctx context.Context) error
	IsConnected() bool
	// Done is closed when the link goes away for any reason.
	Done() <-chan struct{}
}

// ScanOptions narrows a scan. An empty Services list scans unfiltered.
type ScanOptions struct {
	Services []string
}

// Peripheral is what a scan reports about an advertising device. It is a
// value type and is never mutated after the driver creates it.
type Peripheral struct {
	ID       string
	Name     string
	RSSI     int
	Services []string

	// native is the driver's own address type, kept so Connect does not
	// have to reparse ID.
	native any
}

// NewPeripheral builds a handle for a known address without scanning.
func NewPeripheral(id, name string) Peripheral {
	return Peripheral{ID: id, Name: name}
}

// HasService reports whether the advertisement listed uuid.
func (p Peripheral) HasService(uuid string) bool {
	for _, s := range p.Services {
		if util.SameUUID(s, uuid) {
			return true
		}
	}
	return false
}

// DisplayName is the advertised name, or the address for unnamed devices.
func (p Peripheral) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

func (p Peripheral) String() string {
	if p.Name == "" {
		return p.ID
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.ID)
}

// ServiceMap maps normalised service UUIDs to their normalised characteristic
// UUIDs.
type ServiceMap map[string][]string

// Add records a characteristic under a service, normalising both.
func (m ServiceMap) Add(service string, characteristics ...string) {
	svc := normalizeOrLower(service)
	if _, ok := m[svc]; !ok {
		m[svc] = nil
	}
	for _, c := range characteristics {
		c = normalizeOrLower(c)
		if !slices.Contains(m[svc], c) {
			m[svc] = append(m[svc], c)
		}
	}
}

// Has reports whether service exists and exposes characteristic.
func (m ServiceMap) Has(service, characteristic string) bool {
	chars, ok := m[normalizeOrLower(service)]
	if !ok {
		return false
	}
	return slices.Contains(chars, normalizeOrLower(characteristic))
}

// HasService reports whether service exists.
func (m ServiceMap) HasService(service string) bool {
	_, ok := m[normalizeOrLower(service)]
	return ok
}

// Services returns the service UUIDs in sorted order.
func (m ServiceMap) Services() []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func normalizeOrLower(s string) string {
	if n, err := util.NormalizeUUID(s); err == nil {
		return n
	}
	return strings.ToLower(s)
}

// endpointKey identifies a characteristic within a service.
func endpointKey(service, characteristic string) string {
	return normalizeOrLower(service) + "/" + normalizeOrLower(characteristic)
}
