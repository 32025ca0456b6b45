package session

import "fmt"

// Phase is the lifecycle state of the session.
type Phase int

const (
	Idle Phase = iota
	Scanning
	Connecting
	NegotiatingTransfer
	ResolvingServices
	SubscribingNotifications
	Ready
	Disconnecting
	Failed
)

var phaseNames = [...]string{
	Idle:                     "Idle",
	Scanning:                 "Scanning",
	Connecting:               "Connecting",
	NegotiatingTransfer:      "NegotiatingTransfer",
	ResolvingServices:        "ResolvingServices",
	SubscribingNotifications: "SubscribingNotifications",
	Ready:                    "Ready",
	Disconnecting:            "Disconnecting",
	Failed:                   "Failed",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Display is the short status line shown to the operator.
func (p Phase) Display() string {
	switch p {
	case Idle:
		return "Disconnected"
	case Scanning:
		return "Scanning..."
	case Connecting:
		return "Connecting..."
	case NegotiatingTransfer:
		return "Negotiating MTU..."
	case ResolvingServices:
		return "Discovering services..."
	case SubscribingNotifications:
		return "Subscribing..."
	case Ready:
		return "Connected"
	case Disconnecting:
		return "Disconnecting..."
	case Failed:
		return "Failed"
	default:
		return p.String()
	}
}

// HasPeripheral reports whether a session in this phase owns a peripheral.
func (p Phase) HasPeripheral() bool {
	return p != Idle && p != Scanning
}

// InFlight reports whether a discovery or connection attempt is running.
func (p Phase) InFlight() bool {
	switch p {
	case Scanning, Connecting, NegotiatingTransfer, ResolvingServices, SubscribingNotifications:
		return true
	}
	return false
}

// pipelineNext is the phase that follows p on the way to Ready.
func pipelineNext(p Phase) (Phase, bool) {
	switch p {
	case Idle:
		return Scanning, true
	case Scanning:
		return Connecting, true
	case Connecting:
		return NegotiatingTransfer, true
	case NegotiatingTransfer:
		return ResolvingServices, true
	case ResolvingServices:
		return SubscribingNotifications, true
	case SubscribingNotifications:
		return Ready, true
	}
	return p, false
}
