package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vitaminmoo/esplink/internal/util"
)

// Origin records who produced a command.
type Origin int

const (
	// OriginUser is text typed by the operator.
	OriginUser Origin = iota
	// OriginProgram is a quick command or a CLI argument.
	OriginProgram
)

func (o Origin) String() string {
	switch o {
	case OriginUser:
		return "user"
	case OriginProgram:
		return "program"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

// ErrEmptyPayload is returned for payloads that carry nothing to send.
var ErrEmptyPayload = errors.New("empty payload")

// Command is an outbound payload. Payload is written to the characteristic
// as-is; message boundaries are write boundaries.
type Command struct {
	Payload []byte
	Origin  Origin
}

// NewTextCommand encodes text for the peripheral. Whitespace-only text is
// rejected; anything else is sent verbatim.
func NewTextCommand(text string, origin Origin) (Command, error) {
	if strings.TrimSpace(text) == "" {
		return Command{}, ErrEmptyPayload
	}
	return Command{Payload: []byte(text), Origin: origin}, nil
}

// Text returns the payload as a string.
func (c Command) Text() string {
	return string(c.Payload)
}

// Notification is one delivery from the subscribed characteristic. Seq
// counts deliveries accepted in the current session, starting at 1.
type Notification struct {
	Seq        uint64
	Payload    []byte
	ReceivedAt time.Time
}

// Malformed reports whether the delivery carried no usable payload.
func (n Notification) Malformed() bool {
	return len(n.Payload) == 0
}

// Text renders the payload for display: text when printable, hex otherwise.
func (n Notification) Text() string {
	return util.Printable(n.Payload)
}

// IsText reports whether the payload is printable text.
func (n Notification) IsText() bool {
	return len(n.Payload) > 0 && util.IsTextData(n.Payload)
}

func (n Notification) String() string {
	return fmt.Sprintf("#%d %s %s", n.Seq, n.ReceivedAt.Format("15:04:05.000"), n.Text())
}
