package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/vitaminmoo/esplink/internal/config"
	"github.com/vitaminmoo/esplink/internal/control"
	"github.com/vitaminmoo/esplink/internal/protocol"
	"github.com/vitaminmoo/esplink/internal/session"
)

// Controller is the part of *control.Controller the console drives.
type Controller interface {
	Connect()
	Send(text string)
	Disconnect()
	QuickCommand(name string) error
	QuickCommands() []config.QuickCommand
	Status() control.Status
	Results() <-chan control.Result
	Payloads() <-chan protocol.Notification
	Events() <-chan session.Event
}

// Console is a line-oriented alternative to the TUI for terminals where a
// full-screen UI is unwelcome (serial consoles, screen readers, scripts).
type Console struct {
	ctrl Controller
	rl   *readline.Instance
	out  io.Writer
}

// NewConsole creates the readline prompt.
func NewConsole(ctrl Controller) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "esp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(ctrl.QuickCommands()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{ctrl: ctrl, rl: rl, out: rl.Stdout()}, nil
}

func completer(quick []config.QuickCommand) readline.AutoCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("connect"),
		readline.PcItem("disconnect"),
		readline.PcItem("send"),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	}
	for _, qc := range quick {
		if qc.Label != "" {
			items = append(items, readline.PcItem(strings.ToLower(qc.Label)))
		}
	}
	return readline.NewPrefixCompleter(items...)
}

// Run connects and reads commands until the user quits or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	defer c.rl.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pump(ctx)

	c.printHelp()
	c.ctrl.Connect()

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			return nil
		}

		if c.exec(line) {
			fmt.Fprintln(c.out, "Exiting...")
			return nil
		}
	}
}

// exec runs one input line and reports whether the user asked to quit.
func (c *Console) exec(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "connect", "c":
		st := c.ctrl.Status()
		if st.Connected() || st.Busy() {
			fmt.Fprintf(c.out, "Already %s\n", strings.ToLower(st.Display))
			return false
		}
		c.ctrl.Connect()

	case "disconnect", "d":
		c.ctrl.Disconnect()

	case "send", "s":
		// Keep the user's spacing: everything after the command word.
		text := strings.TrimSpace(input[len(parts[0]):])
		if text == "" {
			fmt.Fprintln(c.out, "Usage: send <text>")
			return false
		}
		c.ctrl.Send(text)

	case "status":
		c.printStatus()

	case "quit", "exit", "q":
		return true

	default:
		if err := c.ctrl.QuickCommand(parts[0]); err != nil {
			fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
	return false
}

// pump prints asynchronous results, payloads and phase changes.
func (c *Console) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-c.ctrl.Results():
			c.printResult(r)
		case n := <-c.ctrl.Payloads():
			fmt.Fprintf(c.out, "← %s\n", n)
		case e := <-c.ctrl.Events():
			if e.Phase == session.Ready || e.Phase == session.Idle || e.Phase == session.Failed {
				fmt.Fprintf(c.out, "[%s]\n", e.Phase.Display())
			}
		}
	}
}

func (c *Console) printResult(r control.Result) {
	if r.Err != nil {
		fmt.Fprintf(c.out, "%s failed: %v\n", r.Op, r.Err)
		return
	}
	switch r.Op {
	case control.OpConnect:
		fmt.Fprintf(c.out, "Connected to %s\n", r.Text)
	case control.OpSend:
		fmt.Fprintf(c.out, "→ %s\n", r.Text)
	case control.OpDisconnect:
		fmt.Fprintln(c.out, "Disconnected")
	}
}

func (c *Console) printStatus() {
	st := c.ctrl.Status()
	fmt.Fprintf(c.out, "Status:      %s\n", st.Display)
	if st.Peripheral != "" {
		fmt.Fprintf(c.out, "Peripheral:  %s\n", st.Peripheral)
	}
	if st.Connected() {
		fmt.Fprintf(c.out, "MTU:         %d\n", st.TransferSize)
	}
	if st.Dropped > 0 {
		fmt.Fprintf(c.out, "Dropped:     %d\n", st.Dropped)
	}
	if st.LastError != "" {
		fmt.Fprintf(c.out, "Last error:  %s\n", st.LastError)
	}
}

func (c *Console) printHelp() {
	var b strings.Builder
	b.WriteString(`
Commands:
  connect, c         - Find and connect to the configured peripheral
  disconnect, d      - Drop the connection
  send <text>, s     - Send text to the peripheral
  status             - Show connection status
  help, ?            - Show this help
  quit, q            - Exit
`)
	if quick := c.ctrl.QuickCommands(); len(quick) > 0 {
		b.WriteString("\nQuick commands:\n")
		for _, qc := range quick {
			fmt.Fprintf(&b, "  %-18s - Send %q\n", strings.ToLower(qc.Label), qc.Payload)
		}
	}
	fmt.Fprintln(c.out, b.String())
}
