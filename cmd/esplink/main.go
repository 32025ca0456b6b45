// Command esplink talks to an ESP32 over a BLE serial-style characteristic.
//
// Usage:
//
//	esplink [flags] [command]
//
// With no command the interactive TUI starts, connects to the configured
// target and shows everything it sends.
//
// Examples:
//
//	esplink scan
//	esplink send --wait 5s "LED ON"
//	esplink --address AA:BB:CC:DD:EE:FF listen --reconnect
//	esplink config init
package main

import (
	"github.com/alecthomas/kong"

	"github.com/vitaminmoo/esplink/internal/cli"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c,
		kong.Name("esplink"),
		kong.Description("Connect to an ESP32 over BLE, send commands and watch its notifications."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&c)
	ctx.FatalIfErrorf(err)
}
