package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vitaminmoo/esplink/internal/ble"
	"github.com/vitaminmoo/esplink/internal/commands"
	"github.com/vitaminmoo/esplink/internal/config"
	"github.com/vitaminmoo/esplink/internal/control"
	"github.com/vitaminmoo/esplink/internal/session"
	"github.com/vitaminmoo/esplink/internal/store"
	"github.com/vitaminmoo/esplink/internal/tui"
)

// CLI is the root command structure for esplink.
type CLI struct {
	Verbose    bool   `short:"v" help:"Enable verbose debug output"`
	ConfigFile string `name:"config" short:"c" type:"path" help:"Config file (default: user config dir/esplink/config.yaml)"`
	Driver     string `help:"Bluetooth driver: tinygo or goble (overrides config)"`
	Name       string `help:"Advertised name of the target (overrides config)"`
	Address    string `help:"Connect to this address without scanning (overrides config)"`
	LogFile    string `type:"path" help:"Write logs to this file"`

	// Default command - TUI
	Tui TuiCmd `cmd:"" default:"withargs" help:"Launch interactive TUI (default)"`

	Console ConsoleCmd `cmd:"" help:"Line-oriented interactive console"`
	Scan    ScanCmd    `cmd:"" help:"List peripherals in range"`
	Explore ExploreCmd `cmd:"" help:"List the target's services and characteristics"`
	Send    SendCmd    `cmd:"" help:"Send text to the target"`
	Listen  ListenCmd  `cmd:"" help:"Print notifications from the target"`
	Config  ConfigCmd  `cmd:"" help:"Configuration file operations"`

	Transcripts TranscriptsCmd `cmd:"" help:"Recorded sessions"`
}

// loadConfig reads the config file and applies flag overrides.
func (g *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.ConfigFile)
	if err != nil {
		return nil, err
	}
	if g.Driver != "" {
		cfg.Driver = g.Driver
	}
	if g.Name != "" {
		cfg.Target.Name = g.Name
	}
	if g.Address != "" {
		cfg.Target.Address = g.Address
	}
	if g.LogFile != "" {
		cfg.LogFile = g.LogFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// env is everything a device command needs.
type env struct {
	cfg  *config.Config
	log  *zap.Logger
	sess *session.Session

	ctx  context.Context
	stop context.CancelFunc
	sync func()
}

// setup builds the logger, the driver and the session. quiet keeps the
// terminal free for a full-screen UI.
func (g *CLI) setup(quiet bool) (*env, error) {
	config.Verbose = g.Verbose

	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}

	log, sync, err := config.NewLogger(config.LogOptions{
		Verbose: g.Verbose,
		File:    cfg.LogFile,
		Quiet:   quiet,
	})
	if err != nil {
		return nil, err
	}

	adapter, err := ble.New(cfg)
	if err != nil {
		sync()
		return nil, err
	}

	opts := session.OptionsFromConfig(cfg)
	opts.Logger = log
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &env{
		cfg:  cfg,
		log:  log,
		sess: session.New(adapter, opts),
		ctx:  ctx,
		stop: stop,
		sync: sync,
	}, nil
}

// close releases the session and the adapter.
func (e *env) close() error {
	defer e.done()
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ConnectTimeout)
	defer cancel()
	if err := e.sess.Close(ctx); err != nil {
		e.log.Warn("shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

// done stops signal handling and flushes the log. Interactive commands call
// it directly since the controller already closed the session.
func (e *env) done() {
	e.stop()
	e.sync()
}

// --- Interactive Commands ---

type TuiCmd struct{}

func (c *TuiCmd) Run(globals *CLI) error {
	e, err := globals.setup(true)
	if err != nil {
		return err
	}
	defer e.done()
	ctrl := control.New(e.sess, e.cfg, e.log)
	err = tui.Run(ctrl)
	return errors.Join(err, ctrl.Close())
}

type ConsoleCmd struct{}

func (c *ConsoleCmd) Run(globals *CLI) error {
	e, err := globals.setup(false)
	if err != nil {
		return err
	}
	defer e.done()
	ctrl := control.New(e.sess, e.cfg, e.log)
	console, err := commands.NewConsole(ctrl)
	if err != nil {
		return errors.Join(err, ctrl.Close())
	}
	err = console.Run(e.ctx)
	return errors.Join(err, ctrl.Close())
}

// --- One-shot Commands ---

type ScanCmd struct {
	Timeout time.Duration `help:"How long to scan (overrides config)"`
	Service bool          `help:"Only list peripherals advertising the configured service"`
}

func (c *ScanCmd) Run(globals *CLI) error {
	e, err := globals.setup(false)
	if err != nil {
		return err
	}
	if c.Timeout > 0 {
		e.cfg.ScanTimeout = c.Timeout
	}
	err = commands.Scan(e.ctx, e.sess, e.cfg, os.Stdout, c.Service)
	return errors.Join(err, e.close())
}

type ExploreCmd struct{}

func (c *ExploreCmd) Run(globals *CLI) error {
	e, err := globals.setup(false)
	if err != nil {
		return err
	}
	err = commands.Explore(e.ctx, e.sess, e.cfg, os.Stdout)
	return errors.Join(err, e.close())
}

type SendCmd struct {
	Text   []string      `arg:"" help:"Text to send (words are joined with spaces)"`
	Wait   time.Duration `default:"2s" help:"How long to print replies after sending (0 to skip)"`
	Record bool          `help:"Save the exchange as a transcript"`
}

func (c *SendCmd) Run(globals *CLI) error {
	st, err := openStore(c.Record)
	if err != nil {
		return err
	}
	e, err := globals.setup(false)
	if err != nil {
		return err
	}
	err = commands.Send(e.ctx, e.sess, e.cfg, os.Stdout, strings.Join(c.Text, " "), c.Wait, st)
	return errors.Join(err, e.close())
}

type ListenCmd struct {
	Reconnect bool `short:"r" help:"Reconnect with backoff when the connection fails or drops"`
	Record    bool `help:"Save each connection as a transcript"`
}

func (c *ListenCmd) Run(globals *CLI) error {
	st, err := openStore(c.Record)
	if err != nil {
		return err
	}
	e, err := globals.setup(false)
	if err != nil {
		return err
	}
	err = commands.Listen(e.ctx, e.sess, e.cfg, os.Stdout, c.Reconnect, st)
	return errors.Join(err, e.close())
}

// openStore opens the transcript store when recording is wanted.
func openStore(want bool) (*store.Store, error) {
	if !want {
		return nil, nil
	}
	return store.OpenDefault()
}

// --- Transcript Commands ---

type TranscriptsCmd struct {
	List TranscriptsListCmd `cmd:"" default:"1" help:"List recorded sessions"`
	Show TranscriptsShowCmd `cmd:"" help:"Print one recorded session"`
}

type TranscriptsListCmd struct{}

func (c *TranscriptsListCmd) Run(globals *CLI) error {
	st, err := store.OpenDefault()
	if err != nil {
		return err
	}
	return commands.ListTranscripts(st, os.Stdout)
}

type TranscriptsShowCmd struct {
	ID string `arg:"" help:"Transcript ID from the list"`
}

func (c *TranscriptsShowCmd) Run(globals *CLI) error {
	st, err := store.OpenDefault()
	if err != nil {
		return err
	}
	return commands.ShowTranscript(st, c.ID, os.Stdout)
}

// --- Config Commands ---

type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" default:"1" help:"Print the effective configuration"`
	Init ConfigInitCmd `cmd:"" help:"Write the default configuration file"`
	Path ConfigPathCmd `cmd:"" help:"Print the default config file location"`
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	return commands.ShowConfig(cfg, os.Stdout)
}

type ConfigInitCmd struct {
	Force bool `short:"f" help:"Overwrite an existing file without asking"`
}

func (c *ConfigInitCmd) Run(globals *CLI) error {
	confirm := func(prompt string) bool {
		return c.Force || commands.ConfirmAction(os.Stdin, os.Stdout, prompt)
	}
	return commands.InitConfig(globals.ConfigFile, os.Stdout, confirm)
}

type ConfigPathCmd struct{}

func (c *ConfigPathCmd) Run(globals *CLI) error {
	if globals.ConfigFile != "" {
		fmt.Println(globals.ConfigFile)
		return nil
	}
	p, err := config.DefaultPath()
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}
