package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/sydlexius/corruptscan/internal/config"
	"github.com/sydlexius/corruptscan/internal/event"
	"github.com/sydlexius/corruptscan/internal/logging"
	"github.com/sydlexius/corruptscan/internal/report"
	"github.com/sydlexius/corruptscan/internal/scanner"
	"github.com/sydlexius/corruptscan/internal/version"
	"github.com/sydlexius/corruptscan/internal/walk"
	"github.com/sydlexius/corruptscan/internal/watcher"
)

// CLI is the command line of corruptscan.
type CLI struct {
	Path    string           `arg:"" optional:"" help:"Directory to check. Defaults to the current working directory."`
	All     bool             `help:"Check all files for null-byte content, not just JSON files."`
	Verbose bool             `help:"Print each problem as files get checked. Otherwise only progress is shown."`
	Version kong.VersionFlag `short:"v" help:"Show the version number and exit."`

	Workers   int    `help:"Files checked concurrently. 0 keeps the configured value (one per CPU by default)."`
	Report    string `type:"path" placeholder:"FILE" help:"Also write the results as JSON to FILE."`
	Watch     bool   `help:"After the scan, keep checking files as they change until interrupted."`
	Config    string `type:"path" placeholder:"FILE" help:"Config file. Defaults to $CS_CONFIG_PATH or corruptscan/config.yaml in the XDG config directories."`
	LogLevel  string `placeholder:"LEVEL" help:"Log level: debug, info, warn or error."`
	LogFormat string `placeholder:"FORMAT" help:"Log format: text or json."`
	LogFile   string `type:"path" placeholder:"FILE" help:"Also write logs to FILE, rotated by size."`
	NoColor   bool   `help:"Disable colored output."`

	stdout io.Writer `kong:"-"`
}

func newParser(ctx context.Context, cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("corruptscan"),
		kong.Description("Check for corrupted files: invalid JSON documents, or with --all, files made of nothing but null bytes."),
		kong.Vars{"version": "corruptscan " + version.String()},
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.UsageOnError(),
	}, options...)
	return kong.New(cli, options...)
}

// apply overrides cfg with the flags that were given and validates the result.
func (c *CLI) apply(cfg *config.Config) error {
	if c.Workers != 0 {
		cfg.Scan.Workers = c.Workers
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Logging.Format = c.LogFormat
	}
	if c.LogFile != "" {
		cfg.Logging.FilePath = c.LogFile
	}
	if c.NoColor {
		cfg.Output.NoColor = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

func (c *CLI) mode() walk.Mode {
	if c.All {
		return walk.ModeAll
	}
	return walk.ModeJSON
}

// Run performs the scan. Finding corrupted files is not an error.
func (c *CLI) Run(ctx context.Context) error {
	stdout := c.stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	// Log with defaults until the config is known.
	logManager, logger := logging.NewManager(logging.DefaultConfig())
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	cfg, err := config.Load(config.ResolvePath(c.Config))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := c.apply(cfg); err != nil {
		return err
	}
	logManager.Reconfigure(cfg.Logging)
	if cfg.Output.NoColor {
		color.NoColor = true
	}

	root, err := walk.Clean(c.Path)
	if err != nil {
		return err
	}
	mode := c.mode()
	fmt.Fprintf(stdout, "Searching for files in '%s'\n", root)

	bus := event.NewBus(logger, 256)
	go bus.Start()
	defer bus.Stop()
	subscribeLogging(bus, logger)

	progress := newRenderer(stdout, cfg)
	svc := scanner.NewService(osfs.New("/"), progress, logger, cfg.Scan.Workers)
	svc.SetEventBus(bus)

	result, err := svc.Run(ctx, root, mode, c.Verbose)
	if err != nil {
		if !errors.Is(err, walk.ErrEnumeration) {
			progress.Finish()
		}
		return err
	}
	progress.Finish()
	report.PrintSummary(stdout, result)

	if c.Report != "" {
		if err := report.WriteFile(osfs.New("/"), c.Report, result); err != nil {
			return err
		}
		logger.Info("report written", "path", c.Report)
	}

	if !c.Watch {
		return nil
	}
	return c.watch(ctx, stdout, cfg, root, mode, svc, result, bus, logger)
}

// newRenderer picks the bar for a terminal stdout and plain lines otherwise.
func newRenderer(w io.Writer, cfg *config.Config) report.Renderer {
	if f, ok := w.(*os.File); ok {
		return report.New(f, cfg.Progress.Interval)
	}
	return report.NewPlain(w)
}

// watch re-checks changed files until ctx is canceled.
func (c *CLI) watch(ctx context.Context, stdout io.Writer, cfg *config.Config, root string, mode walk.Mode,
	svc *scanner.Service, initial *scanner.ScanResult, bus *event.Bus, logger *slog.Logger,
) error {
	printer := report.NewWatchPrinter(stdout)
	rechecker := scanner.NewRechecker(svc, mode, initial, printer)
	bus.Subscribe(event.FileChanged, rechecker.HandleEvent)
	bus.Subscribe(event.FileRemoved, rechecker.HandleEvent)

	w := watcher.NewService(root, mode, bus, logger)
	w.SetDebounce(cfg.Watch.Debounce)
	w.SetPollInterval(cfg.Watch.PollInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	select {
	case <-w.Ready():
		printer.Watching(root)
	case err := <-errCh:
		return err
	}

	err := <-errCh
	// Drain pending re-checks before reading the flagged count.
	bus.Stop()
	fmt.Fprintf(stdout, "\nStopped watching, %d files flagged.\n", rechecker.Flagged())
	return err
}

// subscribeLogging records scan lifecycle events in the log.
func subscribeLogging(bus *event.Bus, logger *slog.Logger) {
	logger = logger.With("component", "events")
	bus.Subscribe(event.ScanStarted, func(e event.Event) {
		logger.Debug("scan started", "scan_id", e.Data["scan_id"], "root", e.Data["root"], "total", e.Data["total"])
	})
	bus.Subscribe(event.FileCorrupted, func(e event.Event) {
		logger.Info("corrupted file", "scan_id", e.Data["scan_id"], "path", e.Path(), "reason", e.Data["reason"])
	})
	bus.Subscribe(event.ScanCompleted, func(e event.Event) {
		logger.Info("scan summary",
			"scan_id", e.Data["scan_id"], "total", e.Data["total"],
			"corrupted", e.Data["corrupted"], "duration", e.Data["duration"])
	})
}
