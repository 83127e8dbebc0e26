package command

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/snapstream/internal/cli/output"
	"github.com/yndnr/snapstream/internal/infra/buildinfo"
	"github.com/yndnr/snapstream/internal/infra/confloader"
	"github.com/yndnr/snapstream/internal/server/config"
	"github.com/yndnr/snapstream/internal/storage/coord"
	"github.com/yndnr/snapstream/internal/telemetry/logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "snapstream",
		Usage:   "Stream consistent table snapshots and publish their completion",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			SaveCommand(),
			CompletionsCommand(),
			MarkersCommand(),
			VerifyCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{"SNAPSTREAM_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "coord-dir",
			Usage: "Coordination store directory (overrides coord.data_dir)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (overrides log.level)",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: json, text (overrides log.format)",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Config    string
	CoordDir  string
	Output    string
	Wide      bool
	LogLevel  string
	LogFormat string
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Config:    c.String("config"),
		CoordDir:  c.String("coord-dir"),
		Output:    c.String("output"),
		Wide:      c.Bool("wide"),
		LogLevel:  c.String("log-level"),
		LogFormat: c.String("log-format"),
	}
}

// overrides maps the global flags that were set to configuration keys.
func (f *GlobalFlags) overrides() map[string]any {
	m := make(map[string]any)
	if f.CoordDir != "" {
		m["coord.data_dir"] = f.CoordDir
	}
	if f.LogLevel != "" {
		m["log.level"] = f.LogLevel
	}
	if f.LogFormat != "" {
		m["log.format"] = f.LogFormat
	}
	return m
}

// settings holds the effective configuration and how to reload it.
type settings struct {
	cfg       *config.Config
	loader    *confloader.Loader
	overrides map[string]any
}

// loadSettings loads defaults, the config file, the environment and flag
// overrides, in that order, and verifies the result.
func loadSettings(c *cli.Context, extra map[string]any) (*settings, error) {
	flags := ParseGlobalFlags(c)
	overrides := flags.overrides()
	for k, v := range extra {
		overrides[k] = v
	}

	opts := []confloader.Option{confloader.WithDefaults(config.DefaultMap())}
	if flags.Config != "" {
		opts = append(opts, confloader.WithConfigFile(flags.Config))
	}
	s := &settings{
		loader:    confloader.NewLoader(opts...),
		overrides: overrides,
	}
	cfg, err := s.load(false)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

// load reads every source into a fresh Config. With reload set the loader
// discards previously loaded values first.
func (s *settings) load(reload bool) (*config.Config, error) {
	cfg := config.Default()
	load := s.loader.Load
	if reload {
		load = s.loader.Reload
	}
	if err := load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if len(s.overrides) > 0 {
		if err := s.loader.LoadMap(s.overrides); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
		if err := s.loader.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger initializes the structured logger and installs it as default.
// Logs go to stderr so command output stays machine readable.
func initLogger(c *cli.Context, cfg *config.Config) (logger.Logger, *slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: errWriter(c),
	})
	if err != nil {
		return nil, nil, err
	}
	logger.SetDefault(log)
	return log, logger.Slog(log), nil
}

// openStore opens the coordination store named by the configuration.
func openStore(cfg *config.Config, log *slog.Logger) (coord.Store, func() error, error) {
	if cfg.Coord.InMemory {
		return coord.NewMemoryStore(), func() error { return nil }, nil
	}
	store, err := coord.OpenBadgerStore(config.ToBadgerConfig(cfg), log)
	if err != nil {
		return nil, nil, fmt.Errorf("open coordination store: %w", err)
	}
	return store, store.Close, nil
}

// printResult writes data in the format selected by the global flags.
func printResult(c *cli.Context, data any) error {
	return printResultTo(c, outWriter(c), data)
}

func printResultTo(c *cli.Context, w io.Writer, data any) error {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format, flags.Wide).Format(w, data)
}

// tableOutput reports whether the result is rendered for people.
func tableOutput(c *cli.Context) bool {
	format, err := output.ParseFormat(ParseGlobalFlags(c).Output)
	return err == nil && format == output.FormatTable
}

func outWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func inReader(c *cli.Context) io.Reader {
	if c.App != nil && c.App.Reader != nil {
		return c.App.Reader
	}
	return os.Stdin
}

func errWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}
