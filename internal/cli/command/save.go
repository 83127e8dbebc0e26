package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/snapstream/internal/cli/output"
	"github.com/yndnr/snapstream/internal/infra/confloader"
	"github.com/yndnr/snapstream/internal/infra/shutdown"
	"github.com/yndnr/snapstream/internal/server/config"
	"github.com/yndnr/snapstream/internal/server/httpserver"
	"github.com/yndnr/snapstream/internal/storage/memory"
	"github.com/yndnr/snapstream/internal/storage/target"
	"github.com/yndnr/snapstream/internal/telemetry/logger"
	"github.com/yndnr/snapstream/internal/telemetry/metric"
	"github.com/yndnr/snapstream/pkg/crypto/adaptive"
)

// ErrSnapshotFailed is returned when the snapshot completed unsuccessfully.
var ErrSnapshotFailed = errors.New("snapshot failed")

// SaveCommand returns the save command.
func SaveCommand() *cli.Command {
	return &cli.Command{
		Name:  "save",
		Usage: "Snapshot a dataset into one file per table, or one stream, and publish the completion record",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dataset",
				Aliases:  []string{"d"},
				Usage:    "YAML dataset to load into the in-memory row store",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Output directory (overrides snapshot.output_dir)",
			},
			&cli.IntFlag{
				Name:  "sites",
				Usage: "Number of sites, one per partition (overrides node.sites)",
			},
			&cli.IntFlag{
				Name:  "priority",
				Usage: "Throttle priority 0 (off) to 10 (overrides snapshot.priority)",
			},
			&cli.StringFlag{
				Name:    "encryption-key",
				Usage:   "Hex secret used to seal snapshot frames",
				EnvVars: []string{"SNAPSTREAM_SNAPSHOT_ENCRYPTION_KEY"},
			},
			&cli.Int64Flag{
				Name:  "txn",
				Usage: "Snapshot transaction id (default: current time in milliseconds)",
			},
			&cli.BoolFlag{
				Name:  "truncation",
				Usage: "Mark the snapshot as a truncation snapshot",
			},
			&cli.StringFlag{
				Name:  "stream",
				Usage: "Send all tables as one stream to a TCP address, or - for stdout, instead of writing files",
			},
			&cli.IntFlag{
				Name:  "stream-rate",
				Usage: "Stream bandwidth limit in MiB/s, 0 for unlimited (overrides snapshot.stream_rate_mbps)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve metrics and status endpoints on this address while saving",
			},
		},
		Action: saveAction,
	}
}

// saveOverrides maps the save flags that were set to configuration keys.
func saveOverrides(c *cli.Context) map[string]any {
	m := make(map[string]any)
	if c.IsSet("out") {
		m["snapshot.output_dir"] = c.String("out")
	}
	if c.IsSet("sites") {
		m["node.sites"] = c.Int("sites")
	}
	if c.IsSet("priority") {
		m["snapshot.priority"] = c.Int("priority")
	}
	if c.IsSet("encryption-key") {
		m["snapshot.encryption_key"] = c.String("encryption-key")
	}
	if c.IsSet("stream-rate") {
		m["snapshot.stream_rate_mbps"] = c.Int("stream-rate")
	}
	if c.IsSet("metrics-addr") {
		m["metrics.addr"] = c.String("metrics-addr")
	}
	return m
}

func saveAction(c *cli.Context) error {
	st, err := loadSettings(c, saveOverrides(c))
	if err != nil {
		return err
	}
	cfg := st.cfg

	log, slogger, err := initLogger(c, cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Debug("configuration loaded", "config", config.Sanitize(cfg))

	ds, err := memory.LoadDataset(c.String("dataset"))
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg, slogger)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics := metric.NewRegistry()
	if sizer, ok := store.(metric.StoreSizer); ok {
		if err := metrics.Register(metric.NewStoreCollector(sizer)); err != nil {
			return err
		}
	}

	var secret []byte
	if cfg.Snapshot.EncryptionKey != "" {
		if secret, err = config.DecodeSecret(cfg.Snapshot.EncryptionKey); err != nil {
			return err
		}
	}
	cipher, err := adaptive.ParseCipherType(cfg.Snapshot.Cipher)
	if err != nil {
		return err
	}

	txnID := c.Int64("txn")
	if txnID == 0 {
		txnID = time.Now().UnixMilli()
	}

	format, err := output.ParseFormat(ParseGlobalFlags(c).Output)
	if err != nil {
		return err
	}
	var spinner *output.Spinner
	opts := saveOptions{
		cfg:        cfg,
		dataset:    ds,
		store:      store,
		metrics:    metrics,
		logger:     slogger,
		txnID:      txnID,
		truncation: c.Bool("truncation"),
		secret:     secret,
		cipher:     cipher,
	}
	results := outWriter(c)
	if addr := c.String("stream"); addr != "" {
		w, err := openStreamWriter(c, addr)
		if err != nil {
			return err
		}
		opts.stream = w
		opts.streamName = "stream:" + addr
		if addr == "-" {
			results = errWriter(c)
		}
	}
	if format == output.FormatTable {
		spinner = output.NewSpinner(errWriter(c), fmt.Sprintf("Saving snapshot %d", txnID))
		opts.progress = func(n int64) {
			spinner.SetMessage(fmt.Sprintf("Saving snapshot %d: %s streamed", txnID, output.FormatBytes(n)))
		}
	}

	s, err := newSaver(opts)
	if err != nil {
		if opts.stream != nil {
			opts.stream.Close()
		}
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	ctx = logger.WithTxnID(logger.WithLogger(ctx, log), txnID)
	sd := shutdown.NewHandler(30 * time.Second)
	sd.OnShutdown(func(context.Context) error {
		if s.node.IsSnapshotInProgress() {
			logger.L(ctx).Warn("stopping with snapshot in progress")
		}
		cancel()
		return nil
	})
	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		srv := httpserver.New(cfg.Metrics.Addr, httpserver.NewRouter(&httpserver.RouterConfig{
			Metrics: metrics.Handler(),
			Status:  s.Status,
			Logger:  slogger,
		}))
		go func() {
			if err := srv.Serve(ln); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
		sd.OnShutdown(srv.Shutdown)
		log.Info("metrics server listening", "addr", ln.Addr().String())
	}
	if path := st.loader.FilePath(); path != "" {
		stopWatch, err := watchConfig(st, path, s, slogger)
		if err != nil {
			log.Warn("config hot reload disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}
	go func() {
		if err := sd.WaitContext(ctx); err != nil {
			log.Warn("shutdown hooks failed", "error", err)
		}
	}()
	defer func() {
		cancel()
		<-sd.Done()
	}()

	if spinner != nil {
		spinner.Start()
	}
	result, err := s.Run(ctx)
	if spinner != nil {
		switch {
		case err != nil:
			spinner.Fail(err.Error())
		case !result.Succeeded:
			spinner.Fail(fmt.Sprintf("Snapshot %d failed", txnID))
		default:
			spinner.Success(fmt.Sprintf("Snapshot %d saved in %s", txnID, result.Duration))
		}
	}
	if err != nil {
		return err
	}

	switch {
	case format != output.FormatTable:
		err = printResultTo(c, results, result)
	case result.Stream != nil:
		err = printResultTo(c, results, []target.StreamInfo{*result.Stream})
	default:
		err = printResultTo(c, results, result.Files)
	}
	if err != nil {
		return err
	}
	if !result.Succeeded {
		return fmt.Errorf("%w: txn %d", ErrSnapshotFailed, txnID)
	}
	return nil
}

// openStreamWriter connects the snapshot stream. "-" writes to the command's
// output, which the stream then owns.
func openStreamWriter(c *cli.Context, addr string) (io.WriteCloser, error) {
	if addr == "-" {
		return nopWriteCloser{outWriter(c)}, nil
	}
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	return conn, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// watchConfig reloads the configuration when its file changes and applies
// the settings that can change while a snapshot runs: the throttle priority
// and the log level.
func watchConfig(st *settings, path string, s *saver, log *slog.Logger) (stop func(), err error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := st.load(true)
		if err != nil {
			log.Warn("ignoring invalid configuration change", "error", err)
			return
		}
		s.SetPriority(cfg.Snapshot.Priority)
		logger.SetLevel(cfg.Log.Level)
		log.Info("configuration reloaded",
			"priority", cfg.Snapshot.Priority,
			"log_level", cfg.Log.Level)
	})
	w.StartAsync()
	return func() { w.Stop() }, nil
}
