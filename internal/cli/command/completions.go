package command

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/snapstream/internal/core/domain"
	"github.com/yndnr/snapstream/internal/server/config"
	"github.com/yndnr/snapstream/internal/snapshot"
	"github.com/yndnr/snapstream/internal/storage/coord"
)

// CompletionsCommand returns the completions subcommand group.
func CompletionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "completions",
		Aliases: []string{"comp"},
		Usage:   "Inspect snapshot completion records",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List completion records, oldest first",
				Action: completionsList,
			},
			{
				Name:      "show",
				Usage:     "Show one completion record with its export progress",
				ArgsUsage: "TXN_ID",
				Action:    completionsShow,
			},
			{
				Name:  "prune",
				Usage: "Delete the oldest completion records",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "keep",
						Usage: "Records to keep (default: snapshot.completion_retention)",
					},
				},
				Action: completionsPrune,
			},
		},
	}
}

// MarkersCommand returns the markers subcommand group.
func MarkersCommand() *cli.Command {
	return &cli.Command{
		Name:  "markers",
		Usage: "Inspect nodes currently snapshotting",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List node markers",
				Action: markersList,
			},
		},
	}
}

// completionRow is the table view of a completion record.
type completionRow struct {
	TxnID      int64  `json:"txnId"`
	HostsLeft  int    `json:"hostsLeft"`
	Succeeded  bool   `json:"succeeded"`
	Truncation bool   `json:"truncation"`
	Tables     int    `json:"tables"`
	Path       string `json:"path"`
	Nonce      string `json:"nonce" table:"wide"`
}

// progressRow is one partition of a record's export progress.
type progressRow struct {
	Table          string `json:"table"`
	Partition      int32  `json:"partition"`
	AckOffset      int64  `json:"ackOffset"`
	SequenceNumber int64  `json:"sequenceNumber"`
}

// withStore loads configuration, opens the coordination store and calls fn.
func withStore(c *cli.Context, fn func(ctx context.Context, store coord.Store, cfg *config.Config) error) error {
	st, err := loadSettings(c, nil)
	if err != nil {
		return err
	}
	_, slogger, err := initLogger(c, st.cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	store, closeStore, err := openStore(st.cfg, slogger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()
	return fn(ctx, store, st.cfg)
}

func completionsList(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, store coord.Store, cfg *config.Config) error {
		paths := coord.NewPaths(cfg.Coord.Root)
		recs, err := snapshot.ListCompletions(ctx, store, paths)
		if err != nil {
			return err
		}
		if !tableOutput(c) {
			return printResult(c, recs)
		}
		rows := make([]completionRow, len(recs))
		for i, r := range recs {
			rows[i] = toCompletionRow(r)
		}
		return printResult(c, rows)
	})
}

func completionsShow(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: completions show TXN_ID")
	}
	txnID, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid txn id %q: %w", c.Args().First(), err)
	}

	return withStore(c, func(ctx context.Context, store coord.Store, cfg *config.Config) error {
		paths := coord.NewPaths(cfg.Coord.Root)
		rec, _, err := snapshot.ReadCompletion(ctx, store, paths, txnID)
		if err != nil {
			return fmt.Errorf("read completion %d: %w", txnID, err)
		}
		if !tableOutput(c) {
			return printResult(c, rec)
		}
		if err := printResult(c, toCompletionRow(rec)); err != nil {
			return err
		}
		rows := progressRows(rec.ExportSequenceNumbers)
		if len(rows) == 0 {
			return nil
		}
		fmt.Fprintln(outWriter(c))
		return printResult(c, rows)
	})
}

func completionsPrune(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, store coord.Store, cfg *config.Config) error {
		paths := coord.NewPaths(cfg.Coord.Root)
		keep := cfg.Snapshot.CompletionRetention
		if c.IsSet("keep") {
			keep = c.Int("keep")
		}
		if keep < 0 {
			return fmt.Errorf("--keep must not be negative")
		}
		removed, err := snapshot.PruneCompletions(ctx, store, paths, keep)
		if err != nil {
			return err
		}
		return printResult(c, removed)
	})
}

func markersList(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, store coord.Store, cfg *config.Config) error {
		paths := coord.NewPaths(cfg.Coord.Root)
		markers, err := snapshot.ListMarkers(ctx, store, paths)
		if err != nil {
			return err
		}
		return printResult(c, markers)
	})
}

func toCompletionRow(r *domain.CompletionRecord) completionRow {
	return completionRow{
		TxnID:      r.TxnID,
		HostsLeft:  r.HostCount,
		Succeeded:  r.DidSucceed,
		Truncation: r.IsTruncation,
		Tables:     len(r.ExportSequenceNumbers),
		Path:       r.Path,
		Nonce:      r.Nonce,
	}
}

// progressRows flattens export progress ordered by table and partition.
func progressRows(seq domain.ExportSequenceNumbers) []progressRow {
	var rows []progressRow
	for table, parts := range seq {
		for p, pr := range parts {
			rows = append(rows, progressRow{
				Table:          table,
				Partition:      p,
				AckOffset:      pr.AckOffset,
				SequenceNumber: pr.SequenceNumber,
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Table != rows[j].Table {
			return rows[i].Table < rows[j].Table
		}
		return rows[i].Partition < rows[j].Partition
	})
	return rows
}
