package command

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/snapstream/internal/core/domain"
	"github.com/yndnr/snapstream/internal/infra/confloader"
	"github.com/yndnr/snapstream/internal/server/config"
	"github.com/yndnr/snapstream/internal/snapshot"
	"github.com/yndnr/snapstream/internal/storage/coord"
	"github.com/yndnr/snapstream/internal/storage/memory"
	"github.com/yndnr/snapstream/internal/storage/target"
)

func TestSave_EndToEnd(t *testing.T) {
	e := newEnv(t)

	out := e.mustRun("-o", "json", "save", "--dataset", e.dataset, "--out", e.outDir, "--sites", "3", "--txn", "42")
	res := decode[SaveResult](t, out)

	if !res.Succeeded || res.TxnID != 42 {
		t.Fatalf("result = %+v, want succeeded txn 42", res)
	}
	if res.Record == nil || res.Record.HostCount != 0 || !res.Record.DidSucceed {
		t.Errorf("record = %+v, want all hosts reported success", res.Record)
	}
	if got := len(res.Record.ExportSequenceNumbers["orders"]); got != 3 {
		t.Errorf("orders progress partitions = %d, want 3", got)
	}
	if _, ok := res.Record.ExportSequenceNumbers["regions"]; ok {
		t.Error("replicated tables carry no export progress")
	}
	if len(res.Files) != 3 {
		t.Fatalf("files = %d, want one per table", len(res.Files))
	}

	// Every row lands in exactly one file, replicated rows once.
	wantRows := map[string]int{"orders": 4, "customers": 2, "regions": 2}
	reports := decode[[]FileReport](t, e.mustRun("-o", "json", "verify",
		res.Files[0].Path, res.Files[1].Path, res.Files[2].Path))
	for _, r := range reports {
		if r.Error != "" || r.TxnID != 42 {
			t.Errorf("report = %+v", r)
		}
		if r.Rows != wantRows[r.Table] {
			t.Errorf("%s rows = %d, want %d", r.Table, r.Rows, wantRows[r.Table])
		}
	}

	recs := decode[[]domain.CompletionRecord](t, e.mustRun("-o", "json", "completions", "list"))
	if len(recs) != 1 || recs[0].TxnID != 42 {
		t.Errorf("completions = %+v", recs)
	}
	shown := e.mustRun("completions", "show", "42")
	if !strings.Contains(shown, "orders") || !strings.Contains(shown, "SEQUENCE_NUMBER") {
		t.Errorf("show output:\n%s", shown)
	}

	markers := decode[[]snapshot.Marker](t, e.mustRun("-o", "json", "markers", "list"))
	if len(markers) != 0 {
		t.Errorf("markers after completion = %+v", markers)
	}

	removed := decode[[]int64](t, e.mustRun("-o", "json", "completions", "prune", "--keep", "0"))
	if len(removed) != 1 || removed[0] != 42 {
		t.Errorf("removed = %v, want [42]", removed)
	}
}

func TestSave_DuplicateTxn(t *testing.T) {
	e := newEnv(t)
	e.mustRun("-o", "json", "save", "--dataset", e.dataset, "--out", e.outDir, "--txn", "7")

	_, err := e.run("-o", "json", "save", "--dataset", e.dataset, "--out", e.outDir, "--txn", "7")
	if !errors.Is(err, ErrSnapshotExists) {
		t.Errorf("second save error = %v, want ErrSnapshotExists", err)
	}
}

func TestSave_SealedFiles(t *testing.T) {
	e := newEnv(t)
	key := strings.Repeat("0f", 32)

	out := e.mustRun("-o", "json", "save", "--dataset", e.dataset, "--out", e.outDir,
		"--txn", "9", "--priority", "2", "--encryption-key", key)
	res := decode[SaveResult](t, out)
	if !res.Succeeded || len(res.Files) == 0 {
		t.Fatalf("result = %+v", res)
	}
	path := res.Files[0].Path

	if _, err := e.run("-o", "json", "verify", path); err == nil {
		t.Error("verify without the key should fail")
	}
	reports := decode[[]FileReport](t, e.mustRun("-o", "json", "verify", "--encryption-key", key, path))
	if len(reports) != 1 || !reports[0].Sealed || reports[0].Error != "" {
		t.Errorf("reports = %+v", reports)
	}
}

func TestSave_TableOutput(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun("save", "--dataset", e.dataset, "--out", e.outDir, "--txn", "5")
	if !strings.Contains(out, "PATH") || !strings.Contains(out, "5-orders.snap") {
		t.Errorf("table output:\n%s", out)
	}
}

func TestSave_InvalidFlags(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run("save", "--dataset", e.dataset, "--priority", "11"); err == nil {
		t.Error("priority 11 should be rejected")
	}
	if _, err := e.run("save", "--dataset", filepath.Join(e.dir, "missing.yaml")); err == nil {
		t.Error("missing dataset should be rejected")
	}
}

func TestSiteTasks_ReplicatedOnFirstSite(t *testing.T) {
	tables := []memory.TableDef{
		{ID: 1, Name: "orders"},
		{ID: 3, Name: "regions", Replicated: true},
	}
	ids := []string{"1-orders", "1-regions"}

	if got := siteTasks(0, tables, ids); len(got) != 2 || !got[1].Replicated || got[1].TargetID != "1-regions" {
		t.Errorf("site 0 tasks = %+v", got)
	}
	if got := siteTasks(1, tables, ids); len(got) != 1 || got[0].TableName != "orders" {
		t.Errorf("site 1 tasks = %+v", got)
	}
}

func TestSave_StreamToStdout(t *testing.T) {
	e := newEnv(t)

	stream, results, err := e.runPiped(nil, "-o", "json", "save", "--dataset", e.dataset,
		"--out", e.outDir, "--sites", "2", "--txn", "43", "--stream", "-", "--stream-rate", "4")
	if err != nil {
		t.Fatalf("save: %v\n%s", err, results)
	}
	res := decode[SaveResult](t, results)
	if !res.Succeeded || res.Stream == nil || res.Stream.ID != "43-stream" {
		t.Fatalf("result = %+v, want a succeeded stream", res)
	}
	if len(res.Files) != 0 {
		t.Errorf("files = %+v, want none when streaming", res.Files)
	}
	if res.Record == nil || res.Record.Path != "stream:-" || res.Record.HostCount != 0 {
		t.Errorf("record = %+v", res.Record)
	}
	if entries, _ := os.ReadDir(e.outDir); len(entries) != 0 {
		t.Errorf("output dir holds %d entries, want none", len(entries))
	}

	out, _, err := e.runPiped(strings.NewReader(stream), "-o", "json", "verify", "-")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	reports := decode[[]FileReport](t, out)
	if len(reports) != 1 {
		t.Fatalf("reports = %+v", reports)
	}
	r := reports[0]
	// Replicated rows are streamed once, by the first site.
	if r.Error != "" || r.TxnID != 43 || r.Rows != 8 || r.Table != "1,2,3" {
		t.Errorf("report = %+v, want 8 rows of tables 1,2,3", r)
	}
	if r.Frames != res.Stream.Frames {
		t.Errorf("verified %d frames, sent %d", r.Frames, res.Stream.Frames)
	}
}

func TestSaver_StreamTruncatedIsRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Coord.InMemory = true
	cfg.Snapshot.StreamRateMBps = 1
	ds, err := memory.ParseDataset([]byte(testDataset))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	s, err := newSaver(saveOptions{
		cfg: cfg, dataset: ds, store: coord.NewMemoryStore(), txnID: 12, logger: discardLogger(),
		stream: nopWriteCloser{&buf}, streamName: "stream:test",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Succeeded || res.Stream == nil || res.Stream.Frames == 0 {
		t.Fatalf("result = %+v", res)
	}

	full := buf.Bytes()
	if _, err := target.ReadStream(bytes.NewReader(full), nil, nil); err != nil {
		t.Fatalf("ReadStream() = %v", err)
	}
	if _, err := verifyStream(bytes.NewReader(full[:len(full)-1]), nil); !errors.Is(err, target.ErrTruncated) {
		t.Errorf("truncated stream: err = %v, want ErrTruncated", err)
	}
}

func TestProgressRows_Sorted(t *testing.T) {
	rows := progressRows(domain.ExportSequenceNumbers{
		"orders":    {1: {SequenceNumber: 4}, 0: {SequenceNumber: 2}},
		"customers": {0: {SequenceNumber: 1}},
	})
	if len(rows) != 3 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Table != "customers" || rows[1].Partition != 0 || rows[2].SequenceNumber != 4 {
		t.Errorf("rows out of order: %+v", rows)
	}
}

func TestWatchConfig_AppliesPriority(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "snapstream.yaml")
	if err := os.WriteFile(cfgPath, []byte("snapshot:\n  priority: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	st := &settings{loader: confloader.NewLoader(
		confloader.WithDefaults(config.DefaultMap()),
		confloader.WithConfigFile(cfgPath),
	)}
	cfg, err := st.load(false)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := memory.ParseDataset([]byte(testDataset))
	if err != nil {
		t.Fatal(err)
	}
	s, err := newSaver(saveOptions{cfg: cfg, dataset: ds, store: coord.NewMemoryStore()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if got := s.node.Priority(); got != 1 {
		t.Fatalf("initial priority = %d, want 1", got)
	}

	stop, err := watchConfig(st, cfgPath, s, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if err := os.WriteFile(cfgPath, []byte("snapshot:\n  priority: 7\n"), 0600); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for s.node.Priority() != 7 {
		if time.Now().After(deadline) {
			t.Fatalf("priority = %d after reload, want 7", s.node.Priority())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSaver_CancelledRunFails(t *testing.T) {
	cfg := config.Default()
	cfg.Coord.InMemory = true
	cfg.Snapshot.OutputDir = t.TempDir()
	cfg.Snapshot.Priority = 10
	ds, err := memory.ParseDataset([]byte(testDataset))
	if err != nil {
		t.Fatal(err)
	}
	store := coord.NewMemoryStore()
	s, err := newSaver(saveOptions{cfg: cfg, dataset: ds, store: store, txnID: 11, logger: discardLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Priority 10 spaces the sites' first units 50ms apart, so the run is
	// still streaming when it is cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	defer cancel()

	res, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Succeeded || res.Record == nil || res.Record.DidSucceed {
		t.Errorf("cancelled run = %+v, want failure recorded", res)
	}
	if res.Record.HostCount != 0 {
		t.Errorf("HostCount = %d, want the node to have reported", res.Record.HostCount)
	}
}

func TestSaver_StatusIdle(t *testing.T) {
	cfg := config.Default()
	cfg.Coord.InMemory = true
	cfg.Node.HostID = "node-status"
	cfg.Snapshot.Priority = 3
	ds, err := memory.ParseDataset([]byte(testDataset))
	if err != nil {
		t.Fatal(err)
	}
	s, err := newSaver(saveOptions{cfg: cfg, dataset: ds, store: coord.NewMemoryStore(), txnID: 5, logger: discardLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	st := s.Status()
	if st.HostID != "node-status" || st.Priority != 3 {
		t.Errorf("Status() = %+v", st)
	}
	if st.InProgress || st.TxnID != 0 || st.StreamedBytes != 0 {
		t.Errorf("idle Status() = %+v, want no session", st)
	}
}
