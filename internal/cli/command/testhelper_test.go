package command

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of loggers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const testDataset = `
tables:
  - id: 1
    name: orders
    rows:
      o-1: "widget"
      o-2: "gadget"
      o-3: "gizmo"
      o-4: "doohickey"
  - id: 2
    name: customers
    rows:
      c-1: "ada"
      c-2: "grace"
  - id: 3
    name: regions
    replicated: true
    rows:
      eu: "Europe"
      us: "Americas"
`

// env is a scratch workspace with a dataset and a coordination directory.
type env struct {
	t        *testing.T
	dir      string
	dataset  string
	coordDir string
	outDir   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		t:        t,
		dir:      dir,
		dataset:  filepath.Join(dir, "data.yaml"),
		coordDir: filepath.Join(dir, "coord"),
		outDir:   filepath.Join(dir, "out"),
	}
	if err := os.WriteFile(e.dataset, []byte(testDataset), 0600); err != nil {
		t.Fatal(err)
	}
	return e
}

// run executes the CLI with the environment's coordination directory and
// returns stdout.
func (e *env) run(args ...string) (string, error) {
	e.t.Helper()
	var stdout, stderr syncBuffer
	app := App()
	app.Writer = &stdout
	app.ErrWriter = &stderr

	full := append([]string{"snapstream", "--coord-dir", e.coordDir, "--log-level", "warn"}, args...)
	err := app.Run(full)
	if err != nil {
		e.t.Logf("stderr: %s", stderr.String())
	}
	return stdout.String(), err
}

// runPiped executes the CLI with stdin and returns stdout and stderr
// separately, for commands that stream on stdout.
func (e *env) runPiped(stdin io.Reader, args ...string) (string, string, error) {
	e.t.Helper()
	var stdout, stderr syncBuffer
	app := App()
	app.Reader = stdin
	app.Writer = &stdout
	app.ErrWriter = &stderr

	full := append([]string{"snapstream", "--coord-dir", e.coordDir, "--log-level", "error"}, args...)
	err := app.Run(full)
	return stdout.String(), stderr.String(), err
}

// mustRun is run that fails the test on error.
func (e *env) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	if err != nil {
		e.t.Fatalf("snapstream %v: %v", args, err)
	}
	return out
}

// decode unmarshals JSON command output.
func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
