package command

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/snapstream/internal/infra/buildinfo"
)

func TestApp(t *testing.T) {
	app := App()
	if app.Name != "snapstream" {
		t.Errorf("Name = %q, want snapstream", app.Name)
	}

	commands := make(map[string]bool)
	for _, cmd := range app.Commands {
		commands[cmd.Name] = true
	}
	for _, name := range []string{"save", "completions", "markers", "verify", "config", "version"} {
		if !commands[name] {
			t.Errorf("missing command: %s", name)
		}
	}

	flags := make(map[string]bool)
	for _, f := range app.Flags {
		flags[f.Names()[0]] = true
	}
	for _, name := range []string{"config", "coord-dir", "output", "wide", "log-level", "log-format"} {
		if !flags[name] {
			t.Errorf("missing global flag: %s", name)
		}
	}
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	info := decode[buildinfo.Info](t, e.mustRun("-o", "json", "version"))
	if info.Version != buildinfo.Version {
		t.Errorf("version = %q, want %q", info.Version, buildinfo.Version)
	}
}

func TestConfig_Precedence(t *testing.T) {
	e := newEnv(t)
	cfgPath := filepath.Join(e.dir, "snapstream.yaml")
	yaml := "snapshot:\n  priority: 3\n  buffer_count: 8\nlog:\n  level: debug\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SNAPSTREAM_SNAPSHOT_BUFFER_COUNT", "12")

	out := e.mustRun("--config", cfgPath, "-o", "json", "config", "show")
	cfg := decode[map[string]map[string]any](t, out)

	if got := cfg["snapshot"]["priority"]; got != float64(3) {
		t.Errorf("priority = %v, want 3 from file", got)
	}
	if got := cfg["snapshot"]["buffer_count"]; got != float64(12) {
		t.Errorf("buffer_count = %v, want 12 from env", got)
	}
	// --log-level warn from the test harness wins over the file.
	if got := cfg["log"]["level"]; got != "warn" {
		t.Errorf("log.level = %v, want warn from flag", got)
	}
	if got := cfg["coord"]["data_dir"]; got != e.coordDir {
		t.Errorf("coord.data_dir = %v, want %s", got, e.coordDir)
	}
}

func TestConfig_ShowMasksSecret(t *testing.T) {
	e := newEnv(t)
	key := strings.Repeat("ab", 16)
	t.Setenv("SNAPSTREAM_SNAPSHOT_ENCRYPTION_KEY", key)

	out := e.mustRun("config", "show")
	if strings.Contains(out, key) {
		t.Errorf("secret leaked:\n%s", out)
	}
	if !strings.Contains(out, "encryption_key:") {
		t.Errorf("table output should render as yaml:\n%s", out)
	}
}

func TestConfig_Validate(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun("config", "validate")
	if !strings.Contains(out, "configuration is valid") {
		t.Errorf("validate output = %q", out)
	}

	bad := filepath.Join(e.dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("snapshot:\n  priority: 42\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := e.run("--config", bad, "config", "validate")
	if err == nil || !strings.Contains(err.Error(), "snapshot.priority") {
		t.Errorf("validate error = %v, want priority problem", err)
	}
}

func TestPrintResult_UnknownFormat(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run("-o", "xml", "version"); err == nil {
		t.Error("expected error for unknown output format")
	}
}
