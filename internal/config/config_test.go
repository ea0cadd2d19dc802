package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/tally/internal/counter"
	"github.com/loykin/tally/internal/store/sqlite"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadFullTOML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "tally.toml", `
[monitor]
executable_path = "/opt/app/app"
interval = "60s"
stop_timeout = "2s"
fold_case = true

[store]
dsn = "postgres://u:p@db:5432/tally?sslmode=disable"

[log.slog]
level = "debug"
format = "json"

[log.file]
path = "/var/log/tally.log"
max_backups = 9

[server]
listen = "127.0.0.1:8080"
base_path = "/tally"

[metrics]
enabled = true

[history]
sinks = ["opensearch://localhost:9200/tally", "sqlite:///tmp/h.db"]
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Monitor.ExecutablePath != "/opt/app/app" || c.Monitor.Interval != time.Minute || c.Monitor.StopTimeout != 2*time.Second {
		t.Fatalf("unexpected monitor config: %+v", c.Monitor)
	}
	if !c.Matcher().FoldCase {
		t.Fatalf("fold_case not applied")
	}
	if c.Store.DSN != "postgres://u:p@db:5432/tally?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", c.Store.DSN)
	}
	if c.Log.Slog.Level != "debug" || c.Log.Slog.Format != "json" || c.Log.File.Path != "/var/log/tally.log" {
		t.Fatalf("unexpected log config: %+v", c.Log)
	}
	if c.Log.File.MaxBackups != 9 || c.Log.File.MaxSizeMB != 10 {
		t.Fatalf("unexpected rotation config: %+v", c.Log.File)
	}
	if c.Server.Listen != "127.0.0.1:8080" || c.Server.BasePath != "/tally" {
		t.Fatalf("unexpected server config: %+v", c.Server)
	}
	if !c.Metrics.Enabled || len(c.History.Sinks) != 2 {
		t.Fatalf("unexpected metrics/history: %+v %+v", c.Metrics, c.History)
	}
	if c.File != p {
		t.Fatalf("File = %q, want %q", c.File, p)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "empty.toml", "")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Monitor.Interval != 5*time.Second || c.Monitor.StopTimeout != 3*time.Second {
		t.Fatalf("unexpected defaults: %+v", c.Monitor)
	}
	if want := filepath.Join(dir, DefaultDBName); c.Store.DSN != want {
		t.Fatalf("default dsn = %q, want %q", c.Store.DSN, want)
	}
	if c.Server.BasePath != "/api" || c.Log.Slog.Level != "info" {
		t.Fatalf("unexpected defaults: %+v %+v", c.Server, c.Log.Slog)
	}
	if c.Monitor.FoldCase != counter.DefaultMatcher().FoldCase {
		t.Fatalf("fold_case default = %v, want the platform default", c.Monitor.FoldCase)
	}

	c, err = Load("")
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if c.File != "" || filepath.Base(c.Store.DSN) != DefaultDBName {
		t.Fatalf("unexpected config without file: %+v", c)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "tally.toml", "[monitor]\ninterval = \"60s\"\n")
	t.Setenv("TALLY_MONITOR_INTERVAL", "15s")
	t.Setenv("TALLY_MONITOR_EXECUTABLE_PATH", "/usr/bin/app")

	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Monitor.Interval != 15*time.Second {
		t.Fatalf("env must override file: %s", c.Monitor.Interval)
	}
	if c.Monitor.ExecutablePath != "/usr/bin/app" {
		t.Fatalf("env path not applied: %q", c.Monitor.ExecutablePath)
	}
}

func TestEnvFilesApplyBelowRealEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tally.env", "# overrides\nTALLY_MONITOR_INTERVAL=20s\nTALLY_SERVER_LISTEN=:9000\nOTHER=ignored\n")
	p := writeFile(t, dir, "tally.toml", "env_files = [\"tally.env\"]\n[monitor]\ninterval = \"60s\"\n")
	t.Setenv("TALLY_SERVER_LISTEN", ":7000")

	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Monitor.Interval != 20*time.Second {
		t.Fatalf("env file must override the toml value: %s", c.Monitor.Interval)
	}
	if c.Server.Listen != ":7000" {
		t.Fatalf("real env must win over env file: %q", c.Server.Listen)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"zero interval":   "[monitor]\ninterval = \"0s\"\n",
		"bad duration":    "[monitor]\ninterval = \"soon\"\n",
		"metrics no addr": "[metrics]\nenabled = true\n",
		"empty sink":      "[history]\nsinks = [\"\"]\n",
		"missing env":     "env_files = [\"nope.env\"]\n",
		"broken toml":     "[monitor\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeFile(t, dir, "c.toml", data)
			if _, err := Load(p); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
	if _, err := Load(filepath.Join(dir, "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolveTarget(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "t.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	c := &Config{}
	if _, ok, err := c.ResolveTarget(ctx, st); err != nil || ok {
		t.Fatalf("expected no target, got ok=%v err=%v", ok, err)
	}
	if err := st.SetConfig(ctx, "executable_path", "/opt/saved"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if p, ok, _ := c.ResolveTarget(ctx, st); !ok || p != "/opt/saved" {
		t.Fatalf("expected persisted target, got %q %v", p, ok)
	}
	if err := st.SetConfig(ctx, "executable_path", ""); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := c.ResolveTarget(ctx, st); ok {
		t.Fatalf("reset target must read as unset")
	}
	c.Monitor.ExecutablePath = "/opt/configured"
	if p, ok, _ := c.ResolveTarget(ctx, st); !ok || p != "/opt/configured" {
		t.Fatalf("configured path must win, got %q", p)
	}
}

func TestExpandsVariables(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vars.env", "APP_HOME=/srv/app\nPG_PASSWORD=fromfile\n")
	p := writeFile(t, dir, "tally.toml", `env_files = ["vars.env"]
[monitor]
executable_path = "${APP_HOME}/bin/app"
[store]
dsn = "postgres://tally:${PG_PASSWORD}@db/tally"
[history]
sinks = ["sqlite://${APP_HOME}/history.db", "${UNSET_TALLY_VAR}/h.db"]
`)
	t.Setenv("PG_PASSWORD", "fromenv")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Monitor.ExecutablePath != "/srv/app/bin/app" {
		t.Fatalf("executable_path not expanded: %q", c.Monitor.ExecutablePath)
	}
	if c.Store.DSN != "postgres://tally:fromenv@db/tally" {
		t.Fatalf("real env must win over env file: %q", c.Store.DSN)
	}
	if c.History.Sinks[0] != "sqlite:///srv/app/history.db" || c.History.Sinks[1] != "${UNSET_TALLY_VAR}/h.db" {
		t.Fatalf("unexpected sinks: %v", c.History.Sinks)
	}
}
