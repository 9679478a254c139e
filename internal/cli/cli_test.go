package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/obscore/internal/config"
	"github.com/me/obscore/internal/scheduler"
	"github.com/me/obscore/internal/server"
	"github.com/me/obscore/internal/store"
	"github.com/me/obscore/internal/validator"
)

// startTestServer starts a server with an in-memory SQLite store and returns the URL.
func startTestServer(t *testing.T, opts ...server.Option) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sched := scheduler.New(st, scheduler.DefaultConfig(), nil, srvLogger)
	val := validator.New(st, validator.DefaultConfig(), nil, srvLogger)
	srv := server.New(config.Default().Server, st, sched, val, srvLogger, opts...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(io.Discard)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("obsctl %s: %v\noutput: %s", strings.Join(args, " "), err, out)
	}
	return out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const rttDescriptor = `id: rtt
version: 1
input_kinds: [traceroute]
output_kinds: [tcp-rtt]
granularity: hour
command: ["rtt-probe"]
checks:
  tcp-rtt: "value > 0"
`

// seed registers the rtt module and appends one traceroute.
func seed(t *testing.T, url string) {
	t.Helper()
	out := mustRun(t, "--server", url, "modules", "register", writeFile(t, "rtt.yaml", rttDescriptor))
	if !strings.Contains(out, "rtt  v1  enabled") {
		t.Fatalf("register output = %q", out)
	}
	out = mustRun(t, "--server", url, "inputs", "add",
		"--id", "tr-1", "--kind", "traceroute", "--start", "2024-03-01T10:15:00Z")
	if !strings.Contains(out, "tr-1  seq=1") {
		t.Fatalf("inputs add output = %q", out)
	}
}

func TestModulesRegisterAndList(t *testing.T) {
	url := startTestServer(t)
	seed(t, url)

	out := mustRun(t, "--server", url, "modules", "list")
	if !strings.Contains(out, "rtt") || !strings.Contains(out, "hour") {
		t.Errorf("modules list missing rtt row: %s", out)
	}

	out = mustRun(t, "--server", url, "modules", "show", "rtt")
	if !strings.Contains(out, `"checks"`) || !strings.Contains(out, `"tcp-rtt"`) || !strings.Contains(out, `"rtt-probe"`) {
		t.Errorf("modules show missing checks: %s", out)
	}
}

func TestModulesDisable(t *testing.T) {
	url := startTestServer(t)
	seed(t, url)

	out := mustRun(t, "--server", url, "modules", "disable", "rtt")
	if !strings.Contains(out, "rtt  disabled") {
		t.Errorf("disable output = %q", out)
	}
	if _, err := runCLI(t, "--server", url, "modules", "enable", "nope"); err == nil {
		t.Error("expected error enabling unknown module")
	}
}

func TestInputsAddFromFile(t *testing.T) {
	url := startTestServer(t)
	path := writeFile(t, "inputs.yaml", `- id: tr-1
  kind: traceroute
  key: probe-7
  start: 2024-03-01T10:15:00Z
- id: tr-2
  kind: traceroute
  key: probe-7
  start: 2024-03-01T11:05:00Z
`)
	out := mustRun(t, "--server", url, "inputs", "add", "-f", path)
	if !strings.Contains(out, "tr-1  seq=1") || !strings.Contains(out, "tr-2  seq=2") {
		t.Fatalf("inputs add output = %q", out)
	}

	out = mustRun(t, "--server", url, "inputs", "list", "--kind", "traceroute")
	if !strings.Contains(out, "probe-7") || !strings.Contains(out, "tr-2") {
		t.Errorf("inputs list output = %s", out)
	}
}

func TestInputsAdd_NeedsIDOrFile(t *testing.T) {
	url := startTestServer(t)
	if _, err := runCLI(t, "--server", url, "inputs", "add"); err == nil {
		t.Error("expected error without --id or -f")
	}
}

func TestReconcileAndWorkItems(t *testing.T) {
	url := startTestServer(t)
	seed(t, url)

	out := mustRun(t, "--server", url, "reconcile")
	if !strings.Contains(out, "created 1 work items") {
		t.Fatalf("reconcile output = %q", out)
	}

	out = mustRun(t, "--server", url, "work-items", "list", "--state", "PENDING")
	if !strings.Contains(out, "rtt@v1") || !strings.Contains(out, "PENDING") {
		t.Errorf("work-items list output = %s", out)
	}

	out = mustRun(t, "--server", url, "work-items", "list", "--state", "LEASED")
	if !strings.Contains(out, "No work items found.") {
		t.Errorf("expected no leased items, got: %s", out)
	}

	out = mustRun(t, "--server", url, "stats")
	if !strings.Contains(out, "PENDING") || !strings.Contains(out, "Open conflicts: 0") {
		t.Errorf("stats output = %s", out)
	}
}

func TestAdminLoopsOnEmptyStore(t *testing.T) {
	url := startTestServer(t)

	out := mustRun(t, "--server", url, "reclaim")
	if !strings.Contains(out, "reclaimed 0, failed 0") {
		t.Errorf("reclaim output = %q", out)
	}
	out = mustRun(t, "--server", url, "sweep")
	if !strings.Contains(out, "examined 0") {
		t.Errorf("sweep output = %q", out)
	}
	out = mustRun(t, "--server", url, "conflicts", "list")
	if !strings.Contains(out, "No conflicts found.") {
		t.Errorf("conflicts list output = %q", out)
	}
	out = mustRun(t, "--server", url, "results", "list")
	if !strings.Contains(out, "No results found.") {
		t.Errorf("results list output = %q", out)
	}
}

func TestCoverage_NoResults(t *testing.T) {
	url := startTestServer(t)
	seed(t, url)

	out := mustRun(t, "--server", url, "modules", "coverage", "rtt")
	if !strings.Contains(out, "Module: rtt (v1)") || !strings.Contains(out, "No validated results.") {
		t.Errorf("coverage output = %s", out)
	}
}

func TestAdminToken(t *testing.T) {
	url := startTestServer(t, server.WithAdminToken("s3cret"))

	_, err := runCLI(t, "--server", url, "--token", "", "modules", "list")
	if err == nil || !strings.Contains(err.Error(), "OBSCORE_ADMIN_TOKEN") {
		t.Errorf("err = %v, want a token hint", err)
	}
	out := mustRun(t, "--server", url, "--token", "s3cret", "modules", "list")
	if !strings.Contains(out, "No modules registered.") {
		t.Errorf("modules list output = %q", out)
	}
}

func TestUnknownWorkItem(t *testing.T) {
	url := startTestServer(t)
	_, err := runCLI(t, "--server", url, "work-items", "show", "wi_missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}
