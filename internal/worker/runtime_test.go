package worker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"
)

// mockCommandRunner records calls and returns canned responses.
type mockCommandRunner struct {
	calls   []mockCall
	results []mockResult
	callIdx int
}

type mockCall struct {
	stdin []byte
	name  string
	args  []string
}

type mockResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (m *mockCommandRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, string, int, error) {
	m.calls = append(m.calls, mockCall{stdin: stdin, name: name, args: args})
	if m.callIdx >= len(m.results) {
		return nil, "", -1, fmt.Errorf("unexpected call %d", m.callIdx)
	}
	r := m.results[m.callIdx]
	m.callIdx++
	return []byte(r.stdout), r.stderr, r.exitCode, r.err
}

func TestBareRuntime_Run(t *testing.T) {
	rt := NewBareRuntime()

	result, err := rt.Run(context.Background(), RunSpec{
		Command: []string{"echo", "hello"},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit_code = %d, want 0", result.ExitCode)
	}
	if string(result.Stdout) != "hello\n" {
		t.Errorf("stdout = %q, want hello\\n", result.Stdout)
	}
}

func TestBareRuntime_StdinAndEnv(t *testing.T) {
	rt := NewBareRuntime()

	result, err := rt.Run(context.Background(), RunSpec{
		Command: []string{"sh", "-c", `printf '%s:' "$OBSCORE_MODULE"; cat`},
		WorkDir: t.TempDir(),
		Env:     map[string]string{"OBSCORE_MODULE": "rtt"},
		Stdin:   []byte(`{"id":"wi_1"}`),
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := string(result.Stdout); got != `rtt:{"id":"wi_1"}` {
		t.Errorf("stdout = %q", got)
	}
}

func TestBareRuntime_ExitCode(t *testing.T) {
	rt := NewBareRuntime()

	result, err := rt.Run(context.Background(), RunSpec{
		Command: []string{"sh", "-c", "echo broken >&2; exit 3"},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit_code = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "broken") {
		t.Errorf("stderr = %q, want broken", result.Stderr)
	}
}

func TestBareRuntime_EmptyCommand(t *testing.T) {
	rt := NewBareRuntime()
	_, err := rt.Run(context.Background(), RunSpec{
		Command: []string{},
		WorkDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestBareRuntime_MissingBinary(t *testing.T) {
	rt := NewBareRuntime()
	_, err := rt.Run(context.Background(), RunSpec{
		Command: []string{"obscore-no-such-binary"},
		WorkDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestDockerRuntime_Run(t *testing.T) {
	runner := &mockCommandRunner{
		results: []mockResult{
			{stdout: "[]\n", exitCode: 0},
		},
	}
	rt := newDockerRuntimeWithRunner(runner)

	result, err := rt.Run(context.Background(), RunSpec{
		Image:   "obscore/rtt:1",
		Command: []string{"analyze", "--hour"},
		WorkDir: "/tmp/work",
		Env:     map[string]string{"OBSCORE_MODULE": "rtt"},
		Stdin:   []byte("{}"),
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if string(result.Stdout) != "[]\n" {
		t.Errorf("stdout = %q, want []\\n", result.Stdout)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(runner.calls))
	}
	call := runner.calls[0]
	if call.name != "docker" {
		t.Errorf("command = %q, want docker", call.name)
	}
	if string(call.stdin) != "{}" {
		t.Errorf("stdin = %q, want {}", call.stdin)
	}
	for _, want := range []string{"run", "--rm", "-i", "OBSCORE_MODULE=rtt", "/tmp/work:/work", "obscore/rtt:1", "analyze", "--hour"} {
		if !slices.Contains(call.args, want) {
			t.Errorf("args %v missing %q", call.args, want)
		}
	}
	// The command follows the image.
	img := slices.Index(call.args, "obscore/rtt:1")
	if img < 0 || call.args[img+1] != "analyze" {
		t.Errorf("args %v: command does not follow image", call.args)
	}
}

func TestDockerRuntime_MissingImage(t *testing.T) {
	runner := &mockCommandRunner{}
	rt := newDockerRuntimeWithRunner(runner)

	_, err := rt.Run(context.Background(), RunSpec{
		Command: []string{"echo"},
		WorkDir: "/tmp/work",
	})
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	if len(runner.calls) != 0 {
		t.Errorf("docker invoked %d times, want 0", len(runner.calls))
	}
}

func TestNewRuntime(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"docker", false},
		{"none", false},
		{"", false},
		{"apptainer", true},
		{"unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuntime(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRuntime(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}
