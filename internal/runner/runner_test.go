package runner

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestCommandString(t *testing.T) {
	cmd := Command{Binary: "python"}
	if cmd.String() != "python" {
		t.Fatalf("unexpected string: %s", cmd.String())
	}
	cmd = Command{Binary: "python", Arguments: []string{"-m", "pip", "check"}}
	if cmd.String() != "python -m pip check" {
		t.Fatalf("unexpected string: %s", cmd.String())
	}
}

func TestResultCombined(t *testing.T) {
	r := &Result{Stdout: "out"}
	if r.Combined() != "out" {
		t.Fatalf("expected stdout only")
	}
	r = &Result{Stderr: "err"}
	if r.Combined() != "err" {
		t.Fatalf("expected stderr only")
	}
	r = &Result{Stdout: "out", Stderr: "err"}
	if r.Combined() != "out\nerr" {
		t.Fatalf("unexpected combined: %q", r.Combined())
	}
}

func TestResultTail(t *testing.T) {
	r := &Result{Stdout: "line1\nline2\nline3"}
	tail := r.Tail(11)
	if tail != "line2\nline3" {
		t.Fatalf("unexpected tail: %q", tail)
	}

	// Short output is returned whole.
	if r.Tail(1000) != "line1\nline2\nline3" {
		t.Fatalf("expected full output for large n")
	}
}

func TestNewWithConfigDefaults(t *testing.T) {
	r := NewWithConfig(Config{})
	if r.config.DefaultTimeout != 5*time.Minute {
		t.Fatalf("expected default timeout fill-in, got %v", r.config.DefaultTimeout)
	}
	if r.config.MaxOutputBytes != 1<<20 {
		t.Fatalf("expected default output cap fill-in, got %d", r.config.MaxOutputBytes)
	}
}

func TestLimitedWriterTruncates(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 10}

	n, err := lw.Write([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 16 {
		t.Fatalf("expected full-length write report, got %d", n)
	}
	if buf.String() != "0123456789" {
		t.Fatalf("unexpected captured output: %q", buf.String())
	}
	if !lw.truncated {
		t.Fatalf("expected truncation flag")
	}

	// Further writes are discarded entirely.
	n, _ = lw.Write([]byte("more"))
	if n != 4 || buf.Len() != 10 {
		t.Fatalf("expected discarded write, n=%d len=%d", n, buf.Len())
	}
}

func TestBuildEnvironment(t *testing.T) {
	t.Setenv("CANBOOT_RUNNER_TEST_VAR", "yes")

	r := NewWithConfig(Config{
		AllowedEnvironment: []string{"CANBOOT_RUNNER_TEST_VAR", "CANBOOT_RUNNER_ABSENT"},
	})
	env := r.buildEnvironment([]string{"EXTRA=1"})

	joined := strings.Join(env, ";")
	if !strings.Contains(joined, "CANBOOT_RUNNER_TEST_VAR=yes") {
		t.Fatalf("expected allow-listed var in env: %v", env)
	}
	if strings.Contains(joined, "CANBOOT_RUNNER_ABSENT") {
		t.Fatalf("absent var should be skipped: %v", env)
	}
	if env[len(env)-1] != "EXTRA=1" {
		t.Fatalf("expected command env appended last: %v", env)
	}
}
