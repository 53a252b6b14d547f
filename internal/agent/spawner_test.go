package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeMockBinary creates a shell script in dir that acts as a mock claude binary.
func writeMockBinary(t *testing.T, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("write mock binary: %v", err)
	}
	return path
}

func TestSpawner_StreamsLines(t *testing.T) {
	dir := t.TempDir()
	binary := writeMockBinary(t, dir, `echo "line one"
echo "line two"`)

	s := &Spawner{Binary: binary, WorkDir: dir}
	var lines []string
	out, err := s.Run(context.Background(), "prompt", func(l string) { lines = append(lines, l) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "line one\nline two" {
		t.Errorf("out = %q", out)
	}
	if len(lines) != 2 || lines[0] != "line one" {
		t.Errorf("lines = %v", lines)
	}
}

func TestSpawner_WritesPromptToStdin(t *testing.T) {
	dir := t.TempDir()
	binary := writeMockBinary(t, dir, `cat`)

	s := &Spawner{Binary: binary}
	out, err := s.Run(context.Background(), "hello from test", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "hello from test" {
		t.Errorf("out = %q", out)
	}
}

func TestSpawner_PassesFlags(t *testing.T) {
	dir := t.TempDir()
	binary := writeMockBinary(t, dir, `echo "$@"`)

	s := &Spawner{Binary: binary, Model: "sonnet", SystemPrompt: "be brief"}
	out, err := s.Run(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{"--model sonnet", "--append-system-prompt be brief", "-p"} {
		if !strings.Contains(out, want) {
			t.Errorf("args %q missing %q", out, want)
		}
	}
}

func TestSpawner_ExitFailureIncludesStderr(t *testing.T) {
	dir := t.TempDir()
	binary := writeMockBinary(t, dir, `echo "rate limited" >&2
exit 3`)

	s := &Spawner{Binary: binary}
	_, err := s.Run(context.Background(), "x", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("err = %v, want stderr text", err)
	}
}

func TestSpawner_CancelStopsProcess(t *testing.T) {
	dir := t.TempDir()
	binary := writeMockBinary(t, dir, `echo "partial"
sleep 30
echo "never"`)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Spawner{Binary: binary}

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx, "x", func(l string) { got <- l })
		done <- err
	}()

	select {
	case l := <-got:
		if l != "partial" {
			t.Errorf("first line = %q", l)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no output before cancel")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSpawner_MissingBinary(t *testing.T) {
	s := &Spawner{Binary: filepath.Join(t.TempDir(), "nope")}
	if _, err := s.Run(context.Background(), "x", nil); err == nil {
		t.Fatal("expected error")
	}
}
