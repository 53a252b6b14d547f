// Package agent plays the room's agent seat through the claude CLI: it
// streams responses for the turn coordinator and decides whether the agent
// joins a room.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Spawner launches one-shot claude subprocesses. The prompt is written to
// stdin, which is then closed; stdout is read line by line until exit.
type Spawner struct {
	Binary       string // path to claude binary; defaults to "claude"
	Model        string // passed via --model when set
	SystemPrompt string // appended via --append-system-prompt
	WorkDir      string
}

// Run executes the agent on input. Each stdout line is passed to onLine as
// it arrives; the full output is returned once the process exits.
func (s *Spawner) Run(ctx context.Context, input string, onLine func(string)) (string, error) {
	binary := s.Binary
	if binary == "" {
		binary = "claude"
	}
	args := []string{"--output-format", "text"}
	if s.Model != "" {
		args = append(args, "--model", s.Model)
	}
	if s.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", s.SystemPrompt)
	}
	args = append(args, "-p")

	cmd := exec.CommandContext(ctx, binary, args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	// Use a process group so SIGTERM reaches the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second
	cmd.Stdin = strings.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("agent: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("agent: start %s: %w", binary, err)
	}

	var lines []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		if onLine != nil {
			onLine(line)
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Drain so Wait does not block on a full pipe.
		io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("agent: %s exited: %w: %s", binary, waitErr, lastLine(msg))
		}
		return "", fmt.Errorf("agent: %s exited: %w", binary, waitErr)
	}
	if scanErr != nil {
		return "", fmt.Errorf("agent: read output: %w", scanErr)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
