package label

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecTranscriber runs an external command with the payload path appended
// and reads the transcript from its stdout.
type ExecTranscriber struct {
	Command string
}

func (t *ExecTranscriber) Transcribe(ctx context.Context, path string, progress func(float64)) (string, error) {
	out, err := runCommand(ctx, t.Command, "", path)
	if err != nil {
		return "", err
	}
	if progress != nil {
		progress(1)
	}
	return strings.TrimSpace(out), nil
}

// ExecLabeler runs an external command once per stage:
//
//	<command> first
//	<command> second <exclude>...
//	<command> decide <a> <b>
//
// The transcript is written to stdin; the first non-empty line of stdout is
// the label.
type ExecLabeler struct {
	Command string
}

func (l *ExecLabeler) First(ctx context.Context, transcript string) (string, error) {
	return l.ask(ctx, transcript, "first")
}

func (l *ExecLabeler) Second(ctx context.Context, transcript string, exclude ...string) (string, error) {
	return l.ask(ctx, transcript, append([]string{"second"}, exclude...)...)
}

func (l *ExecLabeler) Decide(ctx context.Context, transcript, a, b string) (string, error) {
	return l.ask(ctx, transcript, "decide", a, b)
}

func (l *ExecLabeler) ask(ctx context.Context, transcript string, args ...string) (string, error) {
	out, err := runCommand(ctx, l.Command, transcript, args...)
	if err != nil {
		return "", err
	}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("%s %s: empty output", l.Command, args[0])
}

func runCommand(ctx context.Context, command, stdin string, args ...string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", fmt.Errorf("no command configured")
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		return "", fmt.Errorf("command not found: %s", fields[0])
	}

	cmd := exec.CommandContext(ctx, fields[0], append(fields[1:], args...)...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s failed: %w: %s", fields[0], err, msg)
		}
		return "", fmt.Errorf("%s failed: %w", fields[0], err)
	}
	return stdout.String(), nil
}
