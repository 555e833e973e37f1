package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Authorizer decides whether the process may record from the microphone.
// RequestAccess may block until the user answers.
type Authorizer interface {
	RequestAccess(ctx context.Context) (bool, error)
}

// AlwaysAllow grants access without asking.
type AlwaysAllow struct{}

func (AlwaysAllow) RequestAccess(context.Context) (bool, error) {
	return true, nil
}

// LineSource reads lines from one reader on a single goroutine and hands
// them out in order. Every consumer of a terminal shares one source so no
// reader buffers input meant for another.
type LineSource struct {
	r     io.Reader
	once  sync.Once
	lines chan string
	err   error
}

func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{r: r}
}

var (
	stdinOnce  sync.Once
	stdinLines *LineSource
)

// StdinLines returns the process-wide line source for os.Stdin.
func StdinLines() *LineSource {
	stdinOnce.Do(func() { stdinLines = NewLineSource(os.Stdin) })
	return stdinLines
}

// Lines returns the channel of lines. It is closed at EOF or on a read
// error; Err reports the error after that.
func (l *LineSource) Lines() <-chan string {
	l.once.Do(func() {
		l.lines = make(chan string)
		go l.read()
	})
	return l.lines
}

func (l *LineSource) read() {
	defer close(l.lines)
	sc := bufio.NewScanner(l.r)
	for sc.Scan() {
		l.lines <- sc.Text()
	}
	l.err = sc.Err()
}

// Err returns the read error, if any. Only valid once Lines is closed.
func (l *LineSource) Err() error {
	return l.err
}

// PromptAuthorizer asks once on a terminal and remembers the answer for the
// lifetime of the process.
type PromptAuthorizer struct {
	in  *LineSource
	out io.Writer

	mu       sync.Mutex
	answered bool
	granted  bool
}

func NewPromptAuthorizer(in *LineSource, out io.Writer) *PromptAuthorizer {
	return &PromptAuthorizer{in: in, out: out}
}

func (p *PromptAuthorizer) RequestAccess(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.answered {
		return p.granted, nil
	}

	fmt.Fprint(p.out, "Allow memocapture to record from the microphone? [y/N]: ")

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-p.in.Lines():
		if !ok {
			if err := p.in.Err(); err != nil {
				return false, fmt.Errorf("reading answer: %w", err)
			}
		}
		reply := strings.ToLower(strings.TrimSpace(line))
		p.answered = true
		p.granted = reply == "y" || reply == "yes"
		return p.granted, nil
	}
}
