package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const (
	pipeWireDefaultRate     = 48000
	pipeWireDefaultChannels = 1
)

// PipeWireBackend captures by streaming raw samples from pw-record.
type PipeWireBackend struct {
	pw *PipeWire
	// command builds the capture process; replaced in tests.
	command func(args ...string) *exec.Cmd
}

func NewPipeWireBackend() *PipeWireBackend {
	return &PipeWireBackend{
		pw: NewPipeWire(),
		command: func(args ...string) *exec.Cmd {
			return exec.Command("pw-record", args...)
		},
	}
}

func (p *PipeWireBackend) GetType() BackendType {
	return BackendTypePipeWire
}

func (p *PipeWireBackend) ListSources() ([]Source, error) {
	nodes, err := p.pw.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	return nodes, nil
}

func (p *PipeWireBackend) ValidateSource(source string) error {
	return p.pw.ValidateNode(source)
}

func (p *PipeWireBackend) Open(cfg DeviceConfig) (InputDevice, error) {
	format := Format{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		BitDepth:   16,
	}
	if format.SampleRate == 0 {
		format.SampleRate = pipeWireDefaultRate
	}
	if format.Channels == 0 {
		format.Channels = pipeWireDefaultChannels
	}

	args := []string{
		"--format", "s16",
		"--rate", strconv.Itoa(format.SampleRate),
		"--channels", strconv.Itoa(format.Channels),
	}
	if cfg.BufferFrames > 0 {
		args = append(args, "--latency", strconv.Itoa(cfg.BufferFrames))
	}
	if cfg.Device != "" {
		args = append(args, "--target", cfg.Device)
	}
	// "-" writes raw samples to stdout
	args = append(args, "-")

	frames := cfg.BufferFrames
	if frames <= 0 {
		frames = 1024
	}

	slog.Debug("PipeWire device opened", "device", cfg.Device, "format", format.String())
	return &pipeWireDevice{
		cmd:    p.command(args...),
		format: format,
		buf:    make([]byte, frames*format.Channels*2),
	}, nil
}

type pipeWireDevice struct {
	cmd    *exec.Cmd
	format Format
	buf    []byte

	mu      sync.Mutex
	started bool
	done    chan struct{}
	stderr  limitedBuffer
}

func (d *pipeWireDevice) Format() Format {
	return d.format
}

func (d *pipeWireDevice) Start(onFrames func(in []int16)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cmd.Stderr = &d.stderr
	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to create stdout pipe: %v", ErrDevice, err)
	}
	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start pw-record: %v", ErrDevice, err)
	}

	d.started = true
	d.done = make(chan struct{})
	go d.read(stdout, onFrames)
	return nil
}

// read delivers whole frames to the callback until the process closes
// its stdout.
func (d *pipeWireDevice) read(r io.Reader, onFrames func(in []int16)) {
	defer close(d.done)

	frameBytes := d.format.Channels * 2
	samples := make([]int16, len(d.buf)/2)
	pending := 0
	for {
		n, err := r.Read(d.buf[pending:])
		pending += n
		usable := pending - pending%frameBytes
		if usable > 0 {
			count := usable / 2
			for i := 0; i < count; i++ {
				samples[i] = int16(binary.LittleEndian.Uint16(d.buf[2*i:]))
			}
			onFrames(samples[:count])
			pending = copy(d.buf, d.buf[usable:pending])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("pw-record stream ended", "error", err)
			}
			return
		}
	}
}

// Stop interrupts pw-record and waits for the reader to drain. A process
// that ignores the interrupt is killed after a timeout.
func (d *pipeWireDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}
	d.started = false

	if d.cmd.Process != nil {
		if err := d.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to interrupt pw-record, killing", "error", err)
			d.cmd.Process.Kill()
		}
	}

	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
		slog.Warn("pw-record did not exit within timeout, force killing")
		d.cmd.Process.Kill()
		<-d.done
	}

	err := d.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !exitErr.Exited() {
		// terminated by our signal
		return nil
	}
	if err != nil {
		if msg := d.stderr.String(); msg != "" {
			return fmt.Errorf("%w: pw-record failed: %v: %s", ErrDevice, err, msg)
		}
		return fmt.Errorf("%w: pw-record failed: %v", ErrDevice, err)
	}
	return nil
}

func (d *pipeWireDevice) Close() error {
	return d.Stop()
}

// limitedBuffer keeps the first few KiB written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := 4096 - len(b.buf); room > 0 {
		b.buf = append(b.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
