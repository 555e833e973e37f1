package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status represents the current state of the capture engine
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusCapturing Status = "CAPTURING"
)

// PayloadPrefix and PayloadExt name the loose files the engine creates.
const (
	PayloadPrefix = "Recording-"
	PayloadExt    = ".wav"
	payloadLayout = "20060102-150405"
)

// SessionInfo contains information about the current capture session
type SessionInfo struct {
	StartTime  time.Time   `json:"start_time"`
	OutputFile string      `json:"output_file"`
	Format     Format      `json:"format"`
	Backend    BackendType `json:"backend"`
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	OutputDir  string
	Device     DeviceConfig
	Authorizer Authorizer
	Now        func() time.Time
}

// Engine records microphone input into a payload file. The device
// callback copies each buffer, publishes its level and hands the copy to
// a FrameWriter; it never touches the file or the engine lock.
type Engine struct {
	backend Backend
	auth    Authorizer
	device  DeviceConfig
	now     func() time.Time
	meter   *LevelMeter

	mutex     sync.RWMutex
	outputDir string
	status    Status
	starting  bool
	session   *SessionInfo
	input     InputDevice
	writer    *FrameWriter
	sink      *wavSink
}

func NewEngine(backend Backend, opts EngineOptions) *Engine {
	if opts.Authorizer == nil {
		opts.Authorizer = AlwaysAllow{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		backend:   backend,
		auth:      opts.Authorizer,
		device:    opts.Device,
		now:       opts.Now,
		meter:     NewLevelMeter(),
		outputDir: opts.OutputDir,
		status:    StatusIdle,
	}
}

// SetOutputDir changes where the next capture is written.
func (e *Engine) SetOutputDir(dir string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.outputDir = dir
}

// OnLevel registers the level listener. It is called on the meter's
// goroutine, never on the device thread.
func (e *Engine) OnLevel(fn func(level float32)) {
	e.meter.OnLevel(fn)
}

// Level returns the most recently delivered level.
func (e *Engine) Level() float32 {
	return e.meter.Level()
}

// Start requests permission, configures the device, opens a new payload
// and starts capturing. On any failure no payload is left open and the
// engine stays idle.
func (e *Engine) Start(ctx context.Context) error {
	e.mutex.Lock()
	if e.status == StatusCapturing || e.starting {
		e.mutex.Unlock()
		return ErrAlreadyCapturing
	}
	e.starting = true
	outputDir := e.outputDir
	e.mutex.Unlock()

	defer func() {
		e.mutex.Lock()
		e.starting = false
		e.mutex.Unlock()
	}()

	granted, err := e.auth.RequestAccess(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if !granted {
		return ErrPermissionDenied
	}

	input, err := e.backend.Open(e.device)
	if err != nil {
		if errors.Is(err, ErrDevice) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}
	format := input.Format()
	if !format.valid() {
		input.Close()
		return fmt.Errorf("%w: unsupported input format %s", ErrDevice, format)
	}

	file, err := e.createPayload(outputDir)
	if err != nil {
		input.Close()
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}

	pool := newFramePool(format)
	sink := newWAVSink(file, format)
	writer := NewFrameWriter(sink, WithRelease(pool.put))
	meter := e.meter
	channels := format.Channels

	onFrames := func(in []int16) {
		meter.Submit(computeLevel(in, channels))
		writer.Enqueue(pool.get(in))
	}

	if err := input.Start(onFrames); err != nil {
		writer.Close()
		sink.Close()
		os.Remove(file.Name())
		input.Close()
		if errors.Is(err, ErrDevice) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}

	e.mutex.Lock()
	e.input = input
	e.writer = writer
	e.sink = sink
	e.session = &SessionInfo{
		StartTime:  e.now(),
		OutputFile: file.Name(),
		Format:     format,
		Backend:    e.backend.GetType(),
	}
	e.status = StatusCapturing
	e.mutex.Unlock()

	slog.Info("Capture started", "file", file.Name(), "format", format.String(), "backend", e.backend.GetType())
	return nil
}

// Stop halts the device, drains the writer and closes the payload. It
// returns the payload path, or "" when idle or when nothing was captured
// (the empty payload is removed).
func (e *Engine) Stop() (string, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.status != StatusCapturing {
		return "", nil
	}

	stopErr := e.input.Stop()
	e.writer.Finish()
	e.writer.Close()
	writeErr := e.writer.Err()
	written := e.writer.Written()
	closeErr := e.sink.Close()
	e.input.Close()

	path := e.session.OutputFile
	duration := e.now().Sub(e.session.StartTime)

	e.status = StatusIdle
	e.input = nil
	e.writer = nil
	e.sink = nil
	e.session = nil

	if stopErr != nil {
		slog.Warn("Device did not stop cleanly", "error", stopErr)
	}

	if written == 0 {
		os.Remove(path)
		slog.Info("Capture stopped with no audio, payload removed", "file", path)
		return "", writeErr
	}

	if writeErr != nil {
		return path, fmt.Errorf("writing payload %s: %w", path, writeErr)
	}
	if closeErr != nil {
		return path, fmt.Errorf("closing payload %s: %w", path, closeErr)
	}

	slog.Info("Capture stopped", "file", path, "buffers", written, "elapsed", duration.Round(time.Millisecond))
	return path, nil
}

// GetStatus returns the engine state and a copy of the session info.
func (e *Engine) GetStatus() (Status, *SessionInfo) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if e.session == nil {
		return e.status, nil
	}
	session := *e.session
	return e.status, &session
}

// Close stops any running capture and releases the meter.
func (e *Engine) Close() error {
	_, err := e.Stop()
	e.meter.Close()
	return err
}

func (e *Engine) createPayload(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	base := PayloadPrefix + e.now().Format(payloadLayout)
	for i := 0; i < 100; i++ {
		name := base + PayloadExt
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, PayloadExt)
		}
		file, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create payload: %w", err)
		}
		return file, nil
	}
	return nil, fmt.Errorf("failed to create payload: too many files named %s", base)
}
