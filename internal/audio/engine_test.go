package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiolibrelab/memocapture/internal/config"
)

var fixedNow = time.Date(2025, 9, 20, 14, 5, 0, 0, time.UTC)

func newTestEngine(t *testing.T, backend Backend, auth Authorizer) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e := NewEngine(backend, EngineOptions{
		OutputDir:  dir,
		Authorizer: auth,
		Now:        func() time.Time { return fixedNow },
	})
	t.Cleanup(func() { e.Close() })
	return e, dir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestEngineCaptureWritesBuffersInOrder(t *testing.T) {
	dev := &fakeDevice{format: Format{SampleRate: 8000, Channels: 1, BitDepth: 16}}
	e, dir := newTestEngine(t, &fakeBackend{device: dev}, AlwaysAllow{})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status, session := e.GetStatus()
	if status != StatusCapturing {
		t.Errorf("Expected status CAPTURING, got %s", status)
	}
	if session == nil || filepath.Base(session.OutputFile) != "Recording-20250920-140500.wav" {
		t.Fatalf("Unexpected session: %+v", session)
	}

	a := []int16{1, 2, 3, 4}
	b := []int16{-5, 6}
	c := []int16{7, 8, 9, 10, 11, 12}
	dev.feed(a)
	dev.feed(b)
	dev.feed(c)

	path, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if path != session.OutputFile {
		t.Errorf("Expected %s, got %s", session.OutputFile, path)
	}
	if status, _ := e.GetStatus(); status != StatusIdle {
		t.Errorf("Expected status IDLE after stop, got %s", status)
	}
	if !dev.closed {
		t.Errorf("Expected device to be closed")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read payload: %v", err)
	}
	if len(data) < 44 {
		t.Fatalf("Payload too short: %d bytes", len(data))
	}

	var want []byte
	for _, chunk := range [][]int16{a, b, c} {
		for _, s := range chunk {
			want = binary.LittleEndian.AppendUint16(want, uint16(s))
		}
	}
	if got := data[44:]; string(got) != string(want) {
		t.Errorf("Payload PCM mismatch:\n got %v\nwant %v", got, want)
	}

	if d := ProbeDuration(path); math.Abs(d-12.0/8000.0) > 1e-9 {
		t.Errorf("Expected duration %v, got %v", 12.0/8000.0, d)
	}

	if names := listDir(t, dir); len(names) != 1 {
		t.Errorf("Expected exactly one payload, got %v", names)
	}
}

func TestEnginePermissionDenied(t *testing.T) {
	dev := &fakeDevice{format: Format{SampleRate: 8000, Channels: 1, BitDepth: 16}}
	backend := &fakeBackend{device: dev}
	auth := &fakeAuthorizer{granted: false}
	e, dir := newTestEngine(t, backend, auth)

	err := e.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
	if backend.opened != 0 {
		t.Errorf("Device should not be opened without permission")
	}
	if status, _ := e.GetStatus(); status != StatusIdle {
		t.Errorf("Expected IDLE, got %s", status)
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Errorf("Expected no payload, got %v", names)
	}
}

func TestEnginePermissionPromptCancelled(t *testing.T) {
	dev := &fakeDevice{format: Format{SampleRate: 8000, Channels: 1, BitDepth: 16}}
	e, _ := newTestEngine(t, &fakeBackend{device: dev}, &fakeAuthorizer{err: context.Canceled})

	err := e.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got %v", err)
	}
}

func TestEngineDeviceOpenError(t *testing.T) {
	backend := &fakeBackend{openErr: errBoom}
	e, dir := newTestEngine(t, backend, AlwaysAllow{})

	err := e.Start(context.Background())
	if !errors.Is(err, ErrDevice) {
		t.Fatalf("Expected ErrDevice, got %v", err)
	}
	if status, _ := e.GetStatus(); status != StatusIdle {
		t.Errorf("Expected IDLE, got %s", status)
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Errorf("Expected no payload, got %v", names)
	}
}

func TestEngineDeviceStartErrorRemovesPayload(t *testing.T) {
	dev := &fakeDevice{format: Format{SampleRate: 8000, Channels: 1, BitDepth: 16}, startErr: errBoom}
	e, dir := newTestEngine(t, &fakeBackend{device: dev}, AlwaysAllow{})

	err := e.Start(context.Background())
	if !errors.Is(err, ErrDevice) {
		t.Fatalf("Expected ErrDevice, got %v", err)
	}
	if !dev.closed {
		t.Errorf("Expected device to be closed after failed start")
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Errorf("Expected no payload, got %v", names)
	}
}

func TestEngineRejectsUnsupportedFormat(t *testing.T) {
	dev := &fakeDevice{format: Format{SampleRate: 0, Channels: 1, BitDepth: 16}}
	e, _ := newTestEngine(t, &fakeBackend{device: dev}, AlwaysAllow{})

	if err := e.Start(context.Background()); !errors.Is(err, ErrDevice) {
		t.Errorf("Expected ErrDevice, got %v", err)
	}
}

func TestEngineStopWhileIdle(t *testing.T) {
	e, _ := newTestEngine(t, &fakeBackend{}, AlwaysAllow{})

	path, err := e.Stop()
	if err != nil || path != "" {
		t.Errorf("Expected no-op stop, got %q, %v", path, err)
	}
}

func TestEngineStartTwice(t *testing.T) {
	dev := &fakeDevice{format: Format{SampleRate: 8000, Channels: 1, BitDepth: 16}}
	e, _ := newTestEngine(t, &fakeBackend{device: dev}, AlwaysAllow{})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrAlreadyCapturing) {
		t.Errorf("Expected ErrAlreadyCapturing, got %v", err)
	}
}

func TestEngineEmptyCaptureRemovesPayload(t *testing.T) {
	dev := &fakeDevice{format: Format{SampleRate: 8000, Channels: 1, BitDepth: 16}}
	e, dir := newTestEngine(t, &fakeBackend{device: dev}, AlwaysAllow{})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	path, err := e.Stop()
	if err != nil || path != "" {
		t.Errorf("Expected empty result, got %q, %v", path, err)
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Errorf("Expected empty payload to be removed, got %v", names)
	}
}

func TestEnginePayloadNamesDoNotCollide(t *testing.T) {
	dev := &fakeDevice{format: Format{SampleRate: 8000, Channels: 1, BitDepth: 16}}
	e, dir := newTestEngine(t, &fakeBackend{device: dev}, AlwaysAllow{})

	for i := 0; i < 2; i++ {
		if err := e.Start(context.Background()); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		dev.feed([]int16{1, 2})
		if _, err := e.Stop(); err != nil {
			t.Fatalf("Stop %d failed: %v", i, err)
		}
	}

	names := listDir(t, dir)
	if len(names) != 2 {
		t.Fatalf("Expected two payloads, got %v", names)
	}
	if names[0] != "Recording-20250920-140500-1.wav" || names[1] != "Recording-20250920-140500.wav" {
		t.Errorf("Unexpected payload names: %v", names)
	}
}

func TestEngineDeliversLevels(t *testing.T) {
	dev := &fakeDevice{format: Format{SampleRate: 8000, Channels: 1, BitDepth: 16}}
	e, _ := newTestEngine(t, &fakeBackend{device: dev}, AlwaysAllow{})

	levels := make(chan float32, 16)
	e.OnLevel(func(l float32) { levels <- l })

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	dev.feed([]int16{32767, 32767, 32767, 32767})

	select {
	case l := <-levels:
		if l != 1 {
			t.Errorf("Expected clamped level 1, got %v", l)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Level was never delivered")
	}
}

func TestDetermineBackend(t *testing.T) {
	tests := []struct {
		backend  string
		expected BackendType
	}{
		{"", BackendTypeMiniaudio},
		{"auto", BackendTypeMiniaudio},
		{"miniaudio", BackendTypeMiniaudio},
		{"PortAudio", BackendTypePortAudio},
		{"pipewire", BackendTypePipeWire},
	}

	for _, tt := range tests {
		cfg := config.Default()
		cfg.Audio.Backend = tt.backend
		if got := determineBackend(cfg); got != tt.expected {
			t.Errorf("determineBackend(%q) = %s, expected %s", tt.backend, got, tt.expected)
		}
	}
	if got := determineBackend(nil); got != BackendTypeMiniaudio {
		t.Errorf("Expected miniaudio for nil config, got %s", got)
	}
}

func TestValidateSource(t *testing.T) {
	b := &fakeBackend{device: &fakeDevice{format: Format{Channels: 1}}}
	if err := b.ValidateSource("fake mic"); err != nil {
		t.Errorf("Expected known source to validate, got %v", err)
	}
	if err := b.ValidateSource(""); err != nil {
		t.Errorf("Expected empty source (default device) to validate, got %v", err)
	}
	if err := b.ValidateSource("nope"); err == nil {
		t.Errorf("Expected error for unknown source")
	}
}

func TestProbeDurationUnreadable(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.wav")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if d := ProbeDuration(empty); d != 0 {
		t.Errorf("Expected 0 for empty payload, got %v", d)
	}
	if d := ProbeDuration(filepath.Join(dir, "missing.wav")); d != 0 {
		t.Errorf("Expected 0 for missing payload, got %v", d)
	}
}
