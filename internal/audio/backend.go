package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/audiolibrelab/memocapture/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypeMiniaudio BackendType = "miniaudio"
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypePipeWire  BackendType = "pipewire"
	BackendTypeAuto      BackendType = "auto"
)

var (
	// ErrPermissionDenied is returned when the user refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDevice wraps failures to configure or start the input device.
	ErrDevice = errors.New("audio device error")
	// ErrAlreadyCapturing is returned by Start while a capture is running.
	ErrAlreadyCapturing = errors.New("capture already in progress")
)

// DeviceConfig selects and shapes an input device. Zero values ask for the
// device's native setting.
type DeviceConfig struct {
	Device       string
	SampleRate   int
	Channels     int
	BufferFrames int
}

// Source is an input device as reported by a backend.
type Source struct {
	Name       string `json:"name" yaml:"name"`
	Channels   int    `json:"channels" yaml:"channels"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
	Default    bool   `json:"default" yaml:"default"`
}

// InputDevice is an opened capture device. The callback passed to Start
// runs on the device's real-time thread and receives interleaved 16-bit
// samples; the slice is only valid for the duration of the call.
type InputDevice interface {
	Format() Format
	Start(onFrames func(in []int16)) error
	Stop() error
	Close() error
}

// Backend defines the interface for audio backend implementations
type Backend interface {
	// Open configures an input device without starting it
	Open(cfg DeviceConfig) (InputDevice, error)

	// List available input devices
	ListSources() ([]Source, error)

	// Validate if a source is available
	ValidateSource(source string) error

	// Get the backend type
	GetType() BackendType
}

// NewBackend creates the backend selected by configuration
func NewBackend(cfg *config.Config) Backend {
	switch determineBackend(cfg) {
	case BackendTypePortAudio:
		return &PortAudioBackend{}
	case BackendTypePipeWire:
		return NewPipeWireBackend()
	default:
		return &MiniaudioBackend{}
	}
}

// DeviceConfigFrom extracts the device settings from configuration.
func DeviceConfigFrom(cfg *config.Config) DeviceConfig {
	return DeviceConfig{
		Device:       cfg.Audio.Device,
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     cfg.Audio.Channels,
		BufferFrames: cfg.Audio.BufferFrames,
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	if cfg == nil {
		return BackendTypeMiniaudio
	}
	switch strings.ToLower(cfg.Audio.Backend) {
	case "portaudio":
		return BackendTypePortAudio
	case "miniaudio":
		return BackendTypeMiniaudio
	case "pipewire":
		return BackendTypePipeWire
	}
	// miniaudio ships its own device layer on every platform
	return BackendTypeMiniaudio
}

// GetAvailableBackends returns the backends compiled into this binary
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeMiniaudio, BackendTypePortAudio, BackendTypePipeWire}
}

func validateSource(b Backend, source string) error {
	if source == "" {
		return nil
	}
	sources, err := b.ListSources()
	if err != nil {
		return err
	}
	for _, s := range sources {
		if s.Name == source {
			return nil
		}
	}
	return fmt.Errorf("audio source '%s' not found on %s backend", source, b.GetType())
}
