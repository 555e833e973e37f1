package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend captures through PortAudio in callback mode.
type PortAudioBackend struct{}

func (b *PortAudioBackend) GetType() BackendType {
	return BackendTypePortAudio
}

func (b *PortAudioBackend) ListSources() ([]Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", ErrDevice, err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", ErrDevice, err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var sources []Source
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		sources = append(sources, Source{
			Name:       dev.Name,
			Channels:   dev.MaxInputChannels,
			SampleRate: int(dev.DefaultSampleRate),
			Default:    def != nil && dev.Name == def.Name,
		})
	}
	return sources, nil
}

func (b *PortAudioBackend) ValidateSource(source string) error {
	return validateSource(b, source)
}

func (b *PortAudioBackend) Open(cfg DeviceConfig) (InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", ErrDevice, err)
	}

	dev, err := findPortAudioInput(cfg.Device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Channels
	if params.Input.Channels == 0 {
		params.Input.Channels = min(dev.MaxInputChannels, 2)
	}
	if cfg.SampleRate > 0 {
		params.SampleRate = float64(cfg.SampleRate)
	}
	if cfg.BufferFrames > 0 {
		params.FramesPerBuffer = cfg.BufferFrames
	}

	d := &portAudioDevice{
		format: Format{
			SampleRate: int(params.SampleRate),
			Channels:   params.Input.Channels,
			BitDepth:   16,
		},
	}
	stream, err := portaudio.OpenStream(params, d.process)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: open stream on '%s': %v", ErrDevice, dev.Name, err)
	}
	d.stream = stream

	slog.Debug("PortAudio device opened", "device", dev.Name, "format", d.format.String())
	return d, nil
}

func findPortAudioInput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrDevice, err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", ErrDevice, err)
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: input device '%s' not found", ErrDevice, name)
}

type portAudioDevice struct {
	stream   *portaudio.Stream
	format   Format
	callback atomic.Pointer[func([]int16)]

	closeOnce sync.Once
}

func (d *portAudioDevice) Format() Format {
	return d.format
}

func (d *portAudioDevice) process(in []int16) {
	if cb := d.callback.Load(); cb != nil {
		(*cb)(in)
	}
}

func (d *portAudioDevice) Start(onFrames func(in []int16)) error {
	d.callback.Store(&onFrames)
	if err := d.stream.Start(); err != nil {
		d.callback.Store(nil)
		return fmt.Errorf("%w: start stream: %v", ErrDevice, err)
	}
	return nil
}

// Stop waits for pending buffers to be processed before returning.
func (d *portAudioDevice) Stop() error {
	err := d.stream.Stop()
	d.callback.Store(nil)
	if err != nil {
		return fmt.Errorf("%w: stop stream: %v", ErrDevice, err)
	}
	return nil
}

func (d *portAudioDevice) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.stream.Close()
		portaudio.Terminate()
	})
	return err
}
