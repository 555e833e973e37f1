package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MiniaudioBackend captures through miniaudio, which picks the platform's
// native API (CoreAudio, WASAPI, ALSA/PulseAudio).
type MiniaudioBackend struct{}

func (b *MiniaudioBackend) GetType() BackendType {
	return BackendTypeMiniaudio
}

func (b *MiniaudioBackend) ListSources() ([]Source, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDevice, err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate capture devices: %v", ErrDevice, err)
	}

	sources := make([]Source, 0, len(infos))
	for _, info := range infos {
		sources = append(sources, Source{
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return sources, nil
}

func (b *MiniaudioBackend) ValidateSource(source string) error {
	return validateSource(b, source)
}

func (b *MiniaudioBackend) Open(cfg DeviceConfig) (InputDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDevice, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	if cfg.BufferFrames > 0 {
		deviceConfig.PeriodSizeInFrames = uint32(cfg.BufferFrames)
	}

	if cfg.Device != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(ctx)
			return nil, fmt.Errorf("%w: enumerate capture devices: %v", ErrDevice, err)
		}
		found := false
		for _, info := range infos {
			if info.Name() == cfg.Device {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			freeContext(ctx)
			return nil, fmt.Errorf("%w: input device '%s' not found", ErrDevice, cfg.Device)
		}
	}

	d := &miniaudioDevice{ctx: ctx}
	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onData,
	})
	if err != nil {
		freeContext(ctx)
		return nil, fmt.Errorf("%w: init device: %v", ErrDevice, err)
	}
	d.device = device
	d.format = Format{
		SampleRate: int(device.SampleRate()),
		Channels:   int(device.CaptureChannels()),
		BitDepth:   16,
	}

	slog.Debug("Miniaudio device opened", "device", cfg.Device, "format", d.format.String())
	return d, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

type miniaudioDevice struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	format Format

	callback atomic.Pointer[func([]int16)]
	scratch  []int16 // touched only by the device thread

	closeOnce sync.Once
}

func (d *miniaudioDevice) Format() Format {
	return d.format
}

func (d *miniaudioDevice) onData(_, input []byte, frameCount uint32) {
	cb := d.callback.Load()
	if cb == nil {
		return
	}
	n := int(frameCount) * d.format.Channels
	if n*2 > len(input) {
		n = len(input) / 2
	}
	if cap(d.scratch) < n {
		d.scratch = make([]int16, n)
	}
	samples := d.scratch[:n]
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(input[i*2:]))
	}
	(*cb)(samples)
}

func (d *miniaudioDevice) Start(onFrames func(in []int16)) error {
	d.callback.Store(&onFrames)
	if err := d.device.Start(); err != nil {
		d.callback.Store(nil)
		return fmt.Errorf("%w: start device: %v", ErrDevice, err)
	}
	return nil
}

// Stop halts the device. miniaudio guarantees no callback is running once
// it returns.
func (d *miniaudioDevice) Stop() error {
	d.callback.Store(nil)
	if err := d.device.Stop(); err != nil {
		return fmt.Errorf("%w: stop device: %v", ErrDevice, err)
	}
	return nil
}

func (d *miniaudioDevice) Close() error {
	d.closeOnce.Do(func() {
		d.device.Uninit()
		freeContext(d.ctx)
	})
	return nil
}
