package audio

import (
	"context"
	"errors"
	"sync"
)

type fakeDevice struct {
	format   Format
	startErr error

	mu       sync.Mutex
	callback func([]int16)
	started  bool
	closed   bool
}

func (d *fakeDevice) Format() Format { return d.format }

func (d *fakeDevice) Start(onFrames func(in []int16)) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = onFrames
	d.started = true
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = nil
	d.started = false
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// feed simulates one device callback. The slice is scribbled over after
// the call, as a real device would reuse it.
func (d *fakeDevice) feed(samples []int16) {
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()
	if cb == nil {
		return
	}
	buf := append([]int16(nil), samples...)
	cb(buf)
	for i := range buf {
		buf[i] = -1
	}
}

type fakeBackend struct {
	device  *fakeDevice
	openErr error
	opened  int
}

func (b *fakeBackend) Open(cfg DeviceConfig) (InputDevice, error) {
	b.opened++
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.device, nil
}

func (b *fakeBackend) ListSources() ([]Source, error) {
	return []Source{{Name: "fake mic", Channels: b.device.format.Channels, Default: true}}, nil
}

func (b *fakeBackend) ValidateSource(source string) error { return validateSource(b, source) }

func (b *fakeBackend) GetType() BackendType { return "fake" }

type fakeAuthorizer struct {
	granted bool
	err     error
	asked   int
}

func (a *fakeAuthorizer) RequestAccess(context.Context) (bool, error) {
	a.asked++
	return a.granted, a.err
}

var errBoom = errors.New("boom")
