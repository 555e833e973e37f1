package audio

import (
	"math"
	"sync"
	"sync/atomic"
)

const levelGain = 3.0

// computeLevel returns a display level in [0,1] for one callback buffer:
// RMS of channel 0 sampled every other frame, scaled by levelGain.
func computeLevel(samples []int16, channels int) float32 {
	if channels <= 0 || len(samples) == 0 {
		return 0
	}
	frames := len(samples) / channels

	var sum float64
	for f := 0; f < frames; f += 2 {
		v := float64(samples[f*channels]) / 32768.0
		sum += v * v
	}
	mean := sum / float64(max(frames/2, 1))
	level := math.Sqrt(mean) * levelGain
	if level > 1 {
		level = 1
	}
	if level < 0 || math.IsNaN(level) {
		level = 0
	}
	return float32(level)
}

// LevelMeter delivers levels to a listener on its own goroutine. Only the
// most recent unread level is kept: Submit never blocks and a slow listener
// skips stale values.
type LevelMeter struct {
	mailbox chan float32
	last    atomic.Uint32

	mu       sync.RWMutex
	listener func(float32)

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewLevelMeter() *LevelMeter {
	m := &LevelMeter{
		mailbox: make(chan float32, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// OnLevel replaces the listener. A nil listener disables delivery.
func (m *LevelMeter) OnLevel(fn func(float32)) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

// Submit publishes a level, replacing any level not yet delivered.
func (m *LevelMeter) Submit(level float32) {
	for {
		select {
		case m.mailbox <- level:
			return
		default:
		}
		select {
		case <-m.mailbox:
		default:
		}
	}
}

// Level returns the last delivered level.
func (m *LevelMeter) Level() float32 {
	return math.Float32frombits(m.last.Load())
}

func (m *LevelMeter) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	<-m.done
}

func (m *LevelMeter) dispatch() {
	defer close(m.done)
	for {
		select {
		case level := <-m.mailbox:
			m.last.Store(math.Float32bits(level))
			m.mu.RLock()
			fn := m.listener
			m.mu.RUnlock()
			if fn != nil {
				fn(level)
			}
		case <-m.quit:
			return
		}
	}
}
