package audio

import (
	"fmt"
	"sync"

	goaudio "github.com/go-audio/audio"
)

// Format describes the PCM layout delivered by an input device.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d-bit", f.SampleRate, f.Channels, f.BitDepth)
}

func (f Format) valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.BitDepth == 16
}

func (f Format) audioFormat() *goaudio.Format {
	return &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate}
}

// framePool recycles the frame buffers the capture callback fills, so the
// callback does not allocate once the pool is warm.
type framePool struct {
	format Format
	af     *goaudio.Format
	pool   sync.Pool
}

func newFramePool(format Format) *framePool {
	return &framePool{format: format, af: format.audioFormat()}
}

// get returns a buffer holding a copy of the interleaved samples.
func (p *framePool) get(samples []int16) *goaudio.IntBuffer {
	buf, _ := p.pool.Get().(*goaudio.IntBuffer)
	if buf == nil {
		buf = &goaudio.IntBuffer{}
	}
	if cap(buf.Data) < len(samples) {
		buf.Data = make([]int, len(samples))
	}
	buf.Data = buf.Data[:len(samples)]
	for i, s := range samples {
		buf.Data[i] = int(s)
	}
	buf.Format = p.af
	buf.SourceBitDepth = p.format.BitDepth
	return buf
}

func (p *framePool) put(buf *goaudio.IntBuffer) {
	if buf == nil {
		return
	}
	buf.Data = buf.Data[:0]
	p.pool.Put(buf)
}
