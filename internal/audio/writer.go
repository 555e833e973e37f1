package audio

import (
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Sink receives frame buffers in order. Implementations need not be safe
// for concurrent use; FrameWriter calls them from a single goroutine.
type Sink interface {
	Write(buf *goaudio.IntBuffer) error
}

// FrameWriter moves frame buffers from the real-time callback to a sink.
// Enqueue only appends to a pending list; a single worker goroutine drains
// the list in order, so the sink sees buffers exactly in enqueue order.
type FrameWriter struct {
	sink    Sink
	release func(*goaudio.IntBuffer)

	mu      sync.Mutex
	pending []*goaudio.IntBuffer
	closed  bool
	err     error
	written int
	frames  int64

	wake  chan struct{}
	flush chan chan struct{}
	quit  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
}

// WriterOption configures a FrameWriter.
type WriterOption func(*FrameWriter)

// WithRelease installs a hook that receives each buffer once it has been
// handed to the sink.
func WithRelease(fn func(*goaudio.IntBuffer)) WriterOption {
	return func(w *FrameWriter) { w.release = fn }
}

// NewFrameWriter starts the worker goroutine. Call Close to stop it.
func NewFrameWriter(sink Sink, opts ...WriterOption) *FrameWriter {
	w := &FrameWriter{
		sink:  sink,
		wake:  make(chan struct{}, 1),
		flush: make(chan chan struct{}),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Enqueue takes ownership of buf and schedules it for writing. It never
// performs I/O. Buffers enqueued after Close are dropped.
func (w *FrameWriter) Enqueue(buf *goaudio.IntBuffer) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, buf)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Finish blocks until every buffer enqueued before the call has been
// written.
func (w *FrameWriter) Finish() {
	ack := make(chan struct{})
	select {
	case w.flush <- ack:
		<-ack
	case <-w.done:
	}
}

// Close drains what is pending and stops the worker.
func (w *FrameWriter) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.quit)
	})
	<-w.done
}

// Written returns the number of buffers handed to the sink without error.
func (w *FrameWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Frames returns the number of samples written, across all channels.
func (w *FrameWriter) Frames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Err returns the first sink error. Later buffers are discarded after it.
func (w *FrameWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *FrameWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.drain()
		case ack := <-w.flush:
			w.drain()
			close(ack)
		case <-w.quit:
			w.drain()
			return
		}
	}
}

func (w *FrameWriter) drain() {
	for {
		w.mu.Lock()
		batch := w.pending
		w.pending = nil
		failed := w.err != nil
		w.mu.Unlock()

		if len(batch) == 0 {
			return
		}

		for _, buf := range batch {
			if !failed {
				if err := w.sink.Write(buf); err != nil {
					failed = true
					w.mu.Lock()
					w.err = err
					w.mu.Unlock()
				} else {
					w.mu.Lock()
					w.written++
					w.frames += int64(len(buf.Data))
					w.mu.Unlock()
				}
			}
			if w.release != nil {
				w.release(buf)
			}
		}
	}
}

// wavSink writes 16-bit PCM WAV to an open file.
type wavSink struct {
	file *os.File
	enc  *wav.Encoder
}

func newWAVSink(file *os.File, format Format) *wavSink {
	return &wavSink{
		file: file,
		enc:  wav.NewEncoder(file, format.SampleRate, format.BitDepth, format.Channels, 1),
	}
}

func (s *wavSink) Write(buf *goaudio.IntBuffer) error {
	return s.enc.Write(buf)
}

// Close finalizes the WAV header and closes the file.
func (s *wavSink) Close() error {
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalize wav header: %w", encErr)
	}
	return fileErr
}
