package label

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/audiolibrelab/memocapture/internal/recording"
)

// FallbackLabel is persisted when the labeler cannot produce a label.
const FallbackLabel = "🤔"

// Transcriber turns a payload into text. progress may be nil.
type Transcriber interface {
	Transcribe(ctx context.Context, path string, progress func(float64)) (string, error)
}

// Labeler proposes short labels for a transcript.
type Labeler interface {
	// First returns the primary candidate.
	First(ctx context.Context, transcript string) (string, error)
	// Second returns a candidate that avoids every value in exclude.
	Second(ctx context.Context, transcript string, exclude ...string) (string, error)
	// Decide picks whichever of a and b fits the transcript better.
	Decide(ctx context.Context, transcript, a, b string) (string, error)
}

// Persister stores the chosen label.
type Persister interface {
	SetEmoji(item recording.Item) error
}

// EventKind identifies a pipeline stage.
type EventKind int

const (
	EventElapsed EventKind = iota
	EventTranscript
	EventFirstCandidate
	EventSecondCandidate
	EventFinal
	EventSaved
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventElapsed:
		return "elapsed"
	case EventTranscript:
		return "transcript"
	case EventFirstCandidate:
		return "first"
	case EventSecondCandidate:
		return "second"
	case EventFinal:
		return "final"
	case EventSaved:
		return "saved"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one step of a labeling run. Text carries the transcript or a
// label, Elapsed the transcription wall time, Item the saved recording.
type Event struct {
	Kind    EventKind
	Elapsed time.Duration
	Text    string
	Item    recording.Item
	Err     error
}

// Pipeline transcribes a recording, chooses a label in stages and persists
// it. Events arrive in stage order on the channel returned by Run.
type Pipeline struct {
	Transcriber  Transcriber
	Labeler      Labeler
	Persister    Persister
	TickInterval time.Duration

	now func() time.Time
}

func NewPipeline(t Transcriber, l Labeler, p Persister, tick time.Duration) *Pipeline {
	return &Pipeline{Transcriber: t, Labeler: l, Persister: p, TickInterval: tick}
}

// Run starts labeling item and returns its event stream. The channel is
// closed after EventSaved or EventError, or when ctx is cancelled.
// Elapsed ticks are dropped when the consumer falls behind; every other
// event is delivered.
func (p *Pipeline) Run(ctx context.Context, item recording.Item) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		p.run(ctx, item, out)
	}()
	return out
}

func (p *Pipeline) run(ctx context.Context, item recording.Item, out chan<- Event) {
	emit := func(e Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}
	now := p.now
	if now == nil {
		now = time.Now
	}
	tick := p.TickInterval
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}

	start := now()
	if !emit(Event{Kind: EventElapsed}) {
		return
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := p.Transcriber.Transcribe(ctx, item.Path, nil)
		done <- result{text, err}
	}()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var res result
wait:
	for {
		select {
		case res = <-done:
			break wait
		case <-ticker.C:
			select {
			case out <- Event{Kind: EventElapsed, Elapsed: now().Sub(start)}:
			default:
			}
		case <-ctx.Done():
			return
		}
	}

	if !emit(Event{Kind: EventElapsed, Elapsed: now().Sub(start)}) {
		return
	}
	if res.err != nil {
		emit(Event{Kind: EventError, Err: fmt.Errorf("transcription failed: %w", res.err)})
		return
	}
	if !emit(Event{Kind: EventTranscript, Text: res.text}) {
		return
	}

	label, err := p.pick(ctx, cleanTranscript(res.text), item.Emoji, emit)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Warn("Labeling failed, using fallback", "id", item.ID(), "error", err)
		label = FallbackLabel
		if !emit(Event{Kind: EventFinal, Text: label}) {
			return
		}
	}

	labeled := item.WithEmoji(label)
	if err := p.Persister.SetEmoji(labeled); err != nil {
		emit(Event{Kind: EventError, Err: fmt.Errorf("saving label: %w", err)})
		return
	}
	emit(Event{Kind: EventSaved, Text: label, Item: labeled})
}

var errCancelled = errors.New("labeling cancelled")

// pick runs the candidate stages. With no exclusion the first candidate is
// final. Otherwise a second candidate avoiding both values is requested,
// retried once if it repeats one of them, and a decider chooses between
// the two.
func (p *Pipeline) pick(ctx context.Context, transcript, exclude string, emit func(Event) bool) (string, error) {
	first, err := p.Labeler.First(ctx, transcript)
	if err != nil {
		return "", err
	}
	if !emit(Event{Kind: EventFirstCandidate, Text: first}) {
		return "", errCancelled
	}

	if exclude == "" {
		if !emit(Event{Kind: EventSecondCandidate, Text: first}) || !emit(Event{Kind: EventFinal, Text: first}) {
			return "", errCancelled
		}
		return first, nil
	}

	second, err := p.Labeler.Second(ctx, transcript, first, exclude)
	if err != nil {
		return "", err
	}
	if second == first || second == exclude {
		second, err = p.Labeler.Second(ctx, transcript, first, exclude)
		if err != nil {
			return "", err
		}
	}
	if !emit(Event{Kind: EventSecondCandidate, Text: second}) {
		return "", errCancelled
	}

	final := first
	if !(second == first && second == exclude) {
		final, err = p.Labeler.Decide(ctx, transcript, first, second)
		if err != nil {
			return "", err
		}
	}
	if !emit(Event{Kind: EventFinal, Text: final}) {
		return "", errCancelled
	}
	return final, nil
}

func cleanTranscript(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
