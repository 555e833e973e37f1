package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/memocapture/internal/audio"
	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/label"
	"github.com/audiolibrelab/memocapture/internal/play"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/store"
)

// Service represents the core MemoCapture service interface
type Service interface {
	// Capture operations
	StartCapture(ctx context.Context) error
	StopCapture() (*StopResult, error)
	ConfirmSave() (recording.Item, error)
	Discard() error
	PendingRecording() string
	GetCaptureStatus() (CaptureStatus, *CaptureSession)
	OnLevel(fn func(level float32))

	// Catalog operations
	ListRecordings(ctx context.Context) ([]recording.Item, error)
	GetRecording(id string) (recording.Item, error)
	Adopt(path string) (recording.Item, error)
	MigrateLegacy(ctx context.Context) ([]recording.Item, error)
	Rename(id, name string) (recording.Item, error)
	SetEmoji(id, emoji string) (recording.Item, error)
	DeleteRecording(id string) error

	// Labeling
	AutoLabel(ctx context.Context, id string) (<-chan label.Event, error)

	// Playback operations
	Play(ctx context.Context, id string) error

	// Information operations
	ListSources() ([]audio.Source, error)
	GetConfig() *config.Config
	GetLastError() string

	Close() error
}

// CaptureEngine is the part of audio.Engine the service drives.
type CaptureEngine interface {
	Start(ctx context.Context) error
	Stop() (string, error)
	GetStatus() (audio.Status, *audio.SessionInfo)
	OnLevel(fn func(level float32))
	Close() error
}

// CaptureStatus represents the current capture state
type CaptureStatus string

const (
	StatusIdle      CaptureStatus = "IDLE"
	StatusCapturing CaptureStatus = "CAPTURING"
	StatusPending   CaptureStatus = "PENDING" // stopped, waiting for confirm or discard
)

// CaptureSession contains information about the current capture session
type CaptureSession struct {
	StartTime  time.Time `json:"start_time"`
	Elapsed    string    `json:"elapsed"`
	OutputFile string    `json:"output_file"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Backend    string    `json:"backend"`
}

// StopResult describes what happened to a stopped capture. Exactly one of
// Pending and Item is set unless nothing was captured.
type StopResult struct {
	Pending string          `json:"pending,omitempty"`
	Item    *recording.Item `json:"item,omitempty"`
}

var (
	ErrNoPending       = errors.New("no pending recording")
	ErrPendingExists   = errors.New("a stopped recording is waiting to be saved or discarded")
	ErrNoTranscriber   = errors.New("no transcribe command configured")
	ErrLabelInProgress = errors.New("labeling already running for this recording")
)

// MemoCaptureService is the main service implementation
type MemoCaptureService struct {
	cfg    *config.Config
	engine CaptureEngine
	store  *store.Store
	player *play.Player

	transcriber label.Transcriber
	labeler     label.Labeler
	backend     audio.Backend

	pendingMutex sync.Mutex
	pending      string

	labelMutex sync.Mutex
	labeling   map[string]bool

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// Option customizes the service's collaborators.
type Option func(*MemoCaptureService)

func WithEngine(e CaptureEngine) Option {
	return func(s *MemoCaptureService) { s.engine = e }
}

func WithBackend(b audio.Backend) Option {
	return func(s *MemoCaptureService) { s.backend = b }
}

func WithTranscriber(t label.Transcriber) Option {
	return func(s *MemoCaptureService) { s.transcriber = t }
}

func WithLabeler(l label.Labeler) Option {
	return func(s *MemoCaptureService) { s.labeler = l }
}

func WithStore(st *store.Store) Option {
	return func(s *MemoCaptureService) { s.store = st }
}

// New creates a new MemoCapture service instance
func New(cfg *config.Config, opts ...Option) (*MemoCaptureService, error) {
	s := &MemoCaptureService{
		cfg:      cfg,
		player:   play.New(),
		labeling: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		st, err := store.New(cfg.Storage.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open recording store: %w", err)
		}
		s.store = st
	}
	if s.backend == nil {
		s.backend = audio.NewBackend(cfg)
	}
	if s.engine == nil {
		var auth audio.Authorizer = audio.AlwaysAllow{}
		if cfg.Capture.RequireConsent {
			auth = audio.NewPromptAuthorizer(audio.StdinLines(), os.Stderr)
		}
		s.engine = audio.NewEngine(s.backend, audio.EngineOptions{
			OutputDir:  s.store.Root(),
			Device:     audio.DeviceConfigFrom(cfg),
			Authorizer: auth,
		})
	}
	if s.transcriber == nil && cfg.Label.TranscribeCommand != "" {
		s.transcriber = &label.ExecTranscriber{Command: cfg.Label.TranscribeCommand}
	}
	if s.labeler == nil && cfg.Label.LabelCommand != "" {
		s.labeler = &label.ExecLabeler{Command: cfg.Label.LabelCommand}
	}

	return s, nil
}

// StartCapture begins a new capture. A stopped capture that is still
// waiting for confirmation must be saved or discarded first.
func (s *MemoCaptureService) StartCapture(ctx context.Context) error {
	slog.Debug("Service.StartCapture called")
	if s.PendingRecording() != "" {
		s.setLastError(ErrPendingExists.Error())
		return ErrPendingExists
	}

	if err := s.engine.Start(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start capture: %v", err))
		return err
	}
	s.clearLastError()
	return nil
}

// StopCapture stops the engine. With confirm_save the payload is kept
// pending; otherwise it is adopted right away. A payload that fails to
// adopt is kept pending so it can be confirmed again or discarded.
func (s *MemoCaptureService) StopCapture() (*StopResult, error) {
	path, err := s.engine.Stop()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop capture: %v", err))
	}
	if path == "" {
		return &StopResult{}, err
	}

	if s.cfg.Capture.ConfirmSave {
		s.setPending(path)
		slog.Info("Capture awaiting confirmation", "file", path)
		return &StopResult{Pending: path}, err
	}

	item, adoptErr := s.store.Adopt(path)
	if adoptErr != nil {
		s.setPending(path)
		slog.Warn("Recording kept pending after failed save", "file", path, "error", adoptErr)
		s.setLastError(fmt.Sprintf("Failed to save recording: %v", adoptErr))
		return &StopResult{Pending: path}, errors.Join(err, adoptErr)
	}
	if err == nil {
		s.clearLastError()
	}
	return &StopResult{Item: &item}, err
}

// ConfirmSave adopts the pending payload into the catalog.
func (s *MemoCaptureService) ConfirmSave() (recording.Item, error) {
	s.pendingMutex.Lock()
	defer s.pendingMutex.Unlock()

	if s.pending == "" {
		return recording.Item{}, ErrNoPending
	}
	item, err := s.store.Adopt(s.pending)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to save recording: %v", err))
		return recording.Item{}, err
	}
	s.pending = ""
	s.clearLastError()
	return item, nil
}

// Discard deletes the pending payload.
func (s *MemoCaptureService) Discard() error {
	s.pendingMutex.Lock()
	defer s.pendingMutex.Unlock()

	if s.pending == "" {
		return ErrNoPending
	}
	if err := os.Remove(s.pending); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.setLastError(fmt.Sprintf("Failed to discard recording: %v", err))
		return fmt.Errorf("failed to discard %s: %w", s.pending, err)
	}
	slog.Info("Pending recording discarded", "file", s.pending)
	s.pending = ""
	return nil
}

func (s *MemoCaptureService) setPending(path string) {
	s.pendingMutex.Lock()
	defer s.pendingMutex.Unlock()
	s.pending = path
}

// PendingRecording returns the payload awaiting confirmation, if any.
func (s *MemoCaptureService) PendingRecording() string {
	s.pendingMutex.Lock()
	defer s.pendingMutex.Unlock()
	return s.pending
}

// GetCaptureStatus returns the current capture status and session info
func (s *MemoCaptureService) GetCaptureStatus() (CaptureStatus, *CaptureSession) {
	status, session := s.engine.GetStatus()

	var svcStatus CaptureStatus
	switch status {
	case audio.StatusCapturing:
		svcStatus = StatusCapturing
	default:
		svcStatus = StatusIdle
		if s.PendingRecording() != "" {
			svcStatus = StatusPending
		}
	}

	var svcSession *CaptureSession
	if session != nil {
		svcSession = &CaptureSession{
			StartTime:  session.StartTime,
			Elapsed:    recording.FormatDuration(time.Since(session.StartTime).Seconds()),
			OutputFile: session.OutputFile,
			SampleRate: session.Format.SampleRate,
			Channels:   session.Format.Channels,
			Backend:    string(session.Backend),
		}
	}

	return svcStatus, svcSession
}

func (s *MemoCaptureService) OnLevel(fn func(level float32)) {
	s.engine.OnLevel(fn)
}

func (s *MemoCaptureService) ListRecordings(ctx context.Context) ([]recording.Item, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to list recordings: %v", err))
		return nil, err
	}
	return items, nil
}

func (s *MemoCaptureService) GetRecording(id string) (recording.Item, error) {
	return s.store.Get(id)
}

func (s *MemoCaptureService) Adopt(path string) (recording.Item, error) {
	item, err := s.store.Adopt(path)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to adopt %s: %v", path, err))
	}
	return item, err
}

// MigrateLegacy adopts every loose payload in the storage root. The
// pending payload, if any, is left alone. Adoption stops at the first
// failure.
func (s *MemoCaptureService) MigrateLegacy(ctx context.Context) ([]recording.Item, error) {
	files, err := s.store.LegacyFiles()
	if err != nil {
		return nil, err
	}

	pending := s.PendingRecording()
	_, session := s.engine.GetStatus()

	var adopted []recording.Item
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return adopted, err
		}
		if f == pending || (session != nil && f == session.OutputFile) {
			continue
		}
		item, err := s.store.Adopt(f)
		if err != nil {
			s.setLastError(fmt.Sprintf("Failed to migrate %s: %v", f, err))
			return adopted, err
		}
		adopted = append(adopted, item)
	}
	slog.Info("Legacy migration finished", "adopted", len(adopted))
	return adopted, nil
}

func (s *MemoCaptureService) Rename(id, name string) (recording.Item, error) {
	item, err := s.store.Get(id)
	if err != nil {
		return recording.Item{}, err
	}
	updated := item.WithName(strings.TrimSpace(name))
	if err := s.store.SetName(updated); err != nil {
		s.setLastError(fmt.Sprintf("Failed to rename %s: %v", id, err))
		return recording.Item{}, err
	}
	return updated, nil
}

func (s *MemoCaptureService) SetEmoji(id, emoji string) (recording.Item, error) {
	item, err := s.store.Get(id)
	if err != nil {
		return recording.Item{}, err
	}
	updated := item.WithEmoji(strings.TrimSpace(emoji))
	if err := s.store.SetEmoji(updated); err != nil {
		s.setLastError(fmt.Sprintf("Failed to label %s: %v", id, err))
		return recording.Item{}, err
	}
	return updated, nil
}

func (s *MemoCaptureService) DeleteRecording(id string) error {
	item, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(item); err != nil {
		s.setLastError(fmt.Sprintf("Failed to delete %s: %v", id, err))
		return err
	}
	return nil
}

// AutoLabel transcribes a recording and stores a generated label. Only one
// run per recording is allowed at a time.
func (s *MemoCaptureService) AutoLabel(ctx context.Context, id string) (<-chan label.Event, error) {
	if s.transcriber == nil {
		return nil, ErrNoTranscriber
	}
	item, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	s.labelMutex.Lock()
	if s.labeling[id] {
		s.labelMutex.Unlock()
		return nil, ErrLabelInProgress
	}
	s.labeling[id] = true
	s.labelMutex.Unlock()

	labeler := s.labeler
	if labeler == nil {
		labeler = unavailableLabeler{}
	}
	pipeline := label.NewPipeline(s.transcriber, labeler, s.store, s.cfg.Label.TickInterval)

	in := pipeline.Run(ctx, item)
	out := make(chan label.Event)
	go func() {
		defer func() {
			s.labelMutex.Lock()
			delete(s.labeling, id)
			s.labelMutex.Unlock()
			close(out)
		}()
		for ev := range in {
			if ev.Kind == label.EventError {
				s.setLastError(fmt.Sprintf("Labeling %s failed: %v", id, ev.Err))
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (s *MemoCaptureService) Play(ctx context.Context, id string) error {
	item, err := s.store.Get(id)
	if err != nil {
		return err
	}
	return s.player.Play(ctx, item.Path)
}

func (s *MemoCaptureService) ListSources() ([]audio.Source, error) {
	return s.backend.ListSources()
}

// GetConfig returns the current configuration
func (s *MemoCaptureService) GetConfig() *config.Config {
	return s.cfg
}

// Close stops any running capture. A capture stopped this way is kept as
// a loose payload for the next migrate.
func (s *MemoCaptureService) Close() error {
	return s.engine.Close()
}

// GetLastError returns the last error message (thread-safe)
func (s *MemoCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *MemoCaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *MemoCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// unavailableLabeler makes the pipeline fall back to its default label
// when no label command is configured.
type unavailableLabeler struct{}

var errNoLabeler = errors.New("no label command configured")

func (unavailableLabeler) First(context.Context, string) (string, error) { return "", errNoLabeler }
func (unavailableLabeler) Second(context.Context, string, ...string) (string, error) {
	return "", errNoLabeler
}
func (unavailableLabeler) Decide(context.Context, string, string, string) (string, error) {
	return "", errNoLabeler
}
