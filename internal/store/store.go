package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/memocapture/internal/audio"
	"github.com/audiolibrelab/memocapture/internal/recording"
)

const (
	// RecordingsDir is the catalog directory under the storage root.
	RecordingsDir = "Recordings"
	// PayloadName is the canonical payload file inside a recording folder.
	PayloadName = "audio" + audio.PayloadExt
	// MetaName is the sidecar file inside a recording folder.
	MetaName = "meta.json"
)

var (
	ErrAdopt    = errors.New("adoption failed")
	ErrDelete   = errors.New("delete failed")
	ErrNotFound = errors.New("recording not found")
)

// Store is the on-disk catalog of recordings:
//
//	<root>/Recordings/<id>/audio.wav
//	<root>/Recordings/<id>/meta.json
//
// Loose payloads directly under <root> are legacy files waiting for
// adoption. Store methods are not meant to be called concurrently on the
// same recording; each sidecar write is atomic.
type Store struct {
	root string
	base string

	now   func() time.Time
	newID func() string

	// seams for tests
	times     func(path string) (fileTimes, error)
	probe     func(path string) float64
	rename    func(oldpath, newpath string) error
	removeAll func(path string) error
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time used when no filesystem date is available.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the folder id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// New opens the catalog under root, creating the Recordings directory.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	s := &Store{
		root:      abs,
		base:      filepath.Join(abs, RecordingsDir),
		now:       time.Now,
		newID:     func() string { return strings.ToUpper(uuid.NewString()) },
		times:     statTimes,
		probe:     audio.ProbeDuration,
		rename:    os.Rename,
		removeAll: os.RemoveAll,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	return s, nil
}

// Root returns the storage root holding legacy payloads.
func (s *Store) Root() string { return s.root }

// Base returns the Recordings directory.
func (s *Store) Base() string { return s.base }

// Adopt turns a payload path into an item. A payload already inside a
// recording folder is read back in place. Any other file is moved into a
// new folder and given a sidecar; if the move fails the file is left where
// it was and no folder remains.
func (s *Store) Adopt(path string) (recording.Item, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return recording.Item{}, fmt.Errorf("%w: %v", ErrAdopt, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return recording.Item{}, fmt.Errorf("%w: %v", ErrAdopt, err)
	}
	if info.IsDir() {
		return recording.Item{}, fmt.Errorf("%w: %s is a directory", ErrAdopt, abs)
	}

	if s.isNewStyle(abs) {
		if filepath.Base(abs) != PayloadName {
			return recording.Item{}, fmt.Errorf("%w: %s is not a recording payload", ErrAdopt, abs)
		}
		meta, _ := s.readMeta(filepath.Dir(abs))
		return s.resolve(abs, meta), nil
	}

	return s.adoptLegacy(abs)
}

func (s *Store) adoptLegacy(src string) (recording.Item, error) {
	id := s.newID()
	folder := filepath.Join(s.base, id)
	if err := os.Mkdir(folder, 0755); err != nil {
		return recording.Item{}, fmt.Errorf("%w: create folder: %v", ErrAdopt, err)
	}

	dest := filepath.Join(folder, PayloadName)
	if err := s.rename(src, dest); err != nil {
		if rmErr := os.Remove(folder); rmErr != nil {
			slog.Warn("Failed to remove folder after failed adoption", "folder", folder, "error", rmErr)
		}
		return recording.Item{}, fmt.Errorf("%w: move %s: %v", ErrAdopt, src, err)
	}

	created := s.fsDate(dest)
	duration := sanitizeDuration(s.probe(dest))
	meta := Meta{CreatedAt: &created, Duration: &duration}
	if err := s.writeMeta(folder, meta); err != nil {
		// non-fatal, setters synthesize the sidecar from the item
		slog.Warn("Failed to write sidecar", "folder", folder, "error", err)
	}

	slog.Info("Recording adopted", "id", id, "from", src)
	return recording.Item{Path: dest, CreatedAt: created, Duration: duration}, nil
}

// List returns every valid recording, newest first. Folders without a
// payload are skipped.
func (s *Store) List(ctx context.Context) ([]recording.Item, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return nil, fmt.Errorf("read recordings directory: %w", err)
	}

	var folders []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			folders = append(folders, filepath.Join(s.base, e.Name()))
		}
	}

	slots := make([]*recording.Item, len(folders))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, folder := range folders {
		i, folder := i, folder
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if item, ok := s.load(folder); ok {
				slots[i] = &item
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]recording.Item, 0, len(slots))
	for _, it := range slots {
		if it != nil {
			items = append(items, *it)
		}
	}
	sortNewestFirst(items)
	return items, nil
}

// Get loads a single recording by folder id.
func (s *Store) Get(id string) (recording.Item, error) {
	if !validID(id) {
		return recording.Item{}, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	item, ok := s.load(filepath.Join(s.base, id))
	if !ok {
		return recording.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

// Delete removes the recording folder. If that fails, or the item does not
// live in a recording folder, only the payload is removed.
func (s *Store) Delete(item recording.Item) error {
	folder := filepath.Clean(item.Folder())
	if filepath.Dir(folder) == s.base && validID(filepath.Base(folder)) {
		err := s.removeAll(folder)
		if err == nil {
			slog.Info("Recording deleted", "id", filepath.Base(folder))
			return nil
		}
		slog.Warn("Failed to remove recording folder, removing payload only", "folder", folder, "error", err)
	}

	if err := os.Remove(item.Path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDelete, item.Path, err)
	}
	return nil
}

// SetEmoji persists item.Emoji into the sidecar, leaving other fields as
// stored.
func (s *Store) SetEmoji(item recording.Item) error {
	return s.updateMeta(item, func(m *Meta) { m.Emoji = item.Emoji })
}

// SetName persists item.Name into the sidecar, leaving other fields as
// stored.
func (s *Store) SetName(item recording.Item) error {
	return s.updateMeta(item, func(m *Meta) { m.Name = item.Name })
}

// LegacyFiles returns loose payloads in the storage root, oldest name first.
func (s *Store) LegacyFiles() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), audio.PayloadExt) {
			files = append(files, filepath.Join(s.root, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) updateMeta(item recording.Item, mutate func(*Meta)) error {
	folder := item.Folder()
	if _, err := os.Stat(item.Path); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, item.Path)
	}

	meta, ok := s.readMeta(folder)
	if !ok {
		created := item.CreatedAt
		if created.IsZero() {
			created = s.fsDate(item.Path)
		}
		duration := sanitizeDuration(item.Duration)
		meta = Meta{CreatedAt: &created, Duration: &duration, Emoji: item.Emoji, Name: item.Name}
	}
	mutate(&meta)
	return s.writeMeta(folder, meta)
}

func (s *Store) load(folder string) (recording.Item, bool) {
	payload := filepath.Join(folder, PayloadName)
	info, err := os.Stat(payload)
	if err != nil || info.IsDir() {
		return recording.Item{}, false
	}
	meta, _ := s.readMeta(folder)
	return s.resolve(payload, meta), true
}

func (s *Store) resolve(payload string, meta Meta) recording.Item {
	item := recording.Item{Path: payload, Emoji: meta.Emoji, Name: meta.Name}
	if meta.CreatedAt != nil {
		item.CreatedAt = *meta.CreatedAt
	} else {
		item.CreatedAt = s.fsDate(payload)
	}
	if meta.Duration != nil {
		item.Duration = *meta.Duration
	} else {
		item.Duration = sanitizeDuration(s.probe(payload))
	}
	return item
}

// fsDate resolves birth time, then modification time, then now.
func (s *Store) fsDate(path string) time.Time {
	t, err := s.times(path)
	if err != nil {
		return s.now()
	}
	if !t.birth.IsZero() {
		return t.birth
	}
	if !t.mod.IsZero() {
		return t.mod
	}
	return s.now()
}

func (s *Store) readMeta(folder string) (Meta, bool) {
	data, err := os.ReadFile(filepath.Join(folder, MetaName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("Sidecar unreadable", "folder", folder, "error", err)
		}
		return Meta{}, false
	}
	meta, ok := decodeMeta(data)
	if !ok {
		slog.Debug("Sidecar corrupt, ignoring", "folder", folder)
	}
	return meta, ok
}

// writeMeta replaces the sidecar atomically.
func (s *Store) writeMeta(folder string, meta Meta) error {
	data, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(folder, ".meta-*.tmp")
	if err != nil {
		return fmt.Errorf("open tmp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		slog.Debug("Failed to chmod sidecar", "error", err)
	}
	if err := os.Rename(tmpName, filepath.Join(folder, MetaName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename tmp: %w", err)
	}
	return nil
}

func (s *Store) isNewStyle(path string) bool {
	folder := filepath.Dir(path)
	return filepath.Dir(folder) == s.base && validID(filepath.Base(folder))
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}

// sortNewestFirst orders by creation date, newest first. Equal dates keep
// the order of their folder names.
func sortNewestFirst(items []recording.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
