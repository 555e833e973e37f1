package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/memocapture/internal/recording"
)

var testNow = time.Date(2025, 9, 20, 12, 0, 0, 0, time.UTC)

// newTestStore returns a store whose dates come from modification times
// only, so tests can set them with os.Chtimes.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	n := 0
	s, err := New(t.TempDir(),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("ID-%03d", n)
		}),
	)
	require.NoError(t, err)
	s.times = func(path string) (fileTimes, error) {
		info, err := os.Stat(path)
		if err != nil {
			return fileTimes{}, err
		}
		return fileTimes{mod: info.ModTime()}, nil
	}
	return s
}

// writeWAV writes a mono 16-bit payload with the given number of frames.
func writeWAV(t *testing.T, path string, rate, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, frames),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = i % 100
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func writeLegacy(t *testing.T, s *Store, name string, date time.Time) string {
	t.Helper()
	path := filepath.Join(s.Root(), name)
	writeWAV(t, path, 8000, 8000)
	require.NoError(t, os.Chtimes(path, date, date))
	return path
}

func folderNames(t *testing.T, s *Store) []string {
	t.Helper()
	entries, err := os.ReadDir(s.Base())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAdoptLegacyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	date := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	legacy := writeLegacy(t, s, "Recording-20250901-100000.wav", date)

	item, err := s.Adopt(legacy)
	require.NoError(t, err)

	assert.NoFileExists(t, legacy)
	assert.Equal(t, filepath.Join(s.Base(), "ID-001", PayloadName), item.Path)
	assert.Equal(t, "ID-001", item.ID())
	assert.True(t, item.CreatedAt.Equal(date), "expected %v, got %v", date, item.CreatedAt)
	assert.InDelta(t, 1.0, item.Duration, 1e-9)

	entries, err := os.ReadDir(item.Folder())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{PayloadName, MetaName}, names)

	data, err := os.ReadFile(filepath.Join(item.Folder(), MetaName))
	require.NoError(t, err)
	meta, ok := decodeMeta(data)
	require.True(t, ok)
	require.NotNil(t, meta.CreatedAt)
	assert.True(t, meta.CreatedAt.Equal(date))
	require.NotNil(t, meta.Duration)
	assert.InDelta(t, 1.0, *meta.Duration, 1e-9)
}

func TestAdoptNewStyleIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	legacy := writeLegacy(t, s, "a.wav", testNow.Add(-time.Hour))

	first, err := s.Adopt(legacy)
	require.NoError(t, err)

	again, err := s.Adopt(first.Path)
	require.NoError(t, err)
	third, err := s.Adopt(again.Path)
	require.NoError(t, err)

	assert.True(t, first.Equal(again))
	assert.Equal(t, again, third)
	assert.FileExists(t, first.Path)
	assert.Equal(t, []string{"ID-001"}, folderNames(t, s))
}

func TestAdoptRejectsNonPayloadInsideFolder(t *testing.T) {
	s := newTestStore(t)
	legacy := writeLegacy(t, s, "b.wav", testNow)
	item, err := s.Adopt(legacy)
	require.NoError(t, err)

	stray := filepath.Join(item.Folder(), "audio.wav.tmp")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0644))

	for _, path := range []string{filepath.Join(item.Folder(), MetaName), stray} {
		_, err := s.Adopt(path)
		assert.ErrorIs(t, err, ErrAdopt, path)
		assert.FileExists(t, path)
	}
	assert.Equal(t, []string{"ID-001"}, folderNames(t, s))
}

func TestAdoptScenarioListsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	t1 := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	p1 := writeLegacy(t, s, "one.wav", t1)
	p2 := writeLegacy(t, s, "two.wav", t2)
	p3 := writeLegacy(t, s, "three.wav", t3)

	for _, p := range []string{p2, p1, p3} {
		_, err := s.Adopt(p)
		require.NoError(t, err)
	}

	items, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].CreatedAt.Equal(t3))
	assert.True(t, items[1].CreatedAt.Equal(t2))
	assert.True(t, items[2].CreatedAt.Equal(t1))
}

func TestListSortInvariant(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []int{5, 1, 9, 3, 3, 7, 0, 2}
	for i, off := range offsets {
		writeLegacy(t, s, fmt.Sprintf("r%d.wav", i), base.Add(time.Duration(off)*time.Minute))
	}
	files, err := s.LegacyFiles()
	require.NoError(t, err)
	for _, f := range files {
		_, err := s.Adopt(f)
		require.NoError(t, err)
	}

	items, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, len(offsets))
	for i := 1; i < len(items); i++ {
		assert.False(t, items[i].CreatedAt.After(items[i-1].CreatedAt), "items %d and %d out of order", i-1, i)
	}
}

func TestListSkipsFoldersWithoutPayload(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Adopt(writeLegacy(t, s, "ok.wav", testNow))
	require.NoError(t, err)

	broken := filepath.Join(s.Base(), "BROKEN")
	require.NoError(t, os.Mkdir(broken, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, MetaName), []byte(`{"name":"orphan"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Base(), "stray.txt"), []byte("x"), 0644))

	items, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ID-001", items[0].ID())

	// the broken folder is skipped, not erased
	assert.DirExists(t, broken)
}

func TestSidecarTakesPrecedence(t *testing.T) {
	s := newTestStore(t)
	folder := filepath.Join(s.Base(), "X")
	require.NoError(t, os.Mkdir(folder, 0755))
	payload := filepath.Join(folder, PayloadName)
	writeWAV(t, payload, 8000, 800)
	modDate := time.Date(2024, 5, 5, 5, 5, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(payload, modDate, modDate))

	sidecar := `{"createdAt":"2023-01-02T03:04:05Z","duration":42.5,"emoji":"🎧","name":"Focus"}`
	require.NoError(t, os.WriteFile(filepath.Join(folder, MetaName), []byte(sidecar), 0644))

	item, err := s.Get("X")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC), item.CreatedAt.UTC())
	assert.Equal(t, 42.5, item.Duration)
	assert.Equal(t, "🎧", item.Emoji)
	assert.Equal(t, "Focus", item.Name)

	// partial sidecar: missing fields come from the filesystem and the probe
	require.NoError(t, os.WriteFile(filepath.Join(folder, MetaName), []byte(`{"emoji":"💡"}`), 0644))
	item, err = s.Get("X")
	require.NoError(t, err)
	assert.True(t, item.CreatedAt.Equal(modDate))
	assert.InDelta(t, 0.1, item.Duration, 1e-9)
	assert.Equal(t, "💡", item.Emoji)
}

func TestCorruptSidecarFallsBack(t *testing.T) {
	s := newTestStore(t)
	item, err := s.Adopt(writeLegacy(t, s, "c.wav", time.Date(2025, 2, 2, 2, 2, 2, 0, time.UTC)))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(item.Folder(), MetaName), []byte("{not json"), 0644))

	got, err := s.Get(item.ID())
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(item.CreatedAt))
	assert.InDelta(t, item.Duration, got.Duration, 1e-9)
	assert.Empty(t, got.Emoji)
}

func TestMetadataDurability(t *testing.T) {
	s := newTestStore(t)
	item, err := s.Adopt(writeLegacy(t, s, "m.wav", time.Date(2025, 3, 3, 3, 3, 3, 0, time.UTC)))
	require.NoError(t, err)

	require.NoError(t, s.SetName(item.WithName("Groceries")))
	require.NoError(t, s.SetEmoji(item.WithEmoji("🛒")))

	items, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	got := items[0]
	assert.True(t, got.Equal(item))
	assert.Equal(t, "Groceries", got.Name)
	assert.Equal(t, "🛒", got.Emoji)
	assert.True(t, got.CreatedAt.Equal(item.CreatedAt))
	assert.Equal(t, item.Duration, got.Duration)

	// no temporary files are left next to the sidecar
	entries, err := os.ReadDir(item.Folder())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestSetEmojiSynthesizesMissingSidecar(t *testing.T) {
	s := newTestStore(t)
	item, err := s.Adopt(writeLegacy(t, s, "s.wav", testNow))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(item.Folder(), MetaName)))

	known := item
	known.CreatedAt = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	known.Duration = 12.5
	known.Name = "kept"
	require.NoError(t, s.SetEmoji(known.WithEmoji("🎸")))

	got, err := s.Get(item.ID())
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(known.CreatedAt))
	assert.Equal(t, 12.5, got.Duration)
	assert.Equal(t, "🎸", got.Emoji)
	assert.Equal(t, "kept", got.Name)
}

func TestSetNameOnMissingPayload(t *testing.T) {
	s := newTestStore(t)
	err := s.SetName(recording.Item{Path: filepath.Join(s.Base(), "GONE", PayloadName), Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCompleteness(t *testing.T) {
	s := newTestStore(t)
	item, err := s.Adopt(writeLegacy(t, s, "d.wav", testNow))
	require.NoError(t, err)
	other, err := s.Adopt(writeLegacy(t, s, "e.wav", testNow))
	require.NoError(t, err)

	require.NoError(t, s.Delete(item))

	assert.NoDirExists(t, item.Folder())
	assert.NoFileExists(t, item.Path)
	items, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Equal(other))
}

func TestDeleteFallsBackToPayload(t *testing.T) {
	s := newTestStore(t)
	item, err := s.Adopt(writeLegacy(t, s, "f.wav", testNow))
	require.NoError(t, err)
	s.removeAll = func(string) error { return errors.New("busy") }

	require.NoError(t, s.Delete(item))
	assert.NoFileExists(t, item.Path)

	items, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteErrorWhenBothFail(t *testing.T) {
	s := newTestStore(t)
	item, err := s.Adopt(writeLegacy(t, s, "g.wav", testNow))
	require.NoError(t, err)
	s.removeAll = func(string) error { return errors.New("busy") }
	require.NoError(t, os.Remove(item.Path))

	err = s.Delete(item)
	assert.ErrorIs(t, err, ErrDelete)
}

func TestDeleteNeverRemovesForeignFolders(t *testing.T) {
	s := newTestStore(t)
	outside := filepath.Join(s.Root(), "elsewhere")
	require.NoError(t, os.Mkdir(outside, 0755))
	payload := filepath.Join(outside, "clip.wav")
	writeWAV(t, payload, 8000, 10)
	keep := filepath.Join(outside, "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0644))

	require.NoError(t, s.Delete(recording.Item{Path: payload}))
	assert.NoFileExists(t, payload)
	assert.FileExists(t, keep)
}

func TestAdoptMoveFailureLeavesSourceUntouched(t *testing.T) {
	s := newTestStore(t)
	legacy := writeLegacy(t, s, "h.wav", testNow)
	s.rename = func(string, string) error { return errors.New("cross-device link") }

	_, err := s.Adopt(legacy)
	require.ErrorIs(t, err, ErrAdopt)

	assert.FileExists(t, legacy)
	assert.Empty(t, folderNames(t, s))
}

func TestAdoptMissingFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Adopt(filepath.Join(s.Root(), "nope.wav"))
	assert.ErrorIs(t, err, ErrAdopt)
	assert.Empty(t, folderNames(t, s))
}

func TestZeroBytePayloadHasZeroDuration(t *testing.T) {
	s := newTestStore(t)
	legacy := filepath.Join(s.Root(), "empty.wav")
	require.NoError(t, os.WriteFile(legacy, nil, 0644))

	item, err := s.Adopt(legacy)
	require.NoError(t, err)
	assert.Equal(t, 0.0, item.Duration)
	assert.FileExists(t, item.Path)

	items, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0.0, items[0].Duration)
}

func TestGetRejectsInvalidIDs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", ".", "..", "../x", "a/b", ".hidden"} {
		_, err := s.Get(id)
		assert.ErrorIs(t, err, ErrNotFound, "id %q", id)
	}
	_, err := s.Get("MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLegacyFiles(t *testing.T) {
	s := newTestStore(t)
	writeLegacy(t, s, "b.wav", testNow)
	writeLegacy(t, s, "a.WAV", testNow)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), ".hidden.wav"), []byte("x"), 0644))

	files, err := s.LegacyFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(s.Root(), "a.WAV"), filepath.Join(s.Root(), "b.wav")}, files)
}

func TestListHonoursCancellation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Adopt(writeLegacy(t, s, "x.wav", testNow))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFsDatePrecedence(t *testing.T) {
	s := newTestStore(t)
	birth := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	mod := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	s.times = func(string) (fileTimes, error) { return fileTimes{birth: birth, mod: mod}, nil }
	assert.Equal(t, birth, s.fsDate("x"))

	s.times = func(string) (fileTimes, error) { return fileTimes{mod: mod}, nil }
	assert.Equal(t, mod, s.fsDate("x"))

	s.times = func(string) (fileTimes, error) { return fileTimes{}, errors.New("stat") }
	assert.Equal(t, testNow, s.fsDate("x"))
}
