package recording

import (
	"fmt"
	"math"
	"path/filepath"
	"time"
)

// Item describes one stored recording. Its identity is the payload path:
// two items with the same Path refer to the same recording.
type Item struct {
	Path      string    `json:"path" yaml:"path"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Duration  float64   `json:"duration" yaml:"duration"` // seconds
	Emoji     string    `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
}

// ID returns the opaque identifier of the recording, which is the name of
// the folder holding its payload.
func (i Item) ID() string {
	return filepath.Base(i.Folder())
}

// Folder returns the directory containing the payload.
func (i Item) Folder() string {
	return filepath.Dir(i.Path)
}

// Equal reports whether both items refer to the same recording.
func (i Item) Equal(other Item) bool {
	return filepath.Clean(i.Path) == filepath.Clean(other.Path)
}

// WithEmoji returns a copy of the item carrying the given label.
func (i Item) WithEmoji(emoji string) Item {
	i.Emoji = emoji
	return i
}

// WithName returns a copy of the item carrying the given display name.
func (i Item) WithName(name string) Item {
	i.Name = name
	return i
}

// DisplayName returns the user-facing name, falling back to the creation date.
func (i Item) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.CreatedAt.Local().Format("Jan 2, 2006 at 15:04")
}

// FormatDuration renders seconds as mm:ss, or h:mm:ss from one hour on.
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		seconds = 0
	}
	total := int(math.Round(seconds))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
