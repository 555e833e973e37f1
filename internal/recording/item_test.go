package recording

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestItemIdentity(t *testing.T) {
	path := filepath.Join("root", "Recordings", "abc", "audio.wav")
	a := Item{Path: path, Duration: 3}
	b := Item{Path: path + string(filepath.Separator), Duration: 7, Emoji: "🎧"}

	if !a.Equal(b) {
		t.Errorf("Expected items with the same path to be equal")
	}
	if a.ID() != "abc" {
		t.Errorf("Expected ID 'abc', got %s", a.ID())
	}
	if a.Folder() != filepath.Join("root", "Recordings", "abc") {
		t.Errorf("Unexpected folder: %s", a.Folder())
	}
}

func TestWithersDoNotAlias(t *testing.T) {
	orig := Item{Path: "/x/audio.wav", Name: "old"}
	renamed := orig.WithName("new").WithEmoji("💡")

	if orig.Name != "old" || orig.Emoji != "" {
		t.Errorf("Original item was mutated: %+v", orig)
	}
	if renamed.Name != "new" || renamed.Emoji != "💡" {
		t.Errorf("Unexpected renamed item: %+v", renamed)
	}
}

func TestDisplayNameFallsBackToDate(t *testing.T) {
	created := time.Date(2025, 9, 20, 14, 5, 0, 0, time.Local)
	item := Item{CreatedAt: created}
	if got := item.DisplayName(); got != "Sep 20, 2025 at 14:05" {
		t.Errorf("Expected date display name, got %q", got)
	}
	item.Name = "Idea"
	if got := item.DisplayName(); got != "Idea" {
		t.Errorf("Expected 'Idea', got %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{"zero", 0, "00:00"},
		{"seconds", 9.4, "00:09"},
		{"rounds up", 59.6, "01:00"},
		{"minutes", 125, "02:05"},
		{"hours", 3723, "1:02:03"},
		{"negative", -4, "00:00"},
		{"nan", math.NaN(), "00:00"},
		{"inf", math.Inf(1), "00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.input); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}
