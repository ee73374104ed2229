package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Parallel()
	m := NewIgnoreMatcher([]string{"", "  ", "# comment", "*.xmp", "Exports/", "[bad"})

	// The ignore file itself is always present.
	want := []ignorePattern{
		{glob: IgnoreFileName},
		{glob: "*.xmp"},
		{glob: "Exports"},
	}
	if len(m.patterns) != len(want) {
		t.Fatalf("patterns = %+v, want %+v", m.patterns, want)
	}
	for i := range want {
		if m.patterns[i] != want[i] {
			t.Errorf("patterns[%d] = %+v, want %+v", i, m.patterns[i], want[i])
		}
	}
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		rel      string
		want     bool
	}{
		{"basename glob at root", []string{"*.xmp"}, "a.xmp", true},
		{"basename glob in subdirectory", []string{"*.xmp"}, "2024/trip/a.xmp", true},
		{"basename glob other extension", []string{"*.xmp"}, "a.jpg", false},
		{"ignore file always skipped", nil, IgnoreFileName, true},
		{"directory name skips subtree", []string{"@eaDir"}, "2024/@eaDir/thumb.jpg", true},
		{"anchored path", []string{"2024/raw"}, "2024/raw", true},
		{"anchored path skips subtree", []string{"2024/raw"}, "2024/raw/a.dng", true},
		{"anchored path elsewhere", []string{"2024/raw"}, "2023/raw/a.dng", false},
		{"anchored glob", []string{"2024/*.tmp"}, "2024/x.tmp", true},
		{"question mark", []string{"?.jpg"}, "a.jpg", true},
		{"question mark one char only", []string{"?.jpg"}, "ab.jpg", false},
		{"character class", []string{"*.[tT][mM][pP]"}, "x.TMP", true},
		{"no patterns", nil, "a.jpg", false},
		{"empty path", []string{"*"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewIgnoreMatcher(tt.patterns).Match(tt.rel); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.rel, got, tt.want)
			}
		})
	}
}

func TestIgnoreMatcher_NilMatchesNothing(t *testing.T) {
	var m *IgnoreMatcher
	if m.Match("a.jpg") {
		t.Error("nil matcher matched")
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads raw lines", func(t *testing.T) {
		t.Parallel()
		p := filepath.Join(t.TempDir(), IgnoreFileName)
		if err := os.WriteFile(p, []byte("*.xmp\n# comment\n\nThumbs.db\n"), 0644); err != nil {
			t.Fatal(err)
		}
		patterns, err := ParseIgnoreFile(p)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(patterns) != 4 {
			t.Fatalf("got %d lines, want 4", len(patterns))
		}
		if n := len(NewIgnoreMatcher(patterns).patterns); n != 3 {
			t.Errorf("got %d patterns, want 3", n)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		patterns, err := ParseIgnoreFile(filepath.Join(t.TempDir(), "nope"))
		if err != nil || patterns != nil {
			t.Errorf("ParseIgnoreFile() = %v, %v, want nil, nil", patterns, err)
		}
	})
}
