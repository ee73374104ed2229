package model

import (
	"strings"
	"time"
)

// Modifier says whether a diff adds or removes content.
type Modifier string

const (
	ModifierAdd    Modifier = "+"
	ModifierRemove Modifier = "-"
)

// Diff is one local-vs-remote difference produced by a scan.
// For removals only AlbumPath and FileName are significant.
type Diff struct {
	Modifier  Modifier
	FilePath  string // absolute local path of the content
	AlbumPath string // slash separated, "" means the root album
	FileName  string
	Size      int64
	Hash      string
	Location  *GeoLocation
	Width     int
	Height    int
	DateTaken time.Time
	MimeType  string
}

// AlbumPathSegments splits AlbumPath on "/" dropping empty segments,
// so "Archives//Photos/" and "Archives/Photos" are the same path.
func (d Diff) AlbumPathSegments() []string {
	var segments []string
	for _, s := range strings.Split(d.AlbumPath, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// PlacementAssignment pairs a new-content diff with the account chosen for it.
type PlacementAssignment struct {
	Diff      Diff
	AccountID AccountID
}
