package model

import (
	"fmt"
	"strings"
	"time"
)

// ShardID identifies one metadata backend instance.
type ShardID string

// AccountID identifies one external blob-storage account.
type AccountID string

// EntityID is the globally unique identifier of an album or media item.
// The shard component determines routing; IDs are never resolved by scanning.
type EntityID struct {
	Shard ShardID
	Local string
}

// String formats the ID as "<shard>:<local>".
func (id EntityID) String() string {
	return string(id.Shard) + ":" + id.Local
}

// IsZero reports whether the ID is unset.
func (id EntityID) IsZero() bool {
	return id.Shard == "" && id.Local == ""
}

// ParseEntityID parses the "<shard>:<local>" form produced by String.
func ParseEntityID(s string) (EntityID, error) {
	shard, local, ok := strings.Cut(s, ":")
	if !ok || shard == "" || local == "" {
		return EntityID{}, fmt.Errorf("invalid entity id %q: expected <shard>:<local>", s)
	}
	return EntityID{Shard: ShardID(shard), Local: local}, nil
}

// Album is a node in the album tree. Children are discovered by querying
// for albums whose ParentID points here, never stored as a list.
type Album struct {
	ID        EntityID
	Name      string
	ParentID  *EntityID // nil only for the root album
	CreatedAt time.Time
}

// GeoLocation is the optional capture location of a media item.
type GeoLocation struct {
	Latitude  float64
	Longitude float64
}

// BlobRef identifies one blob inside one external account.
type BlobRef struct {
	Account AccountID
	BlobID  string
}

func (r BlobRef) String() string {
	return string(r.Account) + "/" + r.BlobID
}

// MediaItem is the metadata record of one photo or video.
type MediaItem struct {
	ID                EntityID
	FileName          string
	ContentHash       string
	Location          *GeoLocation
	ExternalAccountID AccountID
	ExternalBlobID    string
	AlbumID           EntityID
	Width             int
	Height            int
	DateTaken         time.Time
	MimeType          string
	CreatedAt         time.Time
}

// BlobRef returns the external reference of the item's content.
func (m *MediaItem) BlobRef() BlobRef {
	return BlobRef{Account: m.ExternalAccountID, BlobID: m.ExternalBlobID}
}

// NewAlbum carries the fields needed to create an album.
type NewAlbum struct {
	Name     string
	ParentID *EntityID
}

// NewMediaItem carries the fields needed to create a media item.
type NewMediaItem struct {
	FileName          string
	ContentHash       string
	Location          *GeoLocation
	ExternalAccountID AccountID
	ExternalBlobID    string
	AlbumID           EntityID
	Width             int
	Height            int
	DateTaken         time.Time
	MimeType          string
}

// AlbumUpdate changes the non-nil fields of one album.
type AlbumUpdate struct {
	ID       EntityID
	Name     *string
	ParentID *EntityID
}

// MediaItemUpdate changes the non-nil fields of one media item.
type MediaItemUpdate struct {
	ID       EntityID
	FileName *string
	AlbumID  *EntityID
	Location *GeoLocation
}
