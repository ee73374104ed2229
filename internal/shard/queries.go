package shard

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"pv-go/internal/model"
)

// maxInArgs bounds the number of placeholders in one IN clause.
const maxInArgs = 500

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds the statements of one shard. Both dialects accept "?"
// placeholders, so statements are shared.
type queries struct {
	db    dbtx
	shard model.ShardID
}

func newQueries(db dbtx, shard model.ShardID) *queries {
	return &queries{db: db, shard: shard}
}

func (q *queries) withTx(tx *sql.Tx) *queries {
	return &queries{db: tx, shard: q.shard}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const albumColumns = "local_id, name, parent_shard, parent_local, created_at"

func (q *queries) scanAlbum(row rowScanner) (*model.Album, error) {
	var (
		a           model.Album
		local       string
		parentShard sql.NullString
		parentLocal sql.NullString
	)
	if err := row.Scan(&local, &a.Name, &parentShard, &parentLocal, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.ID = model.EntityID{Shard: q.shard, Local: local}
	if parentShard.Valid && parentLocal.Valid {
		a.ParentID = &model.EntityID{Shard: model.ShardID(parentShard.String), Local: parentLocal.String}
	}
	return &a, nil
}

func (q *queries) getAlbum(ctx context.Context, localID string) (*model.Album, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+albumColumns+" FROM albums WHERE local_id = ?", localID)
	return q.scanAlbum(row)
}

func (q *queries) listAlbums(ctx context.Context, where string, args ...any) ([]*model.Album, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+albumColumns+" FROM albums "+where+" ORDER BY name, local_id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var albums []*model.Album
	for rows.Next() {
		a, err := q.scanAlbum(rows)
		if err != nil {
			return nil, err
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

func (q *queries) insertAlbum(ctx context.Context, localID string, a model.NewAlbum, createdAt time.Time) error {
	var parentShard, parentLocal sql.NullString
	if a.ParentID != nil {
		parentShard = sql.NullString{String: string(a.ParentID.Shard), Valid: true}
		parentLocal = sql.NullString{String: a.ParentID.Local, Valid: true}
	}
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO albums ("+albumColumns+") VALUES (?, ?, ?, ?, ?)",
		localID, a.Name, parentShard, parentLocal, createdAt)
	return err
}

func (q *queries) updateAlbum(ctx context.Context, u model.AlbumUpdate) (int64, error) {
	// Setting local_id to itself keeps the statement valid when nothing changes.
	sets := []string{"local_id = local_id"}
	var args []any
	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.ParentID != nil {
		sets = append(sets, "parent_shard = ?", "parent_local = ?")
		args = append(args, string(u.ParentID.Shard), u.ParentID.Local)
	}
	args = append(args, u.ID.Local)
	return q.exec(ctx, "UPDATE albums SET "+strings.Join(sets, ", ")+" WHERE local_id = ?", args...)
}

const mediaColumns = "local_id, file_name, content_hash, latitude, longitude, external_account_id, " +
	"external_blob_id, album_shard, album_local, width, height, date_taken, mime_type, created_at"

func (q *queries) scanMediaItem(row rowScanner) (*model.MediaItem, error) {
	var (
		m          model.MediaItem
		local      string
		lat, lng   sql.NullFloat64
		account    string
		albumShard string
		albumLocal string
		dateTaken  sql.NullTime
	)
	err := row.Scan(&local, &m.FileName, &m.ContentHash, &lat, &lng, &account, &m.ExternalBlobID,
		&albumShard, &albumLocal, &m.Width, &m.Height, &dateTaken, &m.MimeType, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ID = model.EntityID{Shard: q.shard, Local: local}
	m.ExternalAccountID = model.AccountID(account)
	m.AlbumID = model.EntityID{Shard: model.ShardID(albumShard), Local: albumLocal}
	if lat.Valid && lng.Valid {
		m.Location = &model.GeoLocation{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	if dateTaken.Valid {
		m.DateTaken = dateTaken.Time
	}
	return &m, nil
}

func (q *queries) getMediaItem(ctx context.Context, localID string) (*model.MediaItem, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media_items WHERE local_id = ?", localID)
	return q.scanMediaItem(row)
}

func (q *queries) listMediaItems(ctx context.Context, where string, args ...any) ([]*model.MediaItem, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+mediaColumns+" FROM media_items "+where+" ORDER BY file_name, local_id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*model.MediaItem
	for rows.Next() {
		m, err := q.scanMediaItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (q *queries) insertMediaItem(ctx context.Context, localID string, m model.NewMediaItem, createdAt time.Time) error {
	var lat, lng sql.NullFloat64
	if m.Location != nil {
		lat = sql.NullFloat64{Float64: m.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: m.Location.Longitude, Valid: true}
	}
	dateTaken := sql.NullTime{Time: m.DateTaken.UTC(), Valid: !m.DateTaken.IsZero()}
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO media_items ("+mediaColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		localID, m.FileName, m.ContentHash, lat, lng, string(m.ExternalAccountID), m.ExternalBlobID,
		string(m.AlbumID.Shard), m.AlbumID.Local, m.Width, m.Height, dateTaken, m.MimeType, createdAt)
	return err
}

func (q *queries) updateMediaItem(ctx context.Context, u model.MediaItemUpdate) (int64, error) {
	sets := []string{"local_id = local_id"}
	var args []any
	if u.FileName != nil {
		sets = append(sets, "file_name = ?")
		args = append(args, *u.FileName)
	}
	if u.AlbumID != nil {
		sets = append(sets, "album_shard = ?", "album_local = ?")
		args = append(args, string(u.AlbumID.Shard), u.AlbumID.Local)
	}
	if u.Location != nil {
		sets = append(sets, "latitude = ?", "longitude = ?")
		args = append(args, u.Location.Latitude, u.Location.Longitude)
	}
	args = append(args, u.ID.Local)
	return q.exec(ctx, "UPDATE media_items SET "+strings.Join(sets, ", ")+" WHERE local_id = ?", args...)
}

// deleteByLocalID deletes rows of table in chunks and returns the total
// number of rows removed.
func (q *queries) deleteByLocalID(ctx context.Context, table string, ids []string) (int64, error) {
	var total int64
	for _, chunk := range lo.Chunk(ids, maxInArgs) {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		args := lo.Map(chunk, func(id string, _ int) any { return id })
		n, err := q.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE local_id IN (%s)", table, placeholders), args...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
