package shard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"pv-go/internal/model"
	"pv-go/internal/pv"
	"pv-go/internal/shard/migrations"
)

// Dialect selects the SQL flavour a shard speaks.
type Dialect string

const (
	DialectSQLite Dialect = migrations.SQLite
	DialectMySQL  Dialect = migrations.MySQL
)

// SQLShard implements pv.Shard on a SQL database.
type SQLShard struct {
	id       model.ShardID
	db       *sql.DB
	dialect  Dialect
	queries  *queries
	capacity int64
	clock    pv.Clock
	idgen    pv.IDGenerator
}

var _ pv.Shard = (*SQLShard)(nil)

// NewSQLShard wraps an open connection. capacity is the byte budget free
// space is measured against. clock and idgen may be nil to use the real
// clock and random UUIDs.
func NewSQLShard(id model.ShardID, db *sql.DB, dialect Dialect, capacity int64, clock pv.Clock, idgen pv.IDGenerator) *SQLShard {
	if clock == nil {
		clock = pv.RealClock{}
	}
	if idgen == nil {
		idgen = pv.UUIDGenerator{}
	}
	return &SQLShard{
		id:       id,
		db:       db,
		dialect:  dialect,
		queries:  newQueries(db, id),
		capacity: capacity,
		clock:    clock,
		idgen:    idgen,
	}
}

// OpenSQLite opens a SQLite database. path can be a file path or ":memory:".
// The pool is limited to one connection: an in-memory database exists only
// on the connection that created it, and a single writer avoids busy errors.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// OpenMySQL opens a MySQL database. The DSN is forced to parse times and to
// report matched rather than changed rows, which the affected-count checks
// of batch writes rely on.
func OpenMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func (s *SQLShard) ID() model.ShardID { return s.id }

func (s *SQLShard) Dialect() Dialect { return s.dialect }

// CheckMigrations reports whether the schema is at the latest version.
func (s *SQLShard) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, string(s.dialect))
}

// Migrate applies any pending migrations.
func (s *SQLShard) Migrate() error {
	return migrations.MigrateUp(s.db, string(s.dialect))
}

func (s *SQLShard) Close() error {
	return s.db.Close()
}

// FreeSpace returns the configured capacity minus the bytes the database
// currently occupies.
func (s *SQLShard) FreeSpace(ctx context.Context) (int64, error) {
	var used int64
	var err error
	switch s.dialect {
	case DialectSQLite:
		err = s.db.QueryRowContext(ctx,
			"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&used)
	case DialectMySQL:
		err = s.db.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(data_length + index_length), 0) FROM information_schema.tables WHERE table_schema = DATABASE()").Scan(&used)
	default:
		err = fmt.Errorf("unknown dialect: %s", s.dialect)
	}
	if err != nil {
		return 0, fmt.Errorf("measuring shard size: %w", err)
	}
	return s.capacity - used, nil
}

// Album reads

func (s *SQLShard) GetAlbum(ctx context.Context, localID string) (*model.Album, error) {
	a, err := s.queries.getAlbum(ctx, localID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &pv.NotFoundError{Kind: "album", ID: model.EntityID{Shard: s.id, Local: localID}}
		}
		return nil, fmt.Errorf("getting album: %w", err)
	}
	return a, nil
}

func (s *SQLShard) FindChildAlbums(ctx context.Context, parent model.EntityID) ([]*model.Album, error) {
	albums, err := s.queries.listAlbums(ctx, "WHERE parent_shard = ? AND parent_local = ?", string(parent.Shard), parent.Local)
	if err != nil {
		return nil, fmt.Errorf("finding child albums: %w", err)
	}
	return albums, nil
}

func (s *SQLShard) ListAlbums(ctx context.Context) ([]*model.Album, error) {
	albums, err := s.queries.listAlbums(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing albums: %w", err)
	}
	return albums, nil
}

// Media item reads

func (s *SQLShard) GetMediaItem(ctx context.Context, localID string) (*model.MediaItem, error) {
	m, err := s.queries.getMediaItem(ctx, localID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &pv.NotFoundError{Kind: "media item", ID: model.EntityID{Shard: s.id, Local: localID}}
		}
		return nil, fmt.Errorf("getting media item: %w", err)
	}
	return m, nil
}

func (s *SQLShard) FindMediaItemsInAlbum(ctx context.Context, album model.EntityID) ([]*model.MediaItem, error) {
	items, err := s.queries.listMediaItems(ctx, "WHERE album_shard = ? AND album_local = ?", string(album.Shard), album.Local)
	if err != nil {
		return nil, fmt.Errorf("finding media items: %w", err)
	}
	return items, nil
}

func (s *SQLShard) ListMediaItems(ctx context.Context) ([]*model.MediaItem, error) {
	items, err := s.queries.listMediaItems(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing media items: %w", err)
	}
	return items, nil
}

// StartSession begins a transaction. All writes go through a session.
func (s *SQLShard) StartSession(ctx context.Context) (pv.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return &sqlSession{shard: s, tx: tx, q: s.queries.withTx(tx)}, nil
}

// sqlSession is one transaction on a SQLShard.
type sqlSession struct {
	shard *SQLShard
	tx    *sql.Tx
	q     *queries
}

var _ pv.Session = (*sqlSession)(nil)

func (t *sqlSession) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Abort rolls back the transaction. Aborting a finished session is a no-op.
func (t *sqlSession) Abort() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

func (t *sqlSession) CreateAlbum(ctx context.Context, a model.NewAlbum) (*model.Album, error) {
	localID := t.shard.idgen.New()
	createdAt := t.shard.clock.Now().UTC()
	if err := t.q.insertAlbum(ctx, localID, a, createdAt); err != nil {
		return nil, fmt.Errorf("inserting album: %w", err)
	}
	return &model.Album{
		ID:        model.EntityID{Shard: t.shard.id, Local: localID},
		Name:      a.Name,
		ParentID:  a.ParentID,
		CreatedAt: createdAt,
	}, nil
}

func (t *sqlSession) UpdateAlbums(ctx context.Context, updates []model.AlbumUpdate) (int, error) {
	var total int64
	for _, u := range updates {
		n, err := t.q.updateAlbum(ctx, u)
		if err != nil {
			return int(total), fmt.Errorf("updating album %s: %w", u.ID, err)
		}
		total += n
	}
	return int(total), nil
}

func (t *sqlSession) DeleteAlbums(ctx context.Context, localIDs []string) (int, error) {
	n, err := t.q.deleteByLocalID(ctx, "albums", localIDs)
	if err != nil {
		return int(n), fmt.Errorf("deleting albums: %w", err)
	}
	return int(n), nil
}

func (t *sqlSession) CreateMediaItem(ctx context.Context, m model.NewMediaItem) (*model.MediaItem, error) {
	localID := t.shard.idgen.New()
	createdAt := t.shard.clock.Now().UTC()
	if err := t.q.insertMediaItem(ctx, localID, m, createdAt); err != nil {
		return nil, fmt.Errorf("inserting media item: %w", err)
	}
	return &model.MediaItem{
		ID:                model.EntityID{Shard: t.shard.id, Local: localID},
		FileName:          m.FileName,
		ContentHash:       m.ContentHash,
		Location:          m.Location,
		ExternalAccountID: m.ExternalAccountID,
		ExternalBlobID:    m.ExternalBlobID,
		AlbumID:           m.AlbumID,
		Width:             m.Width,
		Height:            m.Height,
		DateTaken:         m.DateTaken,
		MimeType:          m.MimeType,
		CreatedAt:         createdAt,
	}, nil
}

func (t *sqlSession) UpdateMediaItems(ctx context.Context, updates []model.MediaItemUpdate) (int, error) {
	var total int64
	for _, u := range updates {
		n, err := t.q.updateMediaItem(ctx, u)
		if err != nil {
			return int(total), fmt.Errorf("updating media item %s: %w", u.ID, err)
		}
		total += n
	}
	return int(total), nil
}

func (t *sqlSession) DeleteMediaItems(ctx context.Context, localIDs []string) (int, error) {
	n, err := t.q.deleteByLocalID(ctx, "media_items", localIDs)
	if err != nil {
		return int(n), fmt.Errorf("deleting media items: %w", err)
	}
	return int(n), nil
}
