package testutil

import (
	"context"
	"testing"

	"pv-go/internal/model"
	"pv-go/internal/pv"
	"pv-go/internal/shard"
)

// NewTestShard creates an in-memory SQLite shard with migrations applied.
// The shard is closed when the test completes.
func NewTestShard(t *testing.T, id model.ShardID, capacity int64) *shard.SQLShard {
	t.Helper()

	db, err := shard.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open shard database: %v", err)
	}
	s := shard.NewSQLShard(id, db, shard.DialectSQLite, capacity, FixedClock(), NewStubIDGenerator(string(id)))
	if err := s.Migrate(); err != nil {
		s.Close()
		t.Fatalf("failed to migrate shard: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// MiscountingShard wraps a shard so that batch updates and deletes report
// one record fewer than they affected.
type MiscountingShard struct {
	pv.Shard
}

func (m *MiscountingShard) StartSession(ctx context.Context) (pv.Session, error) {
	sess, err := m.Shard.StartSession(ctx)
	if err != nil {
		return nil, err
	}
	return &miscountingSession{Session: sess}, nil
}

type miscountingSession struct {
	pv.Session
}

func (s *miscountingSession) UpdateAlbums(ctx context.Context, u []model.AlbumUpdate) (int, error) {
	n, err := s.Session.UpdateAlbums(ctx, u)
	return n - 1, err
}

func (s *miscountingSession) DeleteAlbums(ctx context.Context, ids []string) (int, error) {
	n, err := s.Session.DeleteAlbums(ctx, ids)
	return n - 1, err
}

func (s *miscountingSession) UpdateMediaItems(ctx context.Context, u []model.MediaItemUpdate) (int, error) {
	n, err := s.Session.UpdateMediaItems(ctx, u)
	return n - 1, err
}

func (s *miscountingSession) DeleteMediaItems(ctx context.Context, ids []string) (int, error) {
	n, err := s.Session.DeleteMediaItems(ctx, ids)
	return n - 1, err
}
