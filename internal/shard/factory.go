package shard

import (
	"fmt"
	"os"
	"path/filepath"

	"pv-go/internal/config"
	"pv-go/internal/model"
)

// NewShardFromConfig opens the shard described by cfg. In-memory shards are
// migrated on open; file and server shards must already be at the latest
// schema version unless migrate is set.
func NewShardFromConfig(cfg config.ShardConfig, migrate bool) (*SQLShard, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("shard id required")
	}
	id := model.ShardID(cfg.ID)

	var s *SQLShard
	switch cfg.Type {
	case "memory":
		db, err := OpenSQLite(":memory:")
		if err != nil {
			return nil, err
		}
		s = NewSQLShard(id, db, DialectSQLite, cfg.CapacityBytes, nil, nil)
		migrate = true
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite shard %q", cfg.ID)
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		db, err := OpenSQLite(filepath.Join(cfg.DataDir, cfg.ID+".db"))
		if err != nil {
			return nil, err
		}
		s = NewSQLShard(id, db, DialectSQLite, cfg.CapacityBytes, nil, nil)
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for mysql shard %q", cfg.ID)
		}
		db, err := OpenMySQL(cfg.DSN)
		if err != nil {
			return nil, err
		}
		s = NewSQLShard(id, db, DialectMySQL, cfg.CapacityBytes, nil, nil)
	default:
		return nil, fmt.Errorf("unknown shard type: %s", cfg.Type)
	}

	if migrate {
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrating shard %q: %w", cfg.ID, err)
		}
		return s, nil
	}
	if err := s.CheckMigrations(); err != nil {
		s.Close()
		return nil, fmt.Errorf("shard %q schema out of date: %w", cfg.ID, err)
	}
	return s, nil
}
