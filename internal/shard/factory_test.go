package shard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pv-go/internal/config"
)

func TestNewShardFromConfig(t *testing.T) {
	t.Run("memory shard is migrated on open", func(t *testing.T) {
		s, err := NewShardFromConfig(config.ShardConfig{ID: "mem", Type: "memory", CapacityBytes: 1 << 20}, false)
		if err != nil {
			t.Fatalf("NewShardFromConfig() error = %v", err)
		}
		defer s.Close()

		if s.ID() != "mem" {
			t.Errorf("ID() = %q, want %q", s.ID(), "mem")
		}
		if _, err := s.ListAlbums(context.Background()); err != nil {
			t.Errorf("ListAlbums() error = %v", err)
		}
	})

	t.Run("sqlite shard requires migration", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.ShardConfig{ID: "disk", Type: "sqlite", DataDir: dir, CapacityBytes: 1 << 20}

		_, err := NewShardFromConfig(cfg, false)
		if err == nil || !strings.Contains(err.Error(), "schema out of date") {
			t.Fatalf("NewShardFromConfig() error = %v, want schema out of date", err)
		}

		s, err := NewShardFromConfig(cfg, true)
		if err != nil {
			t.Fatalf("NewShardFromConfig(migrate) error = %v", err)
		}
		s.Close()

		if _, err := os.Stat(filepath.Join(dir, "disk.db")); err != nil {
			t.Errorf("database file not created: %v", err)
		}

		s, err = NewShardFromConfig(cfg, false)
		if err != nil {
			t.Fatalf("NewShardFromConfig() after migrate error = %v", err)
		}
		s.Close()
	})

	tests := []struct {
		name    string
		cfg     config.ShardConfig
		wantErr string
	}{
		{"missing id", config.ShardConfig{Type: "memory"}, "shard id required"},
		{"sqlite without data_dir", config.ShardConfig{ID: "x", Type: "sqlite"}, "data_dir required"},
		{"mysql without dsn", config.ShardConfig{ID: "x", Type: "mysql"}, "dsn required"},
		{"mysql with bad dsn", config.ShardConfig{ID: "x", Type: "mysql", DSN: "not a dsn"}, "parsing mysql dsn"},
		{"unknown type", config.ShardConfig{ID: "x", Type: "postgres"}, "unknown shard type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewShardFromConfig(tt.cfg, false)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewShardFromConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
