package account

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"pv-go/internal/config"
	"pv-go/internal/encryption"
)

func TestNewAccountFromConfig(t *testing.T) {
	ctx := context.Background()
	retry := config.RetryConfig{MaxAttempts: 3, MaxBackoffSeconds: 5, PartSize: 8 << 20, MaxResumes: 2}

	t.Run("memory", func(t *testing.T) {
		a, err := NewAccountFromConfig(ctx, config.AccountConfig{ID: "mem", Type: "memory", CapacityBytes: 10, MaxBatchSize: 7}, retry, nil, nil, nil)
		if err != nil {
			t.Fatalf("NewAccountFromConfig() error = %v", err)
		}
		if _, ok := a.(*MemoryAccount); !ok {
			t.Errorf("got %T, want *MemoryAccount", a)
		}
		if a.MaxBatchSize() != 7 {
			t.Errorf("MaxBatchSize() = %d, want 7", a.MaxBatchSize())
		}
	})

	t.Run("filesystem", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "blobs")
		a, err := NewAccountFromConfig(ctx, config.AccountConfig{ID: "disk", Type: "filesystem", FSRoot: root, CapacityBytes: 10}, retry, nil, nil, nil)
		if err != nil {
			t.Fatalf("NewAccountFromConfig() error = %v", err)
		}
		if err := a.ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("s3 with static credentials", func(t *testing.T) {
		a, err := NewAccountFromConfig(ctx, config.AccountConfig{
			ID:                "cloud",
			Type:              "s3",
			S3Bucket:          "photos",
			S3Region:          "us-east-1",
			S3Endpoint:        "http://127.0.0.1:9000",
			S3AccessKeyID:     "AKIAEXAMPLE",
			S3SecretAccessKey: "secret",
			MaxBatchSize:      5000,
		}, retry, nil, nil, nil)
		if err != nil {
			t.Fatalf("NewAccountFromConfig() error = %v", err)
		}
		if a.MaxBatchSize() != maxDeleteObjects {
			t.Errorf("MaxBatchSize() = %d, want %d", a.MaxBatchSize(), maxDeleteObjects)
		}
	})

	t.Run("encrypted wraps", func(t *testing.T) {
		a, err := NewAccountFromConfig(ctx, config.AccountConfig{ID: "mem", Type: "memory", Encrypted: true}, retry, encryption.NewFakeEncryptor(), nil, nil)
		if err != nil {
			t.Fatalf("NewAccountFromConfig() error = %v", err)
		}
		if _, ok := a.(*EncryptedAccount); !ok {
			t.Errorf("got %T, want *EncryptedAccount", a)
		}
	})

	tests := []struct {
		name    string
		cfg     config.AccountConfig
		wantErr string
	}{
		{"missing id", config.AccountConfig{Type: "memory"}, "account id required"},
		{"filesystem without root", config.AccountConfig{ID: "x", Type: "filesystem"}, "fs_root required"},
		{"s3 without bucket", config.AccountConfig{ID: "x", Type: "s3"}, "requires s3_bucket"},
		{"encrypted without encryptor", config.AccountConfig{ID: "x", Type: "memory", Encrypted: true}, "no encryptor"},
		{"unknown type", config.AccountConfig{ID: "x", Type: "ftp"}, "unknown account type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAccountFromConfig(ctx, tt.cfg, retry, nil, nil, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewAccountFromConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
