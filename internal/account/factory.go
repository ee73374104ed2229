package account

import (
	"context"
	"fmt"
	"time"

	"pv-go/internal/config"
	"pv-go/internal/model"
	"pv-go/internal/pv"
)

// NewAccountFromConfig creates an Account based on the configuration type.
// Accounts marked encrypted are wrapped in an EncryptedAccount; enc must then
// be non-nil, and dec may be nil when no download is planned.
func NewAccountFromConfig(ctx context.Context, cfg config.AccountConfig, retry config.RetryConfig, enc pv.Encryptor, dec pv.DecryptionContext, logger pv.Logger) (pv.Account, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("account id required")
	}
	id := model.AccountID(cfg.ID)

	var acct pv.Account
	switch cfg.Type {
	case "memory":
		acct = NewMemoryAccount(id, cfg.CapacityBytes, cfg.MaxBatchSize, nil)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem account %q: fs_root required", cfg.ID)
		}
		fsAcct, err := NewFileSystemAccount(id, cfg.FSRoot, cfg.CapacityBytes, cfg.MaxBatchSize, nil)
		if err != nil {
			return nil, err
		}
		acct = fsAcct
	case "s3":
		s3Acct, err := NewS3Account(ctx, id, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Limit:           cfg.CapacityBytes,
			BatchSize:       cfg.MaxBatchSize,
			PartSize:        retry.PartSize,
			MaxResumes:      retry.MaxResumes,
			MaxAttempts:     retry.MaxAttempts,
			MaxBackoff:      time.Duration(retry.MaxBackoffSeconds) * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		acct = s3Acct
	default:
		return nil, fmt.Errorf("unknown account type: %q", cfg.Type)
	}

	if cfg.Encrypted {
		if enc == nil {
			return nil, fmt.Errorf("account %q is encrypted but no encryptor is configured", cfg.ID)
		}
		acct = NewEncryptedAccount(acct, enc, dec)
	}
	return acct, nil
}
