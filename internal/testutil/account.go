package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"pv-go/internal/account"
	"pv-go/internal/model"
	"pv-go/internal/pv"
)

// DefaultAccountBatchSize is the MoveToContainer limit of test accounts.
const DefaultAccountBatchSize = 100

// NewTestAccount creates an in-memory account with sequential blob ids.
func NewTestAccount(id model.AccountID, limit int64) *account.MemoryAccount {
	return account.NewMemoryAccount(id, limit, DefaultAccountBatchSize, NewStubIDGenerator(string(id)+"-blob"))
}

// ErrInjected is returned by FailingAccount for the uploads it fails.
var ErrInjected = errors.New("injected failure")

// FailingAccount wraps an account and fails uploads whose file name is in
// FailNames. It records every MoveToContainer batch it sees.
type FailingAccount struct {
	pv.Account
	FailNames map[string]bool

	mu      sync.Mutex
	batches [][]string
}

func NewFailingAccount(inner pv.Account, failNames ...string) *FailingAccount {
	names := make(map[string]bool, len(failNames))
	for _, n := range failNames {
		names[n] = true
	}
	return &FailingAccount{Account: inner, FailNames: names}
}

func (f *FailingAccount) Upload(ctx context.Context, content io.ReaderAt, size int64, fileName string) (string, error) {
	if f.FailNames[fileName] {
		return "", &pv.TransientBackendError{Backend: string(f.ID()), Op: "upload " + fileName, Err: ErrInjected}
	}
	return f.Account.Upload(ctx, content, size, fileName)
}

func (f *FailingAccount) MoveToContainer(ctx context.Context, blobIDs []string, containerID string) error {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), blobIDs...))
	f.mu.Unlock()
	return f.Account.MoveToContainer(ctx, blobIDs, containerID)
}

// Batches returns the MoveToContainer batches in call order.
func (f *FailingAccount) Batches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.batches...)
}
