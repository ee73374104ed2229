package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"pv-go/internal/pv"
)

// ErrLocked is returned when an encrypted account is asked to download
// without an unlocked key.
var ErrLocked = errors.New("account is encrypted: unlock required")

// EncryptedAccount encrypts content on the way into another account and
// decrypts it on the way out. Uploads only need the public key; downloads
// need a DecryptionContext from Encryptor.Unlock.
type EncryptedAccount struct {
	pv.Account
	enc     pv.Encryptor
	tempDir string

	mu  sync.RWMutex
	dec pv.DecryptionContext
}

var _ pv.Account = (*EncryptedAccount)(nil)

// NewEncryptedAccount wraps inner. dec may be nil for upload-only sessions.
func NewEncryptedAccount(inner pv.Account, enc pv.Encryptor, dec pv.DecryptionContext) *EncryptedAccount {
	return &EncryptedAccount{Account: inner, enc: enc, dec: dec}
}

// SetDecryptionContext enables downloads for the rest of the session.
func (a *EncryptedAccount) SetDecryptionContext(dec pv.DecryptionContext) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dec = dec
}

// Locked reports whether downloads still need a DecryptionContext.
func (a *EncryptedAccount) Locked() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dec == nil
}

// Upload spools the ciphertext to a temp file so the inner account gets a
// sized, seekable body.
func (a *EncryptedAccount) Upload(ctx context.Context, content io.ReaderAt, size int64, fileName string) (string, error) {
	spool, err := os.CreateTemp(a.tempDir, "pv-enc-*")
	if err != nil {
		return "", fmt.Errorf("creating spool file: %w", err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	if err := a.enc.Encrypt(io.NewSectionReader(content, 0, size), spool); err != nil {
		return "", fmt.Errorf("encrypting %s: %w", fileName, err)
	}
	info, err := spool.Stat()
	if err != nil {
		return "", fmt.Errorf("sizing spool file: %w", err)
	}
	return a.Account.Upload(ctx, spool, info.Size(), fileName)
}

// Download streams the ciphertext from the inner account through the
// decryption context.
func (a *EncryptedAccount) Download(ctx context.Context, blobID string, w io.Writer) error {
	a.mu.RLock()
	dec := a.dec
	a.mu.RUnlock()
	if dec == nil {
		return ErrLocked
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := a.Account.Download(ctx, blobID, pw)
		pw.CloseWithError(err)
		done <- err
	}()

	decErr := dec.Decrypt(pr, w)
	pr.CloseWithError(io.ErrClosedPipe)
	downloadErr := <-done

	if downloadErr != nil && !errors.Is(downloadErr, io.ErrClosedPipe) {
		return downloadErr
	}
	if decErr != nil {
		return fmt.Errorf("decrypting blob %s: %w", blobID, decErr)
	}
	return nil
}

// Unwrap returns the inner account.
func (a *EncryptedAccount) Unwrap() pv.Account { return a.Account }
