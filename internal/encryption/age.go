package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"pv-go/internal/config"
	"pv-go/internal/pv"
)

// ErrKeysExist is returned by Setup when a key pair is already on disk.
var ErrKeysExist = errors.New("key pair already exists")

// AgeEncryptor seals blobs bound for encrypted accounts to an X25519
// recipient. The identity lives on disk inside a passphrase (scrypt) envelope
// and is opened only by Unlock, typically for a fetch.
type AgeEncryptor struct {
	pubPath  string
	privPath string

	mu     sync.Mutex
	cached age.Recipient
}

var _ pv.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		pubPath:  cfg.PublicKeyPath,
		privPath: cfg.PrivateKeyPath,
	}
}

func (e *AgeEncryptor) keyPaths() [2]string { return [2]string{e.pubPath, e.privPath} }

// Setup creates a fresh key pair under passphrase. Existing keys are never
// replaced: blobs already in encrypted accounts depend on them.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	for _, p := range e.keyPaths() {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrKeysExist, p)
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("stat %s: %w", p, err)
		}
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}
	envelope, err := sealIdentity(id, passphrase)
	if err != nil {
		return err
	}

	if err := saveKey(e.privPath, envelope, 0600); err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	pub := id.Recipient()
	if err := saveKey(e.pubPath, []byte(pub.String()+"\n"), 0644); err != nil {
		return fmt.Errorf("saving recipient: %w", err)
	}

	e.mu.Lock()
	e.cached = pub
	e.mu.Unlock()
	return nil
}

// Encrypt writes the age ciphertext of r to w.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	to, err := e.recipient()
	if err != nil {
		return err
	}

	sealed, err := age.Encrypt(w, to)
	if err != nil {
		return fmt.Errorf("age header: %w", err)
	}
	if _, err := io.Copy(sealed, r); err != nil {
		return fmt.Errorf("sealing content: %w", err)
	}
	return sealed.Close()
}

// Unlock opens the identity envelope. A wrong passphrase surfaces as an
// error here, never as garbage output from Decrypt.
func (e *AgeEncryptor) Unlock(passphrase string) (pv.DecryptionContext, error) {
	envelope, err := os.ReadFile(e.privPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	ids, err := openIdentities(envelope, passphrase)
	if err != nil {
		return nil, err
	}
	return &AgeDecryptionContext{identities: ids}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range e.keyPaths() {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (e *AgeEncryptor) recipient() (age.Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cached != nil {
		return e.cached, nil
	}

	f, err := os.Open(e.pubPath)
	if err != nil {
		return nil, fmt.Errorf("reading recipient: %w", err)
	}
	defer f.Close()

	rs, err := age.ParseRecipients(f)
	switch {
	case err != nil:
		return nil, fmt.Errorf("parsing %s: %w", e.pubPath, err)
	case len(rs) == 0:
		return nil, fmt.Errorf("%s: no recipient", e.pubPath)
	}
	e.cached = rs[0]
	return e.cached, nil
}

func sealIdentity(id *age.X25519Identity, passphrase string) ([]byte, error) {
	lock, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("passphrase recipient: %w", err)
	}

	var out bytes.Buffer
	w, err := age.Encrypt(&out, lock)
	if err == nil {
		_, err = fmt.Fprintln(w, id.String())
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("sealing identity: %w", err)
	}
	return out.Bytes(), nil
}

func openIdentities(envelope []byte, passphrase string) ([]age.Identity, error) {
	key, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("passphrase identity: %w", err)
	}
	plain, err := age.Decrypt(bytes.NewReader(envelope), key)
	if err != nil {
		return nil, fmt.Errorf("opening identity (wrong passphrase?): %w", err)
	}

	ids, err := age.ParseIdentities(plain)
	switch {
	case err != nil:
		return nil, fmt.Errorf("parsing identity: %w", err)
	case len(ids) == 0:
		return nil, fmt.Errorf("identity file is empty")
	}
	return ids, nil
}

func saveKey(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

// AgeDecryptionContext holds opened identities in memory.
type AgeDecryptionContext struct {
	identities []age.Identity
}

var _ pv.DecryptionContext = (*AgeDecryptionContext)(nil)

func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	plain, err := age.Decrypt(r, c.identities...)
	if err != nil {
		return fmt.Errorf("age header: %w", err)
	}
	_, err = io.Copy(w, plain)
	return err
}
