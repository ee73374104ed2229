package encryption

import (
	"bytes"
	"fmt"
	"io"

	"pv-go/internal/pv"
)

// fakeMagic prefixes everything FakeEncryptor writes.
var fakeMagic = []byte("PVFAKE\x00\x01")

// FakeEncryptor frames content with a fixed header instead of encrypting it.
// Ciphertext differs from plaintext, so hashes and sizes change the way they
// would under age, without any key material. Unlock checks the passphrase
// given to Setup when one was set.
type FakeEncryptor struct {
	passphrase string
}

var _ pv.Encryptor = (*FakeEncryptor)(nil)

func NewFakeEncryptor() *FakeEncryptor {
	return &FakeEncryptor{}
}

// Overhead is the number of bytes Encrypt adds.
func (e *FakeEncryptor) Overhead() int { return len(fakeMagic) }

func (e *FakeEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *FakeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(fakeMagic); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *FakeEncryptor) Unlock(passphrase string) (pv.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, fmt.Errorf("wrong passphrase")
	}
	return FakeDecryptionContext{}, nil
}

func (e *FakeEncryptor) IsConfigured() bool { return true }

// FakeDecryptionContext strips the FakeEncryptor header.
type FakeDecryptionContext struct{}

var _ pv.DecryptionContext = FakeDecryptionContext{}

func (FakeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(fakeMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, fakeMagic) {
		return fmt.Errorf("not produced by FakeEncryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
