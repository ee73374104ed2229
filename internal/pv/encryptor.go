package pv

import "io"

// Encryptor seals blob content for encrypted accounts. Sealing only needs
// the public key, so backups never prompt; reading content back needs the
// passphrase-protected private key.
type Encryptor interface {
	// Setup generates the key pair and stores the private key wrapped under
	// passphrase. Run once, by `pv config keys init`.
	Setup(passphrase string) error

	Encrypt(r io.Reader, w io.Writer) error

	// Unlock unwraps the private key. A wrong passphrase is an error.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether Setup has produced usable keys.
	IsConfigured() bool
}

// DecryptionContext is an unlocked private key. It lives in memory for one
// run and is never persisted.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
