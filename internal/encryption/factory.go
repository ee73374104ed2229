package encryption

import (
	"fmt"

	"pv-go/internal/config"
	"pv-go/internal/pv"
)

// NewEncryptorFromConfig returns the encryptor named by cfg.Type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (pv.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "fake":
		return NewFakeEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
