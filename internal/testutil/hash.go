package testutil

import (
	"encoding/hex"

	sha256 "github.com/minio/sha256-simd"
)

// SHA256Hex hashes data the way fs.Scanner hashes files, so tests can
// predict the content_hash stored on media items.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
