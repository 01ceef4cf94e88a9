// Package checksum computes the content digests recorded for staged guest assets.
package checksum

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Zero is the SHA-256 digest reported for empty input.
var Zero = digest.NewDigestFromEncoded(digest.SHA256, strings.Repeat("0", sha256.Size*2))

// Calculate returns the SHA-256 digest of data.
// Empty input is not hashed, Zero is returned instead.
func Calculate(data []byte) (digest.Digest, error) {
	if len(data) == 0 {
		return Zero, nil
	}

	dgst := digest.SHA256.FromBytes(data)
	if err := dgst.Validate(); err != nil {
		return Zero, fmt.Errorf("validate sha256 digest: %w", err)
	}

	return dgst, nil
}

// Verify reports whether data hashes to want.
func Verify(data []byte, want digest.Digest) (bool, error) {
	got, err := Calculate(data)
	if err != nil {
		return false, err
	}

	return got == want, nil
}
