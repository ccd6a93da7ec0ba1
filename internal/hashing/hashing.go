// File path: internal/hashing/hashing.go
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// fileReadBlock bounds memory when digesting large uploads.
const fileReadBlock = 1 << 20

// HashFile computes the hex sha256 digest of a file's byte content. Only the
// bytes matter; the name, location, and timestamps of the file never
// influence the digest, which is what makes the result usable as a stable
// cache identity across repeated uploads.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for hashing: %w", err)
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader digests an already-open stream with the same block size as
// HashFile.
func HashReader(r io.Reader) (string, error) {
	hasher := sha256.New()
	buf := make([]byte, fileReadBlock)
	if _, err := io.CopyBuffer(hasher, r, buf); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// WorkflowKey derives the composite digest identifying one comparison run
// over a document set. The composition is order-sensitive and a missing
// packing document encodes as an empty slot, so (A, B, C) and (A, B, "")
// always produce distinct keys and swapping roles changes the result.
func WorkflowKey(blHash, invoiceHash, packingHash string) string {
	composite := fmt.Sprintf("bl=%s|invoice=%s|packing=%s", blHash, invoiceHash, packingHash)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
