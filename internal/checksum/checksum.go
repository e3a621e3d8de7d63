// Package checksum computes content fingerprints used for change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/starford/tariffsync/internal/models"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumReader is Sum over everything read from r.
func SumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonical returns the serialization the fingerprint is computed over.
// encoding/json emits struct fields in declaration order and sorts map keys,
// so equal content always yields equal bytes.
func Canonical(c models.RecordContent) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("checksum: canonical encode %s: %w", c.Code, err)
	}
	return b, nil
}

// Fingerprint returns the 64-char hex fingerprint of the record content.
// Version and capture timestamps are not part of RecordContent and never
// influence the result.
func Fingerprint(c models.RecordContent) (string, error) {
	b, err := Canonical(c)
	if err != nil {
		return "", err
	}
	return Sum(b), nil
}
