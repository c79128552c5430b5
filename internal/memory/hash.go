package memory

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

// ContentHash returns the lowercase hex SHA-256 of the NFC-normalized
// content. This is the primary dedup key (spec §3, §4.C2) and must be
// deterministic across process restarts and operating systems, which
// is why normalization happens before hashing rather than relying on
// the caller's byte-for-byte form.
func ContentHash(content string) (string, error) {
	normalized := norm.NFC.String(content)
	if normalized == "" {
		return "", memerr.New(memerr.Invalid, "content must not be empty after normalization")
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// Normalize applies the same NFC normalization ContentHash uses,
// without hashing — used by exact_match to compare against stored
// content's normalized form.
func Normalize(content string) string {
	return norm.NFC.String(content)
}
