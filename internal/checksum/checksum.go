// Package checksum derives content digests and revision tokens.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Generation returns the numeric prefix of a "<n>-<digest>" revision,
// or 0 when rev is empty or malformed.
func Generation(rev string) int {
	head, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(head)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// NextRevision returns the revision that follows prev for a record whose
// serialized body is data.
func NextRevision(prev string, data []byte) string {
	return fmt.Sprintf("%d-%s", Generation(prev)+1, Sum(data)[:16])
}
