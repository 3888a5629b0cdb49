package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashString returns the hex sha256 of input.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first n hex characters of HashString(input).
func ShortHash(input string, n int) string {
	h := HashString(input)
	if n <= 0 || n >= len(h) {
		return h
	}
	return h[:n]
}

// CacheKey builds a namespaced key for a free-form query, case and
// surrounding whitespace insensitive.
func CacheKey(namespace, query string) string {
	return namespace + ":" + ShortHash(strings.ToLower(strings.TrimSpace(query)), 40)
}
