// Package identity derives the stable identifiers that history records are
// keyed by: the content key (byte size plus content hash) and the entry id
// (display name plus content key).
package identity

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	djb2Seed = 5381

	// HashLen is the number of hex digits in a content hash and in an entry id.
	HashLen = 16
)

var (
	canonicalKey = regexp.MustCompile(`^\d+-[0-9a-f]{16}$`)
	legacyKey    = regexp.MustCompile(`^.+-(\d+-[0-9a-f]{16})$`)
)

// DeriveEntryID returns the entry id for a display name and content key.
// Persisted ids depend on this staying byte-for-byte stable.
func DeriveEntryID(displayName, contentKey string) string {
	return djb2(displayName + "-" + contentKey)
}

func djb2(s string) string {
	var h uint64 = djb2Seed
	for i := 0; i < len(s); i++ {
		h = h*33 + uint64(s[i])
	}
	return fmt.Sprintf("%016x", h)
}

// NewContentKey formats a content key from a byte size and a 16-hex-digit hash.
func NewContentKey(size int64, hash string) string {
	return fmt.Sprintf("%d-%s", size, strings.ToLower(hash))
}

// IsContentKey reports whether s is a canonical content key.
func IsContentKey(s string) bool {
	return canonicalKey.MatchString(s)
}

// ExtractContentKey returns the canonical content key contained in raw.
// Legacy keys carry a leading "<name>-" segment, which is stripped.
// Anything else is returned unchanged.
func ExtractContentKey(raw string) string {
	if canonicalKey.MatchString(raw) {
		return raw
	}
	if m := legacyKey.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}

// IsCorrupted reports whether a stored key is a mangled serialization rather
// than a content key, e.g. `Optional("12-…")` written by an old build.
func IsCorrupted(raw string) bool {
	if IsContentKey(ExtractContentKey(raw)) {
		return false
	}
	return strings.ContainsAny(raw, `()"`)
}
