// Package urlx normalizes URLs and derives the dedupe hashes used for
// duplicate-ingestion and sync-linkage detection.
package urlx

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// LegacyPrefixLen is the length of historical short-form hashes. Old sync
// rows stored only this prefix of the full hash.
const LegacyPrefixLen = 16

// trackingParams are query parameters stripped during normalization; they
// change per click without changing the document.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"igshid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref":     true,
	"ref_src": true,
	"si":      true,
	"spm":     true,
	"twclid":  true,
	"yclid":   true,
}

// Normalize canonicalizes a URL for dedupe purposes: lowercases scheme and
// host, drops the fragment, and strips tracking query parameters. Invalid
// URLs come back trimmed but otherwise untouched.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if trackingParams[key] || strings.HasPrefix(key, "utm_") {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// Hash returns the 64-char hex SHA-256 of the normalized URL.
func Hash(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// InSet reports whether the hash is a member of the set, accepting legacy
// short-form entries: a set containing hash[:16] counts as containing hash.
func InSet(hash string, set map[string]struct{}) bool {
	if _, ok := set[hash]; ok {
		return true
	}
	if len(hash) >= LegacyPrefixLen {
		if _, ok := set[hash[:LegacyPrefixLen]]; ok {
			return true
		}
	}
	return false
}
