// Detects and repairs keys corrupted by historical encoding bugs.

package key

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrUnrecoverable is returned when a corrupted key cannot be repaired into
// any valid form. Callers should remove such keys rather than guess.
var ErrUnrecoverable = errors.New("key is corrupted beyond repair")

// maxDecodeRounds bounds progressive percent-decoding. Observed corruption
// never exceeds three encoding layers; five leaves headroom without risking
// an unbounded loop.
const maxDecodeRounds = 5

// reURLIdentifier matches an entity identifier that itself begins with a URL,
// encoded or not, e.g. "works/Ahttps%2F%2F..." or a bare "Whttps%3A%2F%2F...".
// At the start of the key the junk prefix letter is required so that plain
// valid URLs never match.
var reURLIdentifier = regexp.MustCompile(`(?i)(?:^[a-z]https?|/[a-z]?https?)(?:%3a|%2f|://)`)

// reScheme normalizes mangled scheme separators ("https///", "https:/",
// "https//") back to "scheme://".
var reScheme = regexp.MustCompile(`(?i)^(https?)[:/]+`)

// DetectMalformed reports whether a key carries one of the three known
// corruption signatures: re-encoded path separators, a percent-encoded
// "https://" fragment embedded mid-string, or an entity identifier that
// itself begins with an encoded URL.
func (c *Canonicalizer) DetectMalformed(key string) bool {
	lower := strings.ToLower(key)
	if strings.Contains(lower, "%252f") || strings.Contains(lower, "%2f%2f%2f") {
		return true
	}
	// Re-encoded "https://" mid-string. A single properly-encoded URL inside
	// a query parameter value is legitimate and must not match.
	if strings.Index(lower, "https%253a") > 0 || strings.Index(lower, "https%2f%2f") > 0 {
		return true
	}
	return reURLIdentifier.MatchString(key)
}

// Repair attempts to recover a corrupted key, trying in order: extraction of
// an embedded URL from inside a corrupted entity path, stripping a
// one-character junk prefix ahead of an encoded URL, and progressive
// percent-decoding bounded at maxDecodeRounds. The result still has to be
// canonicalized and checked against the expected collection by the caller;
// Repair only produces a parseable candidate.
func (c *Canonicalizer) Repair(key string) (string, error) {
	if s, ok := extractEmbeddedURL(key); ok {
		return s, nil
	}
	if len(key) > 1 {
		if s, ok := decodeToURL(key[1:]); ok {
			return s, nil
		}
	}

	cur := key
	for range maxDecodeRounds {
		dec, err := url.PathUnescape(cur)
		if err != nil || dec == cur {
			break
		}
		cur = dec
		if norm := normalizeScheme(cur); isAbsoluteURL(norm) {
			return norm, nil
		}
		if reIdentifier.MatchString(cur) {
			return cur, nil
		}
	}
	// Decoding settled without reaching a recognizable form. If it changed
	// anything at all, hand the candidate back for validation; the caller
	// accepts it only if it canonicalizes into the expected collection.
	if cur != key {
		return cur, nil
	}
	return "", ErrUnrecoverable
}

// extractEmbeddedURL pulls an encoded URL out of the middle of a corrupted
// key, e.g. "Ahttps%2F%2F%2Fapi.example.org%2F..." where a whole URL was
// stuffed into an entity identifier slot.
func extractEmbeddedURL(key string) (string, bool) {
	i := strings.Index(strings.ToLower(key), "http")
	if i <= 0 {
		return "", false
	}
	return decodeToURL(key[i:])
}

// decodeToURL progressively percent-decodes s until it becomes an absolute
// URL, giving up after maxDecodeRounds or when decoding stops changing it.
func decodeToURL(s string) (string, bool) {
	cur := s
	for range maxDecodeRounds {
		if norm := normalizeScheme(cur); isAbsoluteURL(norm) {
			return norm, true
		}
		dec, err := url.PathUnescape(cur)
		if err != nil || dec == cur {
			return "", false
		}
		cur = dec
	}
	return "", false
}

func normalizeScheme(s string) string {
	return reScheme.ReplaceAllString(s, "${1}://")
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") &&
		strings.Contains(u.Host, ".")
}
