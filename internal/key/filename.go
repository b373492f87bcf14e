// Maps canonical URLs to filesystem-safe filenames and back.

package key

import (
	"fmt"
	"net/url"
	"strings"
)

// FilenameForURL encodes a canonical URL as a filesystem-safe filename with a
// ".json" suffix. The encoding is a strict percent-encoding: every byte
// outside the RFC 3986 unreserved set is escaped, including the sub-delims
// ! ' ( ) * which are URL-safe but were historically unsafe in filenames.
// The encoding is bijective, so the filename decodes back to the exact URL.
func FilenameForURL(canonicalURL string) string {
	var b strings.Builder
	b.Grow(len(canonicalURL) + len(canonicalURL)/2)
	for i := 0; i < len(canonicalURL); i++ {
		ch := canonicalURL[i]
		if escapeInFilename(ch) {
			fmt.Fprintf(&b, "%%%02X", ch)
		} else {
			b.WriteByte(ch)
		}
	}
	b.WriteString(".json")
	return b.String()
}

// DecodeFilename reverses FilenameForURL. Filenames predating percent
// encoding used an ad hoc colon/hyphen substitution; those are recognized by
// the absence of escapes and translated back before parsing. The translation
// exists only on this decode path and is never used for new files.
func DecodeFilename(name string) (string, error) {
	name = strings.TrimSuffix(name, ".json")
	if !strings.Contains(name, "%") {
		s := strings.ReplaceAll(name, ":", "/")
		return strings.ReplaceAll(s, "-", "="), nil
	}
	return url.PathUnescape(name)
}

// ParseFilename decodes a resource filename from the given collection's
// directory and canonicalizes the result. Relative legacy names resolve
// against the collection they were found in.
func (c *Canonicalizer) ParseFilename(name, collection string) (*ParsedKey, error) {
	raw, err := DecodeFilename(name)
	if err != nil {
		return nil, fmt.Errorf("undecodable filename %q: %w", name, err)
	}
	k, err := c.Parse(raw)
	if err != nil {
		return nil, err
	}
	if collection != "" && k.Collection != collection {
		return nil, fmt.Errorf("filename %q resolves to collection %q, want %q: %w",
			name, k.Collection, collection, ErrUnparseable)
	}
	return k, nil
}

func escapeInFilename(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return false
	case b == '-' || b == '_' || b == '.' || b == '~':
		return false
	}
	return true
}
