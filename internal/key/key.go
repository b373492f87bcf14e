// Package key normalizes the many historical spellings of cache keys into a
// single canonical URL form.
//
// A key may arrive as a full API URL, a public-site URL, a relative
// "collection?query" or "collection/identifier" string, or a bare entity
// identifier. All of them collapse to one canonical URL which is the
// definitive identity of the cached resource. The package also recognizes and
// repairs keys corrupted by historical encoding bugs (see repair.go) and maps
// canonical URLs to filesystem-safe filenames (see filename.go).
package key

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// Kind distinguishes entity lookups from parameterized queries.
type Kind string

const (
	// KindEntity is a single-record lookup, e.g. works/W123.
	KindEntity Kind = "entity"
	// KindQuery is a parameterized listing, e.g. works?filter=...
	KindQuery Kind = "query"
)

// ErrUnparseable is returned when a key matches none of the accepted forms.
var ErrUnparseable = errors.New("key matches no known format")

// ParsedKey is the structured form of a canonicalized key.
type ParsedKey struct {
	Kind       Kind
	Collection string
	Identifier string
	Params     url.Values
	// CanonicalURL is the single authoritative string form:
	// https://<apiHost>/<collection>[/<identifier>][?<sorted-query>].
	CanonicalURL string
}

// IsEntity reports whether the key identifies a single record.
func (k *ParsedKey) IsEntity() bool {
	return k.Kind == KindEntity
}

var reCollection = regexp.MustCompile(`^[a-z][a-z_-]*$`)

// reIdentifier matches bare entity identifiers: a collection prefix letter
// followed by digits.
var reIdentifier = regexp.MustCompile(`^[A-Za-z][0-9]+$`)

// Canonicalizer parses raw keys against a configured API host, public host,
// and identifier-prefix table.
type Canonicalizer struct {
	apiHost    string
	publicHost string
	prefixes   map[string]string // uppercase prefix letter -> collection
	byCol      map[string]string // collection -> uppercase prefix letter
}

// NewCanonicalizer creates a Canonicalizer. The prefixes map associates
// single-letter identifier prefixes (e.g. "W") with collection names
// (e.g. "works").
func NewCanonicalizer(apiHost, publicHost string, prefixes map[string]string) *Canonicalizer {
	c := &Canonicalizer{
		apiHost:    strings.ToLower(apiHost),
		publicHost: strings.ToLower(publicHost),
		prefixes:   make(map[string]string, len(prefixes)),
		byCol:      make(map[string]string, len(prefixes)),
	}
	for p, col := range prefixes {
		p = strings.ToUpper(p)
		c.prefixes[p] = col
		c.byCol[col] = p
	}
	return c
}

// APIHost returns the configured API host.
func (c *Canonicalizer) APIHost() string {
	return c.apiHost
}

// PrefixFor returns the identifier prefix letter expected for a collection,
// or "" if the collection has no registered prefix.
func (c *Canonicalizer) PrefixFor(collection string) string {
	return c.byCol[collection]
}

// CollectionFor infers the collection for a bare identifier from its leading
// letter.
func (c *Canonicalizer) CollectionFor(identifier string) (string, bool) {
	if identifier == "" {
		return "", false
	}
	col, ok := c.prefixes[strings.ToUpper(identifier[:1])]
	return col, ok
}

// Parse canonicalizes a raw key. The accepted forms, in priority order:
// full API URLs, public-site URLs, "collection?query", "collection/identifier"
// and bare identifiers. Parse is idempotent: parsing a CanonicalURL yields an
// identical ParsedKey.
func (c *Canonicalizer) Parse(raw string) (*ParsedKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnparseable
	}

	if u, err := url.Parse(raw); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return c.parseAbsolute(u)
	}

	// collection?query
	if before, query, ok := strings.Cut(raw, "?"); ok {
		if !reCollection.MatchString(before) {
			return nil, ErrUnparseable
		}
		params, err := url.ParseQuery(query)
		if err != nil {
			return nil, ErrUnparseable
		}
		return c.build(KindQuery, before, "", params)
	}

	// collection/identifier
	if before, id, ok := strings.Cut(raw, "/"); ok {
		if !reCollection.MatchString(before) || id == "" || strings.Contains(id, "/") {
			return nil, ErrUnparseable
		}
		return c.build(KindEntity, before, id, nil)
	}

	// Bare identifier; the collection comes from the prefix table.
	if reIdentifier.MatchString(raw) {
		if col, ok := c.CollectionFor(raw); ok {
			return c.build(KindEntity, col, raw, nil)
		}
	}
	return nil, ErrUnparseable
}

func (c *Canonicalizer) parseAbsolute(u *url.URL) (*ParsedKey, error) {
	host := strings.ToLower(u.Host)
	segs := splitPath(u.Path)

	switch host {
	case c.apiHost:
		switch len(segs) {
		case 1:
			params, err := url.ParseQuery(u.RawQuery)
			if err != nil || !reCollection.MatchString(segs[0]) {
				return nil, ErrUnparseable
			}
			return c.build(KindQuery, segs[0], "", params)
		case 2:
			if !reCollection.MatchString(segs[0]) {
				return nil, ErrUnparseable
			}
			if u.RawQuery != "" {
				params, err := url.ParseQuery(u.RawQuery)
				if err != nil {
					return nil, ErrUnparseable
				}
				return c.build(KindQuery, segs[0], segs[1], params)
			}
			return c.build(KindEntity, segs[0], segs[1], nil)
		}
		return nil, ErrUnparseable
	case c.publicHost, "www." + c.publicHost:
		switch len(segs) {
		case 1:
			if col, ok := c.CollectionFor(segs[0]); ok && reIdentifier.MatchString(segs[0]) {
				return c.build(KindEntity, col, segs[0], nil)
			}
			return nil, ErrUnparseable
		case 2:
			if !reCollection.MatchString(segs[0]) || segs[1] == "" {
				return nil, ErrUnparseable
			}
			return c.build(KindEntity, segs[0], segs[1], nil)
		}
		return nil, ErrUnparseable
	}
	return nil, ErrUnparseable
}

func (c *Canonicalizer) build(kind Kind, collection, identifier string, params url.Values) (*ParsedKey, error) {
	if collection == "" {
		return nil, ErrUnparseable
	}
	k := &ParsedKey{
		Kind:       kind,
		Collection: collection,
		Identifier: identifier,
		Params:     params,
	}

	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(c.apiHost)
	b.WriteByte('/')
	b.WriteString(collection)
	if identifier != "" {
		b.WriteByte('/')
		b.WriteString(identifier)
	}
	// url.Values.Encode sorts parameters by key, which is what makes
	// canonicalization idempotent for queries.
	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(params.Encode())
	}
	k.CanonicalURL = b.String()
	return k, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
