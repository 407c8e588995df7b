// Package crawlurl defines the canonical crawl unit: a normalized URL
// together with its depth descriptor and origin key. Once constructed a
// URL is immutable.
package crawlurl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/FranksOps/burr/internal/origin"
)

// Depth tracks how many hops a URL is from its seed, counted three ways:
// total hops, distinct-host hops, and distinct-origin hops. Budget checks
// compare against MaxDepthFromSeed using FromSeed.
type Depth struct {
	FromSeed        int
	DistinctHosts   int
	DistinctOrigins int
}

// Next returns the depth of a link discovered on a page at d, given
// whether the link crosses a host or origin boundary.
func (d Depth) Next(hostChanged, originChanged bool) Depth {
	next := Depth{FromSeed: d.FromSeed + 1, DistinctHosts: d.DistinctHosts, DistinctOrigins: d.DistinctOrigins}
	if hostChanged {
		next.DistinctHosts++
	}
	if originChanged {
		next.DistinctOrigins++
	}
	return next
}

// URL is the canonical crawl unit. Immutable after New.
type URL struct {
	raw    string
	depth  Depth
	origin origin.Key
}

// New normalizes rawURL (lowercases scheme/host, drops the fragment) and
// derives its OriginKey. Only http/https schemes are accepted.
func New(rawURL string, depth Depth) (URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return URL{}, fmt.Errorf("context: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return URL{}, fmt.Errorf("context: unsupported scheme %q in %q", u.Scheme, rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	key, err := origin.OfURL(u)
	if err != nil {
		return URL{}, err
	}

	return URL{raw: u.String(), depth: depth, origin: key}, nil
}

// String returns the normalized absolute URL.
func (u URL) String() string { return u.raw }

// Depth returns the URL's depth descriptor.
func (u URL) Depth() Depth { return u.depth }

// Origin returns the URL's OriginKey.
func (u URL) Origin() origin.Key { return u.origin }

// IsZero reports whether u is the zero value.
func (u URL) IsZero() bool { return u.raw == "" }
