// Package origin canonicalizes URLs to their politeness key: the
// registrable domain, falling back to the bare host when no public
// suffix match exists (IP literals, single-label hosts).
package origin

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Key is the normalized politeness identifier of a URL. Two URLs share
// politeness iff their Keys are equal.
type Key string

// Of derives the OriginKey for rawURL. It returns an error if rawURL does
// not parse or has no host component.
func Of(rawURL string) (Key, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("context: %w", err)
	}
	return OfURL(u)
}

// OfURL derives the OriginKey from an already-parsed URL.
func OfURL(u *url.URL) (Key, error) {
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("context: url has no host: %q", u.String())
	}
	if net.ParseIP(host) != nil {
		// IP literals have no registrable domain - key on the bare address.
		return Key(host), nil
	}

	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// No registrable domain ("localhost" or another single-label
		// host) - fall back to the bare host.
		return Key(host), nil
	}
	return Key(etld1), nil
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}
