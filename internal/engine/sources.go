package engine

import (
	"errors"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrSourceNotAllowed is returned for an ad-hoc source the policy refuses.
var ErrSourceNotAllowed = errors.New("ad-hoc source not allowed")

// SourcePolicy decides which ad-hoc sources a caller may render. Catalog
// layers are not subject to it. The zero value refuses everything.
type SourcePolicy struct {
	Enabled bool
	// Allow holds host names ("tiles.example.com"), URL prefixes
	// ("https://tiles.example.com/geo/") or path prefixes ("uploads/").
	// Empty allows any source once Enabled.
	Allow []string
}

// Permits reports whether locator may be rendered ad hoc.
func (p SourcePolicy) Permits(locator string) bool {
	if !p.Enabled {
		return false
	}
	if len(p.Allow) == 0 {
		return true
	}
	if u, err := url.Parse(locator); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return p.permitsURL(u)
	}
	if strings.Contains(locator, "://") {
		return false
	}
	clean := filepath.ToSlash(filepath.Clean(locator))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	for _, a := range p.Allow {
		if strings.Contains(a, "://") {
			continue
		}
		prefix := strings.TrimSuffix(filepath.ToSlash(filepath.Clean(a)), "/")
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}
	return false
}

func (p SourcePolicy) permitsURL(u *url.URL) bool {
	if u.User != nil {
		return false
	}
	target := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + cleanURLPath(u.Path)
	for _, a := range p.Allow {
		if !strings.Contains(a, "://") {
			if !strings.ContainsAny(a, "/\\") && strings.EqualFold(u.Hostname(), a) {
				return true
			}
			continue
		}
		if strings.HasPrefix(target, a) {
			return true
		}
	}
	return false
}

func cleanURLPath(p string) string {
	if p == "" {
		return "/"
	}
	c := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && c != "/" {
		c += "/"
	}
	return c
}
