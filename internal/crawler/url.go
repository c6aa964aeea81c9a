package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeDetailURL resolves raw against base and strips the query string and fragment.
// Scheme and host are lowercased and default ports removed. Applying it to its own
// output returns the same value.
func NormalizeDetailURL(base *url.URL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty detail link")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse detail link: %w", err)
	}
	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("detail link %q is not absolute", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
