package channel

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ValidateMediaURLs accepts only absolute http(s) URLs on public hosts.
// Vendors fetch media themselves and silently drop anything they cannot
// reach, which would look like a successful send.
func ValidateMediaURLs(urls []string) error {
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(strings.ToLower(trimmed), "data:") || strings.Contains(trimmed, ";base64,") {
			return ErrInlineMedia
		}
		u, err := url.Parse(trimmed)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: %q", ErrInvalidMediaURL, raw)
		}
		if !publicHost(u.Hostname()) {
			return fmt.Errorf("%w: %q is not publicly reachable", ErrInvalidMediaURL, raw)
		}
	}
	return nil
}

// ResolveMediaURLs turns root-relative paths such as /uploads/a.png into
// absolute URLs under base, then validates the result. With an empty base
// relative paths are left alone and fail validation.
func ResolveMediaURLs(base string, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return urls, nil
	}
	var root *url.URL
	if base != "" {
		u, err := url.Parse(strings.TrimRight(base, "/") + "/")
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("parse public base url: %w", ErrInvalidMediaURL)
		}
		root = u
	}

	out := make([]string, len(urls))
	for i, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		out[i] = trimmed
		if root == nil || !strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "//") {
			continue
		}
		ref, err := url.Parse(strings.TrimPrefix(trimmed, "/"))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMediaURL, raw)
		}
		out[i] = root.ResolveReference(ref).String()
	}
	if err := ValidateMediaURLs(out); err != nil {
		return nil, err
	}
	return out, nil
}

// publicHost rejects localhost and IP literals in loopback, private,
// link-local and unspecified ranges. Names are not resolved.
func publicHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return true
	}
	addr = addr.Unmap()
	return !(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || addr.IsMulticast())
}
