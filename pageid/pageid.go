// Package pageid computes the normalized document identity that keys
// anchors to pages. Two loads of the same article must map to the same
// identity even when tracking parameters or fragments differ.
package pageid

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidPageID is returned for inputs that cannot identify a document.
var ErrInvalidPageID = errors.New("pageid: invalid page identity")

// Normalize reduces a document URL to its identity: scheme, host and
// path. Query strings and fragments are dropped entirely — tracking
// parameters and in-page positions never change which document the
// anchors belong to. Scheme and host are lowercased, a trailing slash
// on a non-root path is stripped, and http is NOT upgraded to https.
// Non-http(s) identities (file paths, synthetic schemes) pass through
// unchanged so embedders can key local documents however they like.
func Normalize(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPageID)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPageID, err)
	}

	scheme := strings.ToLower(parsed.Scheme)

	if scheme == "" && strings.Contains(raw, " ") {
		return "", fmt.Errorf("%w: malformed URL", ErrInvalidPageID)
	}

	if scheme != "http" && scheme != "https" {
		// Synthetic identities pass through, minus any fragment.
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			raw = raw[:i]
		}
		if raw == "" {
			return "", fmt.Errorf("%w: empty after fragment", ErrInvalidPageID)
		}
		return raw, nil
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidPageID)
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.RawQuery = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.User = nil

	return parsed.String(), nil
}
