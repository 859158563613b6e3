package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Key generates a deterministic cache key from a URL and query parameters.
// Identical (url, params) pairs always produce the same key, and the key is
// stable across process restarts so persisted entries remain addressable.
//
// Parameters are folded in sorted order, so url.Values built in different
// orders hash identically.
func Key(rawURL string, params url.Values) string {
	h := sha256.New()
	h.Write([]byte(rawURL))

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			values := append([]string(nil), params[k]...)
			sort.Strings(values)
			h.Write([]byte("&" + k + "=" + strings.Join(values, ",")))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}
