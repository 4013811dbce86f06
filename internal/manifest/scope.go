package manifest

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ScopeKey derives the scope of updates served from manifestURL. Updates
// from different origins never compete for selection. An empty or
// unparseable URL yields the empty scope.
func ScopeKey(manifestURL string) string {
	manifestURL = strings.TrimSpace(manifestURL)
	if manifestURL == "" {
		return ""
	}
	u, err := url.Parse(manifestURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	origin := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
	if u.Scheme == "s3" {
		// Buckets host many apps; the key prefix is part of the origin.
		origin += path.Dir(u.Path)
	}
	return strconv.FormatUint(xxhash.Sum64String(origin), 16)
}
