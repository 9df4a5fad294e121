package http

import (
	"net/url"
	"strings"
)

// ParseQuery parses a raw query string into a map. `+` is treated as an
// encoded space and percent-decoding failures degrade to an empty string
// rather than failing the request.
func ParseQuery(raw string) map[string]string {
	query := make(map[string]string)
	if raw == "" {
		return query
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		query[decodeComponent(key)] = decodeComponent(value)
	}
	return query
}

func decodeComponent(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return ""
	}
	return decoded
}
