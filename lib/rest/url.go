package rest

import (
	"net/url"
	"strings"
)

// URLPathEscapeAll escapes in for use as a single path segment
//
// Characters which could be mistaken for a separator, a query or a
// scheme are all escaped.
func URLPathEscapeAll(in string) string {
	return strings.ReplaceAll(url.PathEscape(in), ":", "%3A")
}
