// Package normalize holds the canonical forms used for identifiers and
// message bodies before they reach storage.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and lookups. Surrounding whitespace is trimmed and the address
// is lower-cased.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// ID trims surrounding whitespace from an opaque user or chat id. Ids are
// case-sensitive, so nothing else is touched.
func ID(id string) string {
	return strings.TrimSpace(id)
}

// Text trims surrounding whitespace from a chat message. An empty result
// means the message carries no content.
func Text(s string) string {
	return strings.TrimSpace(s)
}
