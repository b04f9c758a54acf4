package normalize

import (
	"regexp"
	"slices"
	"strings"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{3,32}$`)
	objectIDPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)
)

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Username lower-cases and trims a username.
func Username(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// ValidUsername reports whether u (already normalized) may be registered.
// Usernames key the per-participant presence map of a room, so they must be
// safe as document field names and must never collide with a contact
// placeholder id.
func ValidUsername(u string) bool {
	return usernamePattern.MatchString(u) && !objectIDPattern.MatchString(u)
}

// Participants returns the sorted, de-duplicated set of participant ids.
// Ids are usernames or contact placeholders, both lower case.
func Participants(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = Username(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// DMKey returns the lookup key of a dm room for an unordered participant set.
func DMKey(ids []string) string {
	return strings.Join(Participants(ids), "|")
}
