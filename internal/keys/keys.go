// Package keys builds and parses the two cache keys every record lives
// under. The keyspaces "user:" and "email:" are owned by the engine;
// external code must not write under these prefixes.
package keys

import "strings"

const (
	userPrefix  = "user:"
	emailPrefix = "email:"
)

func User(userID string) string { return userPrefix + userID }
func Email(email string) string { return emailPrefix + email }

// IsUser reports whether key has the id-key shape. Sync and drift enumerate
// only these; the paired email key is derived from the record itself.
func IsUser(key string) bool { return strings.HasPrefix(key, userPrefix) }

// UserID returns the id carried by an id-shaped key.
func UserID(key string) (string, bool) {
	if !strings.HasPrefix(key, userPrefix) {
		return "", false
	}
	return key[len(userPrefix):], true
}
