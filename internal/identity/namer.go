// Package identity derives memorable aliases from opaque account ids.
package identity

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

var adjectives = [...]string{"Red", "Blue", "Green", "Silent", "Fast", "Brave", "Ancient", "Wandering", "Golden", "Iron"}

var nouns = [...]string{"Tiger", "Lion", "Eagle", "Fox", "Wolf", "River", "Mountain", "Star", "Comet", "Shadow"}

const suffixRange = 100

// Alias maps accountID to "Adjective-Noun-N". The result depends only on
// accountID. Distinct ids may share an alias.
func Alias(accountID string) string {
	h := xxhash.Sum64String(accountID)
	adj := adjectives[h%uint64(len(adjectives))]
	h /= uint64(len(adjectives))
	noun := nouns[h%uint64(len(nouns))]
	h /= uint64(len(nouns))
	return fmt.Sprintf("%s-%s-%d", adj, noun, h%suffixRange)
}

// Namer adapts Alias to the function shape the negotiator depends on.
type Namer struct{}

func (Namer) Alias(accountID string) string {
	return Alias(accountID)
}
