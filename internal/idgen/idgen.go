// Package idgen generates deterministic node ids for plan graph skeletons.
//
// Ids carry a type prefix (cap:, scn:, req:, change:, ix:, q:, screen:, ...)
// followed by a slug derived from the parent statement and, when the slug
// alone would collide, a short base36 content hash.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of specified length.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var out strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		out.WriteByte(chars[i])
	}

	str := out.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// HashSuffix returns a short base36 hash of content, for disambiguating
// ids whose slugs collide. Length is clamped to [3,8].
func HashSuffix(content string, length int) string {
	if length < 3 {
		length = 3
	}
	if length > 8 {
		length = 8
	}
	hash := sha256.Sum256([]byte(content))
	var numBytes int
	switch length {
	case 3:
		numBytes = 2
	case 4:
		numBytes = 3
	case 5, 6:
		numBytes = 4
	default:
		numBytes = 5
	}
	return EncodeBase36(hash[:numBytes], length)
}

var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// stopWords are common words removed from statements during slug
// generation; they add length without meaning.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"in": true, "on": true, "at": true, "to": true, "for": true,
	"of": true, "with": true, "by": true, "from": true, "as": true,
	"and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true,
	"this": true, "that": true, "it": true, "its": true,
}

// Slug derives a hyphenated identifier fragment from free text, dropping
// stop words and clamping to maxWords significant words.
func Slug(text string, maxWords int) string {
	lower := strings.ToLower(text)
	lower = nonSlugRe.ReplaceAllString(lower, " ")

	var words []string
	for _, w := range strings.Fields(lower) {
		if stopWords[w] {
			continue
		}
		words = append(words, w)
		if maxWords > 0 && len(words) >= maxWords {
			break
		}
	}
	if len(words) == 0 {
		return "node"
	}
	return strings.Join(words, "-")
}

// Child builds a child node id from a prefix, the parent id and a
// discriminator. The parent contributes its own slug tail so sibling
// subtrees stay distinguishable.
//
//	Child("ix", "change:profile-edit", "token-fresh-cache-hit")
//	  -> "ix:profile-edit:token-fresh-cache-hit"
func Child(prefix, parentID, discriminator string) string {
	tail := parentID
	if i := strings.Index(parentID, ":"); i >= 0 {
		tail = parentID[i+1:]
	}
	if discriminator == "" {
		return fmt.Sprintf("%s:%s", prefix, tail)
	}
	return fmt.Sprintf("%s:%s:%s", prefix, tail, discriminator)
}

// Version returns the id for the next version of a node, appending or
// bumping a @vN suffix. Versioning is forward-only: the new id supersedes
// the old one, which is retired but never reused.
func Version(id string, n int) string {
	base := id
	if i := strings.LastIndex(id, "@v"); i >= 0 {
		base = id[:i]
	}
	return fmt.Sprintf("%s@v%d", base, n)
}

// ParseVersion splits an id into its base and version number. Ids without
// a @vN suffix are version 1.
func ParseVersion(id string) (base string, n int) {
	i := strings.LastIndex(id, "@v")
	if i < 0 {
		return id, 1
	}
	if _, err := fmt.Sscanf(id[i+2:], "%d", &n); err != nil || n < 1 {
		return id, 1
	}
	return id[:i], n
}
