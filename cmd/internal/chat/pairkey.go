package chat

import (
	"slices"
	"strings"
)

const pairKeySep = "_"

// pairKeyEscaper makes the separator unambiguous inside ids, so
// PairKey("a", "b_c") and PairKey("a_b", "c") never collide.
var pairKeyEscaper = strings.NewReplacer(`\`, `\\`, pairKeySep, `\`+pairKeySep)

// NormalizeParticipants returns the sorted, de-duplicated, non-empty participant ids.
func NormalizeParticipants(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// PairKey derives the order-independent key of a participant set.
// PairKey("b", "a") == PairKey("a", "b") == "a_b". A separator or
// backslash inside an id is escaped with a backslash.
func PairKey(ids ...string) string {
	parts := NormalizeParticipants(ids...)
	for i, id := range parts {
		parts[i] = pairKeyEscaper.Replace(id)
	}
	return strings.Join(parts, pairKeySep)
}
