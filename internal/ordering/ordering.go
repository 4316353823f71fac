// Package ordering holds the pure arithmetic behind dense, 1-based order
// sequences: stages within a project and components within a stage. The
// transactional row updates live in the store; these helpers decide positions
// and validate reorder requests so the rules are testable in isolation.
package ordering

// InsertPosition returns the position for a new item. With no sibling the
// item is appended after the current maximum; with a sibling it lands
// directly after it, and every existing item at or beyond the returned
// position must shift up by one.
func InsertPosition(maxPosition int, siblingPosition *int) int {
	if siblingPosition == nil {
		return maxPosition + 1
	}
	return *siblingPosition + 1
}

// SameIDSet reports whether proposed is a permutation of existing: equal
// cardinality, no duplicates, no foreign ids. A bulk reorder must be rejected
// without mutation when this is false.
func SameIDSet(existing, proposed []string) bool {
	if len(existing) != len(proposed) {
		return false
	}
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = false
	}
	for _, id := range proposed {
		used, ok := seen[id]
		if !ok || used {
			return false
		}
		seen[id] = true
	}
	return true
}

// Renumber maps each id to its dense 1-based position in the given sequence.
func Renumber(ids []string) map[string]int {
	positions := make(map[string]int, len(ids))
	for i, id := range ids {
		positions[id] = i + 1
	}
	return positions
}

// IsDense reports whether the multiset of positions is exactly {1..N}.
func IsDense(positions []int) bool {
	seen := make(map[int]bool, len(positions))
	for _, p := range positions {
		if p < 1 || p > len(positions) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}
