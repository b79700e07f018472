// Package rotation implements the three rotation strategies as pure
// computations: given current state, they return what to write. No I/O.
package rotation

// NextIP returns the next IP for a single-record rotation unit cycling
// through its candidate list.
//
// Rules:
//   - current not in candidates: resync to candidates[0]
//   - single candidate: no-op, returns that candidate
//   - otherwise the successor of current, wrapping around; if the successor
//     equals current while the list holds more than one distinct value
//     (duplicate-adjacent entries), advance one more step
//
// Callers that receive a result equal to current skip the API call but
// still reset the rotation timer.
func NextIP(candidates []string, current string) string {
	if len(candidates) == 0 {
		return current
	}

	idx := -1
	for i, c := range candidates {
		if c == current {
			idx = i
			break
		}
	}
	if idx == -1 {
		return candidates[0]
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	next := candidates[(idx+1)%len(candidates)]
	if next == current && distinctCount(candidates) > 1 {
		next = candidates[(idx+2)%len(candidates)]
	}
	return next
}

// distinctCount returns the number of distinct values in the list.
func distinctCount(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// ShiftLeft computes the group rotation permutation over the members' live
// contents: each record receives its predecessor's content and the first
// record receives the last's. The input order is the user-configured group
// order.
func ShiftLeft(contents []string) []string {
	n := len(contents)
	if n < 2 {
		out := make([]string, n)
		copy(out, contents)
		return out
	}

	out := make([]string, n)
	out[0] = contents[n-1]
	for i := 1; i < n; i++ {
		out[i] = contents[i-1]
	}
	return out
}

// PoolAssignments computes the target IP for each of n member records of a
// global rotation: record i gets pool[(index+i) % len(pool)]. An empty pool
// yields no assignments.
func PoolAssignments(pool []string, n, index int) []string {
	p := len(pool)
	if p == 0 || n <= 0 {
		return nil
	}

	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pool[((index+i)%p+p)%p]
	}
	return out
}

// AdvanceCursor returns the global rotation cursor for the next run. The
// cursor steps backward through the pool, so every member's assignment
// shifts by one position per run. The backward direction is kept for
// compatibility with existing deployments; do not change it to increment
// without migrating persisted cursors.
func AdvanceCursor(index, poolSize int) int {
	if poolSize <= 0 {
		return index
	}
	return ((index-1)%poolSize + poolSize) % poolSize
}
