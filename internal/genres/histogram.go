package genres

import (
	"cmp"
	"maps"
	"slices"
)

// Histogram counts genre occurrences. It marshals to JSON as {genre: count}.
type Histogram map[string]int

// Accumulate adds one occurrence of each genre.
func (h Histogram) Accumulate(genres []string) {
	for _, g := range genres {
		if g == "" {
			continue
		}
		h[g]++
	}
}

// Merge adds every count in other to h.
func (h Histogram) Merge(other map[string]int) {
	for g, n := range other {
		h[g] += n
	}
}

// Merged returns a new histogram holding the sum of a and b. Neither input
// is modified.
func Merged(a, b map[string]int) Histogram {
	out := make(Histogram, len(a)+len(b))
	out.Merge(a)
	out.Merge(b)
	return out
}

// Top returns up to n genres ordered by count descending, then name.
func (h Histogram) Top(n int) []string {
	names := slices.Collect(maps.Keys(h))
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(h[b], h[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if n >= 0 && len(names) > n {
		names = names[:n]
	}
	return names
}

// Len returns the number of distinct genres.
func (h Histogram) Len() int {
	return len(h)
}
