package router

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"
)

// mergeable implements the subscription-sharing rule: two global
// filters may share one relay subscription iff
// neither carries a limit and they agree on kinds and every generic
// tag filter; only ids/authors/since/until are allowed to differ.
func mergeable(a, b nostr.Filter) bool {
	if a.Limit != 0 || b.Limit != 0 {
		return false
	}
	if a.Search != b.Search {
		return false
	}
	if !equalIntSets(a.Kinds, b.Kinds) {
		return false
	}
	return equalTagMaps(a.Tags, b.Tags)
}

// mergeFilters unions ids/authors, widens the since/until window to
// cover both inputs, and keeps the shared kinds/tags unchanged.
func mergeFilters(a, b nostr.Filter) nostr.Filter {
	merged := nostr.Filter{
		Kinds: append([]int(nil), a.Kinds...),
		Tags:  a.Tags,
	}
	if len(a.IDs) > 0 || len(b.IDs) > 0 {
		merged.IDs = lo.Uniq(append(append([]string(nil), a.IDs...), b.IDs...))
	}
	if len(a.Authors) > 0 || len(b.Authors) > 0 {
		merged.Authors = lo.Uniq(append(append([]string(nil), a.Authors...), b.Authors...))
	}
	merged.Since = earliestTimestamp(a.Since, b.Since)
	merged.Until = latestTimestamp(a.Until, b.Until)
	return merged
}

func earliestTimestamp(a, b *nostr.Timestamp) *nostr.Timestamp {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a < *b:
		return a
	default:
		return b
	}
}

func latestTimestamp(a, b *nostr.Timestamp) *nostr.Timestamp {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a > *b:
		return a
	default:
		return b
	}
}

func equalIntSets(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := append([]int(nil), a...), append([]int(nil), b...)
	sort.Ints(as)
	sort.Ints(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func equalTagMaps(a, b nostr.TagMap) bool {
	if len(a) != len(b) {
		return false
	}
	for key, av := range a {
		bv, ok := b[key]
		if !ok || !equalStringSets(av, bv) {
			return false
		}
	}
	return true
}

func equalStringSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := append([]string(nil), a...), append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func isEmptyFilter(f nostr.Filter) bool {
	return len(f.IDs) == 0 && len(f.Kinds) == 0 && len(f.Authors) == 0 &&
		len(f.Tags) == 0 && f.Since == nil && f.Until == nil && f.Limit == 0 && f.Search == ""
}
