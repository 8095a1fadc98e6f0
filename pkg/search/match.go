package search

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// FilterFunc narrows matched items; filter is the engine's active filter
type FilterFunc func(items []Item, filter string) []Item

// TransformFunc rewrites each fetched item before it is cached and shown
type TransformFunc func(Item) Item

// matcher reports whether one field value matches the query
type matcher func(value string) bool

func newMatcher(mode MatchMode, query string, caseSensitive bool) matcher {
	fold := func(s string) string { return s }
	if !caseSensitive {
		caser := cases.Fold()
		fold = func(s string) string { return caser.String(s) }
	}
	q := fold(query)

	switch mode {
	case MatchStartsWith:
		return func(v string) bool { return strings.HasPrefix(fold(v), q) }
	case MatchExact:
		return func(v string) bool { return fold(v) == q }
	case MatchFuzzy:
		if caseSensitive {
			return func(v string) bool { return fuzzy.Match(q, v) }
		}
		return func(v string) bool { return fuzzy.MatchFold(q, v) }
	default:
		return func(v string) bool { return strings.Contains(fold(v), q) }
	}
}

// matchItems keeps the items where any search key matches, in source order
func matchItems(source []Item, keys []string, match matcher) []Item {
	out := make([]Item, 0, len(source))
	for _, item := range source {
		for _, key := range keys {
			if match(item.Field(key)) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// sortByKey orders items by one field using locale-aware collation
func sortByKey(items []Item, key, locale string) {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	col := collate.New(tag)
	sort.SliceStable(items, func(i, j int) bool {
		return col.CompareString(items[i].Field(key), items[j].Field(key)) < 0
	})
}

// paginate returns the 1-based page of items and whether more remain
func paginate(items []Item, page, size int) ([]Item, bool) {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []Item{}, false
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	out := make([]Item, end-start)
	copy(out, items[start:end])
	return out, end < len(items)
}

// appendUnique appends next to existing, skipping items whose key value is
// already present. An empty key appends everything.
func appendUnique(existing, next []Item, key string) []Item {
	out := make([]Item, 0, len(existing)+len(next))
	out = append(out, existing...)
	if key == "" {
		return append(out, next...)
	}
	seen := make(map[string]struct{}, len(out))
	for _, item := range out {
		if id := item.Field(key); id != "" {
			seen[id] = struct{}{}
		}
	}
	for _, item := range next {
		id := item.Field(key)
		if id != "" {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		out = append(out, item)
	}
	return out
}

// localPage runs one local search cycle
func (e *Engine) localPage(source []Item, query, filter string, page int) (results []Item, hasMore bool, total int) {
	if len(source) == 0 {
		return []Item{}, false, 0
	}
	matched := matchItems(source, e.cfg.SearchKeys, newMatcher(e.cfg.MatchMode, query, e.cfg.CaseSensitive))
	if e.filterFn != nil {
		matched = e.filterFn(matched, filter)
	}
	if e.cfg.SortResults && len(e.cfg.SearchKeys) > 0 {
		sortByKey(matched, e.cfg.SearchKeys[0], e.cfg.Locale)
	}
	results, hasMore = paginate(matched, page, e.cfg.PageSize)
	return results, hasMore, len(matched)
}
