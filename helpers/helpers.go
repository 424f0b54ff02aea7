package helpers

import (
	"strings"

	"github.com/samber/lo"
	"github.com/spooky-finn/orderbook-reconciler/domain"
)

// SymbolSet indexes symbols by their normalized key, keeping the first spelling seen.
// Blank entries are dropped.
func SymbolSet(symbols []string) map[string]string {
	set := make(map[string]string, len(symbols))
	for _, s := range lo.Filter(symbols, func(s string, _ int) bool { return strings.TrimSpace(s) != "" }) {
		key := domain.NormalizeSymbol(s)
		if _, ok := set[key]; !ok {
			set[key] = strings.TrimSpace(s)
		}
	}
	return set
}

// SplitList parses a comma separated list, trimming blanks and duplicates.
func SplitList(s string) []string {
	items := lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})
	return lo.Uniq(lo.Compact(items))
}
