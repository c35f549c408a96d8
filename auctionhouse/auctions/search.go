package auctions

import (
	"context"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// listedNames adapts open auctions to the fuzzy matcher.
type listedNames []ListedAuction

func (l listedNames) String(i int) string { return l[i].Auction.General.Name }
func (l listedNames) Len() int            { return len(l) }

// SearchOpen ranks open auctions against query by name. An empty query
// returns everything in identifier order; otherwise exact (case-insensitive)
// name matches rank first, then fuzzy matches by score.
func (e *Engine) SearchOpen(ctx context.Context, query string) ([]ListedAuction, error) {
	open, err := e.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return open, nil
	}

	var exact, fuzzed []ListedAuction
	matches := fuzzy.FindFrom(query, listedNames(open))
	lowered := strings.ToLower(query)
	for _, m := range matches {
		la := open[m.Index]
		if strings.ToLower(la.Auction.General.Name) == lowered {
			exact = append(exact, la)
		} else {
			fuzzed = append(fuzzed, la)
		}
	}
	// Fuzzy scores do not order ties among exact matches, so the exact
	// tier falls back to identifier order.
	sort.Slice(exact, func(i, j int) bool { return exact[i].ID < exact[j].ID })
	return append(exact, fuzzed...), nil
}
