package rerank

import (
	"encoding/json"

	pxerrors "github.com/pampax-dev/pampax/internal/errors"
)

// ErrAllProvidersFailed is returned by Bus.Execute when every provider in
// the fallback chain was unavailable or errored. Callers treat it as a
// soft failure and keep the seed-mix order.
var ErrAllProvidersFailed = pxerrors.NewKind(pxerrors.KindUnavailable,
	"rerank: every provider failed or was unavailable", nil)

// encodeItems/decodeItems serialize a ranking for the rerank_cache table.
// JSON keeps the cached value readable in sqlite3 when debugging a stale
// ranking.
func encodeItems(items []Item) string {
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeItems(encoded string) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal([]byte(encoded), &items); err != nil {
		return nil, err
	}
	return items, nil
}
