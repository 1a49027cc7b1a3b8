// Package translator routes text between languages through hosted
// translation models. A static table maps directed pairs to model IDs and a
// registry keeps one warm pipeline per pair.
package translator

import (
	"sort"

	"babelbot/internal/apperrors"
	"babelbot/internal/domain"
	"babelbot/internal/language"
)

// Table is the static route table mapping "src->tgt" keys to model IDs.
// It is immutable after construction.
type Table struct {
	routes map[string]string
}

// NewTable builds a table from config routes. Keys are normalized so config
// variants like "EN->HI" land on the same route as "en->hi".
func NewTable(routes map[string]string) *Table {
	normalized := make(map[string]string, len(routes))
	for key, model := range routes {
		pair, ok := domain.PairFromKey(key)
		if !ok {
			continue
		}
		pair.Source = language.Normalize(pair.Source)
		pair.Target = language.Normalize(pair.Target)
		normalized[pair.Key()] = model
	}
	return &Table{routes: normalized}
}

// ModelFor resolves the model ID for a pair. A missing route is a
// configuration error; nothing is loaded or called remotely.
func (t *Table) ModelFor(pair domain.LanguagePair) (string, error) {
	model, ok := t.routes[pair.Key()]
	if !ok {
		return "", apperrors.Config("no translation model configured for " + pair.Key())
	}
	return model, nil
}

// Has reports whether the pair is routable.
func (t *Table) Has(pair domain.LanguagePair) bool {
	_, ok := t.routes[pair.Key()]
	return ok
}

// Pairs returns all configured routes sorted by key.
func (t *Table) Pairs() []domain.LanguagePair {
	keys := make([]string, 0, len(t.routes))
	for key := range t.routes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]domain.LanguagePair, 0, len(keys))
	for _, key := range keys {
		if pair, ok := domain.PairFromKey(key); ok {
			pairs = append(pairs, pair)
		}
	}
	return pairs
}
