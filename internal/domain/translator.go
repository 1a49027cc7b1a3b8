package domain

import (
	"context"
	"strings"
)

// Translator converts text between two languages from the configured table.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Generator produces an English reply for an English prompt.
type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
}

// LanguagePair identifies a directed translation route.
type LanguagePair struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Key renders the pair in the "src->tgt" form used as table and cache key.
func (p LanguagePair) Key() string {
	return p.Source + "->" + p.Target
}

// PairFromKey parses a "src->tgt" key. Returns false when the key is not in
// that form or either side is empty.
func PairFromKey(key string) (LanguagePair, bool) {
	src, tgt, found := strings.Cut(key, "->")
	if !found || src == "" || tgt == "" {
		return LanguagePair{}, false
	}
	return LanguagePair{Source: src, Target: tgt}, true
}
