package domain

import "context"

// TranslationMemory caches finished translations by pair and source text.
// It is a result cache keyed on content, not a conversation log.
type TranslationMemory interface {
	Lookup(ctx context.Context, pair LanguagePair, text string) (string, bool, error)
	Save(ctx context.Context, pair LanguagePair, text, translated string) error
	Close() error
}
