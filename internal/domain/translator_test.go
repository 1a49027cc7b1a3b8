package domain

import "testing"

func TestLanguagePair_Key(t *testing.T) {
	p := LanguagePair{Source: "en", Target: "hi"}
	if p.Key() != "en->hi" {
		t.Fatalf("expected 'en->hi', got %q", p.Key())
	}
}

func TestPairFromKey_Valid(t *testing.T) {
	p, ok := PairFromKey("ja->en")
	if !ok {
		t.Fatal("expected valid pair")
	}
	if p.Source != "ja" || p.Target != "en" {
		t.Fatalf("unexpected pair: %+v", p)
	}
}

func TestPairFromKey_Invalid(t *testing.T) {
	for _, key := range []string{"", "en", "en->", "->hi", "en-hi"} {
		if _, ok := PairFromKey(key); ok {
			t.Errorf("key %q should be rejected", key)
		}
	}
}
