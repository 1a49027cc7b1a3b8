package relay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"babelbot/internal/apperrors"
	"babelbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeTranslator prefixes text with the route so assertions can see which
// routes ran and in what order.
type fakeTranslator struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	key := source + "->" + target
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if err := f.fail[key]; err != nil {
		return "", err
	}
	return "[" + key + "] " + text, nil
}

func (f *fakeTranslator) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) promptLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeMemory struct {
	mu      sync.Mutex
	entries map[string]string
	saves   int
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{entries: make(map[string]string)}
}

func memKey(pair domain.LanguagePair, text string) string {
	return pair.Key() + "|" + text
}

func (f *fakeMemory) Lookup(ctx context.Context, pair domain.LanguagePair, text string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[memKey(pair, text)]
	return v, ok, nil
}

func (f *fakeMemory) Save(ctx context.Context, pair domain.LanguagePair, text, translated string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[memKey(pair, text)] = translated
	f.saves++
	return nil
}

func (f *fakeMemory) Close() error { return nil }

func newTestRelay(tr *fakeTranslator, gen *fakeGenerator, mem domain.TranslationMemory) *Relay {
	return New(Config{
		Translator: tr,
		Generator:  gen,
		Memory:     mem,
		Logger:     testLogger(),
	})
}

func TestProcess_EnglishPassthrough(t *testing.T) {
	tr := &fakeTranslator{}
	gen := &fakeGenerator{reply: "Hi there!"}
	r := newTestRelay(tr, gen, nil)

	reply, err := r.Process(context.Background(), domain.ChatPayload{Text: "hello"})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(tr.callLog()) != 0 {
		t.Errorf("expected no translation calls, got %v", tr.callLog())
	}
	if got := gen.promptLog(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("unexpected generator prompts %v", got)
	}
	if reply.Reply != "Hi there!" || reply.ReplyEN != "Hi there!" {
		t.Errorf("expected reply and reply_en to match, got %+v", reply)
	}
	if reply.DetectedSource != "en" {
		t.Errorf("expected detected_source en, got %q", reply.DetectedSource)
	}
}

func TestProcess_MirrorsSourceLanguage(t *testing.T) {
	tr := &fakeTranslator{}
	gen := &fakeGenerator{reply: "Sure, happy to help."}
	r := newTestRelay(tr, gen, nil)

	reply, err := r.Process(context.Background(), domain.ChatPayload{
		Text:           "नमस्ते",
		SourceLanguage: "hi",
		BotLanguage:    "source",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	wantCalls := []string{"hi->en", "en->hi"}
	if got := tr.callLog(); len(got) != 2 || got[0] != wantCalls[0] || got[1] != wantCalls[1] {
		t.Errorf("expected calls %v, got %v", wantCalls, got)
	}
	if got := gen.promptLog(); len(got) != 1 || got[0] != "[hi->en] नमस्ते" {
		t.Errorf("generator should see the pivoted text, got %v", got)
	}
	if reply.ReplyEN != "Sure, happy to help." {
		t.Errorf("unexpected reply_en %q", reply.ReplyEN)
	}
	if reply.Reply != "[en->hi] Sure, happy to help." {
		t.Errorf("unexpected reply %q", reply.Reply)
	}
	if reply.DetectedSource != "hi" {
		t.Errorf("expected detected_source hi, got %q", reply.DetectedSource)
	}
}

func TestProcess_EnglishReplyForForeignSource(t *testing.T) {
	tr := &fakeTranslator{}
	gen := &fakeGenerator{reply: "Of course."}
	r := newTestRelay(tr, gen, nil)

	reply, err := r.Process(context.Background(), domain.ChatPayload{
		Text:           "नमस्ते",
		SourceLanguage: "hi",
		BotLanguage:    "en",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if got := tr.callLog(); len(got) != 1 || got[0] != "hi->en" {
		t.Errorf("expected only the forward pivot, got %v", got)
	}
	if reply.Reply != reply.ReplyEN {
		t.Errorf("expected an English reply, got %+v", reply)
	}
}

func TestProcess_ForeignReplyForEnglishSource(t *testing.T) {
	tr := &fakeTranslator{}
	gen := &fakeGenerator{reply: "Good question."}
	r := newTestRelay(tr, gen, nil)

	reply, err := r.Process(context.Background(), domain.ChatPayload{
		Text:        "how are you",
		BotLanguage: "ja",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if got := tr.callLog(); len(got) != 1 || got[0] != "en->ja" {
		t.Errorf("expected only the reverse pivot, got %v", got)
	}
	if reply.Reply != "[en->ja] Good question." {
		t.Errorf("unexpected reply %q", reply.Reply)
	}
	if reply.DetectedSource != "en" {
		t.Errorf("expected detected_source en, got %q", reply.DetectedSource)
	}
}

func TestProcess_NormalizesRegionTags(t *testing.T) {
	tr := &fakeTranslator{}
	gen := &fakeGenerator{reply: "ok"}
	r := newTestRelay(tr, gen, nil)

	reply, err := r.Process(context.Background(), domain.ChatPayload{
		Text:           "नमस्ते",
		SourceLanguage: "HI-IN",
		BotLanguage:    "EN_us",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if got := tr.callLog(); len(got) != 1 || got[0] != "hi->en" {
		t.Errorf("expected normalized hi->en pivot, got %v", got)
	}
	if reply.DetectedSource != "hi" {
		t.Errorf("expected detected_source hi, got %q", reply.DetectedSource)
	}
}

func TestProcess_EmptyTextIsParseError(t *testing.T) {
	r := newTestRelay(&fakeTranslator{}, &fakeGenerator{reply: "x"}, nil)

	_, err := r.Process(context.Background(), domain.ChatPayload{Text: "   "})
	if err == nil {
		t.Fatal("expected an error for empty text")
	}
	if stage, ok := StageOf(err); !ok || stage != StageParse {
		t.Errorf("expected parse stage, got %v, %v", stage, ok)
	}
	if !apperrors.Is(err, apperrors.KindParse) {
		t.Errorf("expected parse kind, got %v", err)
	}
	if msg := ErrorMessage(err); !strings.HasPrefix(msg, "Invalid payload: ") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestProcess_BadLanguageCodesAreParseErrors(t *testing.T) {
	r := newTestRelay(&fakeTranslator{}, &fakeGenerator{reply: "x"}, nil)

	_, err := r.Process(context.Background(), domain.ChatPayload{
		Text:           "hello",
		SourceLanguage: "english!",
	})
	if stage, ok := StageOf(err); !ok || stage != StageParse {
		t.Fatalf("expected parse stage for bad source code, got %v (%v)", stage, err)
	}

	_, err = r.Process(context.Background(), domain.ChatPayload{
		Text:        "hello",
		BotLanguage: "klingon",
	})
	if stage, ok := StageOf(err); !ok || stage != StageParse {
		t.Fatalf("expected parse stage for bad bot code, got %v (%v)", stage, err)
	}
}

func TestProcess_TranslateFailureStopsPipeline(t *testing.T) {
	tr := &fakeTranslator{fail: map[string]error{
		"hi->en": apperrors.Translation("translation API rate limited", nil),
	}}
	gen := &fakeGenerator{reply: "never"}
	r := newTestRelay(tr, gen, nil)

	_, err := r.Process(context.Background(), domain.ChatPayload{
		Text:           "नमस्ते",
		SourceLanguage: "hi",
		BotLanguage:    "source",
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if stage, _ := StageOf(err); stage != StageTranslate {
		t.Errorf("expected translate stage, got %v", stage)
	}
	if got := ErrorMessage(err); got != "Translation failed: translation API rate limited" {
		t.Errorf("unexpected message %q", got)
	}
	if len(gen.promptLog()) != 0 {
		t.Error("generator must not run after a failed forward pivot")
	}
}

func TestProcess_GenerateFailure(t *testing.T) {
	tr := &fakeTranslator{}
	gen := &fakeGenerator{err: apperrors.Generation("generation API rejected credentials", nil)}
	r := newTestRelay(tr, gen, nil)

	_, err := r.Process(context.Background(), domain.ChatPayload{Text: "hello"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if stage, _ := StageOf(err); stage != StageGenerate {
		t.Errorf("expected generate stage, got %v", stage)
	}
	if got := ErrorMessage(err); got != "LLM call failed: generation API rejected credentials" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestProcess_ReverseFailureKeepsStage(t *testing.T) {
	tr := &fakeTranslator{fail: map[string]error{
		"en->hi": apperrors.Translation("translation model is still loading", nil),
	}}
	gen := &fakeGenerator{reply: "fine"}
	r := newTestRelay(tr, gen, nil)

	_, err := r.Process(context.Background(), domain.ChatPayload{
		Text:           "नमस्ते",
		SourceLanguage: "hi",
		BotLanguage:    "source",
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if stage, _ := StageOf(err); stage != StageReverse {
		t.Errorf("expected reverse stage, got %v", stage)
	}
	if got := ErrorMessage(err); got != "Reverse translation failed: translation model is still loading" {
		t.Errorf("unexpected message %q", got)
	}
	if got := tr.callLog(); len(got) != 2 {
		t.Errorf("forward pivot should have run, got calls %v", got)
	}
}

func TestProcess_UnconfiguredReverseRoute(t *testing.T) {
	tr := &fakeTranslator{fail: map[string]error{
		"en->de": apperrors.Config("no translation model configured for en->de"),
	}}
	gen := &fakeGenerator{reply: "ok"}
	r := newTestRelay(tr, gen, nil)

	_, err := r.Process(context.Background(), domain.ChatPayload{
		Text:        "hello",
		BotLanguage: "de",
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := ErrorMessage(err); got != "Reverse translation failed: no translation model configured for en->de" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestProcess_MemoryHitSkipsTranslator(t *testing.T) {
	tr := &fakeTranslator{}
	gen := &fakeGenerator{reply: "ok"}
	mem := newFakeMemory()
	mem.entries[memKey(domain.LanguagePair{Source: "hi", Target: "en"}, "नमस्ते")] = "hello from memory"
	r := newTestRelay(tr, gen, mem)

	_, err := r.Process(context.Background(), domain.ChatPayload{
		Text:           "नमस्ते",
		SourceLanguage: "hi",
		BotLanguage:    "en",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if got := tr.callLog(); len(got) != 0 {
		t.Errorf("expected the memory to serve the pivot, got calls %v", got)
	}
	if got := gen.promptLog(); len(got) != 1 || got[0] != "hello from memory" {
		t.Errorf("generator should see the remembered text, got %v", got)
	}
}

func TestProcess_MemorySavesBothPivots(t *testing.T) {
	tr := &fakeTranslator{}
	gen := &fakeGenerator{reply: "fine"}
	mem := newFakeMemory()
	r := newTestRelay(tr, gen, mem)

	_, err := r.Process(context.Background(), domain.ChatPayload{
		Text:           "नमस्ते",
		SourceLanguage: "hi",
		BotLanguage:    "source",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if mem.saves != 2 {
		t.Errorf("expected 2 saved translations, got %d", mem.saves)
	}
	forward := memKey(domain.LanguagePair{Source: "hi", Target: "en"}, "नमस्ते")
	if got := mem.entries[forward]; got != "[hi->en] नमस्ते" {
		t.Errorf("forward pivot not remembered, got %q", got)
	}
}

func TestProcess_MemoryFailureIsNotFatal(t *testing.T) {
	tr := &fakeTranslator{}
	gen := &fakeGenerator{reply: "ok"}
	r := newTestRelay(tr, gen, failingMemory{})

	reply, err := r.Process(context.Background(), domain.ChatPayload{
		Text:           "नमस्ते",
		SourceLanguage: "hi",
	})
	if err != nil {
		t.Fatalf("memory faults must not fail the turn: %v", err)
	}
	if reply.ReplyEN != "ok" {
		t.Errorf("unexpected reply %+v", reply)
	}
}

type failingMemory struct{}

func (failingMemory) Lookup(ctx context.Context, pair domain.LanguagePair, text string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func (failingMemory) Save(ctx context.Context, pair domain.LanguagePair, text, translated string) error {
	return errors.New("disk on fire")
}

func (failingMemory) Close() error { return nil }

func TestErrorMessage_UntaggedError(t *testing.T) {
	if got := ErrorMessage(errors.New("boom")); got != "Error: boom" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestStageOf_PlainError(t *testing.T) {
	if _, ok := StageOf(errors.New("boom")); ok {
		t.Error("plain errors must not carry a stage")
	}
}
