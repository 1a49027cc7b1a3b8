package channel

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"babelbot/internal/apperrors"
)

func postTranslate(t *testing.T, s *Server, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	url := "/translate"
	if target != "" {
		url += "?target=" + target
	}
	rr := httptest.NewRecorder()
	s.handleTranslate(rr, httptest.NewRequest("POST", url, bytes.NewBufferString(body)))
	return rr
}

func TestHandleTranslate_Success(t *testing.T) {
	tr := &fakeXlate{}
	s := newTestServer(&fakeProcessor{}, tr)

	rr := postTranslate(t, s, "hi", `{"text":"hello","source_language":"en"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TranslateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Translated != "[en->hi] hello" {
		t.Errorf("unexpected translation %q", resp.Translated)
	}
	if calls := tr.callLog(); len(calls) != 1 || calls[0] != "en->hi" {
		t.Errorf("unexpected translator calls %v", calls)
	}
}

func TestHandleTranslate_DefaultsToEnglishTarget(t *testing.T) {
	tr := &fakeXlate{}
	s := newTestServer(&fakeProcessor{}, tr)

	rr := postTranslate(t, s, "", `{"text":"नमस्ते","source_language":"hi"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if calls := tr.callLog(); len(calls) != 1 || calls[0] != "hi->en" {
		t.Errorf("expected hi->en call, got %v", calls)
	}
}

func TestHandleTranslate_SameLanguageShortCircuits(t *testing.T) {
	tr := &fakeXlate{}
	s := newTestServer(&fakeProcessor{}, tr)

	rr := postTranslate(t, s, "en", `{"text":"hello","source_language":"en"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp TranslateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Translated != "hello" {
		t.Errorf("expected input back unchanged, got %q", resp.Translated)
	}
	if len(tr.callLog()) != 0 {
		t.Errorf("translator must not run for identity requests, got %v", tr.callLog())
	}
}

func TestHandleTranslate_NormalizesCodes(t *testing.T) {
	tr := &fakeXlate{}
	s := newTestServer(&fakeProcessor{}, tr)

	rr := postTranslate(t, s, "HI-IN", `{"text":"hello","source_language":"EN_us"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if calls := tr.callLog(); len(calls) != 1 || calls[0] != "en->hi" {
		t.Errorf("expected normalized en->hi call, got %v", calls)
	}
}

func TestHandleTranslate_InvalidJSON(t *testing.T) {
	s := newTestServer(&fakeProcessor{}, &fakeXlate{})

	rr := postTranslate(t, s, "hi", "not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "not valid JSON") {
		t.Errorf("unexpected detail %s", rr.Body.String())
	}
}

func TestHandleTranslate_EmptyText(t *testing.T) {
	s := newTestServer(&fakeProcessor{}, &fakeXlate{})

	rr := postTranslate(t, s, "hi", `{"text":"   "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleTranslate_BadLanguageCodes(t *testing.T) {
	s := newTestServer(&fakeProcessor{}, &fakeXlate{})

	rr := postTranslate(t, s, "hi", `{"text":"hello","source_language":"english!"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad source, got %d", rr.Code)
	}

	rr = postTranslate(t, s, "12", `{"text":"hello"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad target, got %d", rr.Code)
	}
}

func TestHandleTranslate_UpstreamFailure(t *testing.T) {
	tr := &fakeXlate{err: apperrors.Translation("translation model is still loading", nil)}
	s := newTestServer(&fakeProcessor{}, tr)

	rr := postTranslate(t, s, "hi", `{"text":"hello","source_language":"en"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var resp struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Detail != "Translation failed: translation model is still loading" {
		t.Errorf("unexpected detail %q", resp.Detail)
	}
}

func TestHandleTranslate_UnconfiguredRoute(t *testing.T) {
	tr := &fakeXlate{err: apperrors.Config("no translation model configured for en->de")}
	s := newTestServer(&fakeProcessor{}, tr)

	rr := postTranslate(t, s, "de", `{"text":"hello","source_language":"en"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "no translation model configured for en->de") {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
}
