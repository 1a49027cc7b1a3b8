package translator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"babelbot/internal/apperrors"
	"babelbot/internal/domain"
)

func testPipeline(t *testing.T, handler http.HandlerFunc, token string) (*Pipeline, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPipeline(PipelineConfig{
		Pair:    domain.LanguagePair{Source: "en", Target: "hi"},
		Model:   "Helsinki-NLP/opus-mt-en-hi",
		APIBase: srv.URL,
		Token:   token,
		Client:  srv.Client(),
		Logger:  testLogger(),
	}), srv
}

func TestPipeline_Translate_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq hfRequest

	pipe, _ := testPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`[{"translation_text":"नमस्ते दुनिया"}]`))
	}, "hf_test_token")

	out, err := pipe.Translate(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "नमस्ते दुनिया" {
		t.Fatalf("unexpected translation: %q", out)
	}
	if gotPath != "/models/Helsinki-NLP/opus-mt-en-hi" {
		t.Fatalf("wrong model path: %q", gotPath)
	}
	if gotAuth != "Bearer hf_test_token" {
		t.Fatalf("wrong auth header: %q", gotAuth)
	}
	if gotReq.Inputs != "hello world" {
		t.Fatalf("wrong inputs: %q", gotReq.Inputs)
	}
	if gotReq.Options != nil && gotReq.Options.WaitForModel {
		t.Fatal("plain translate should not wait for model")
	}
}

func TestPipeline_Translate_NoTokenNoAuthHeader(t *testing.T) {
	var gotAuth string
	pipe, _ := testPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[{"translation_text":"x"}]`))
	}, "")

	if _, err := pipe.Translate(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "" {
		t.Fatalf("anonymous calls must not send auth, got %q", gotAuth)
	}
}

func TestPipeline_Translate_APIError(t *testing.T) {
	pipe, _ := testPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal fault"}`))
	}, "")

	_, err := pipe.Translate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error for 500")
	}
	if kind, _ := apperrors.KindOf(err); kind != apperrors.KindTranslation {
		t.Fatalf("expected translation kind, got %q", kind)
	}
}

func TestPipeline_Translate_ModelLoading(t *testing.T) {
	pipe, _ := testPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Model is currently loading","estimated_time":20.0}`))
	}, "")

	_, err := pipe.Translate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error while model loads")
	}
	if apperrors.PublicMessage(err) != "translation model is still loading" {
		t.Fatalf("unexpected message: %q", apperrors.PublicMessage(err))
	}
}

func TestPipeline_Translate_EmptyResult(t *testing.T) {
	pipe, _ := testPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}, "")

	if _, err := pipe.Translate(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for empty result array")
	}
}

func TestPipeline_WarmUp_PollsUntilReady(t *testing.T) {
	var calls atomic.Int32
	var warmReq hfRequest

	pipe, _ := testPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			json.NewDecoder(r.Body).Decode(&warmReq)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"Model is currently loading","estimated_time":0.01}`))
			return
		}
		w.Write([]byte(`[{"translation_text":"hallo"}]`))
	}, "")

	if err := pipe.WarmUp(context.Background()); err != nil {
		t.Fatalf("warm-up: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 503 then 200 = 2 calls, got %d", got)
	}
	if warmReq.Options == nil || !warmReq.Options.WaitForModel {
		t.Fatal("warm-up must ask the API to wait for the model")
	}
}

func TestPipeline_WarmUp_TimesOut(t *testing.T) {
	pipe, _ := testPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Model is currently loading","estimated_time":0.01}`))
	}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := pipe.WarmUp(ctx)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if kind, _ := apperrors.KindOf(err); kind != apperrors.KindTimeout {
		t.Fatalf("expected timeout kind, got %q", kind)
	}
}

func TestPipeline_WarmUp_HardErrorStopsPolling(t *testing.T) {
	var calls atomic.Int32
	pipe, _ := testPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}`))
	}, "")

	err := pipe.WarmUp(context.Background())
	if err == nil {
		t.Fatal("expected error for missing model")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("404 must not be retried, got %d calls", got)
	}
}

func TestEstimatedWait_Clamped(t *testing.T) {
	if got := estimatedWait(0.001); got != warmupPollFloor {
		t.Fatalf("tiny estimate should clamp to floor, got %v", got)
	}
	if got := estimatedWait(600); got != warmupPollCeil {
		t.Fatalf("huge estimate should clamp to ceiling, got %v", got)
	}
	if got := estimatedWait(2); got != 2*time.Second {
		t.Fatalf("normal estimate should pass through, got %v", got)
	}
}
