package channel

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"babelbot/internal/apperrors"
	"babelbot/internal/domain"
	"babelbot/internal/language"
	"babelbot/internal/metrics"
)

const maxTranslateBody = 1 << 20 // 1MB

// TranslateRequest is the POST /translate body.
type TranslateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language,omitempty"`
}

// TranslateResponse is the POST /translate success body.
type TranslateResponse struct {
	Translated string `json:"translated"`
}

// handleTranslate runs a single translation with no reply generation. The
// target language comes from the "target" query parameter, default English.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	metrics.TranslateRequests.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTranslateBody))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	defer r.Body.Close()

	var req TranslateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeDetail(w, http.StatusBadRequest, "text is required")
		return
	}

	source := domain.DefaultLanguage
	if req.SourceLanguage != "" {
		source = language.Normalize(req.SourceLanguage)
		if !language.IsValidCode(source) {
			writeDetail(w, http.StatusBadRequest, "unsupported source_language "+strconv.Quote(req.SourceLanguage))
			return
		}
	}

	target := domain.DefaultLanguage
	if q := r.URL.Query().Get("target"); q != "" {
		target = language.Normalize(q)
		if !language.IsValidCode(target) {
			writeDetail(w, http.StatusBadRequest, "unsupported target "+strconv.Quote(q))
			return
		}
	}

	// Same language in and out is the identity translation.
	if source == target {
		writeJSON(w, http.StatusOK, TranslateResponse{Translated: text})
		return
	}

	translated, err := s.translator.Translate(r.Context(), text, source, target)
	if err != nil {
		s.logger.Error("standalone translation failed",
			"source", source, "target", target, "err", err)
		writeDetail(w, http.StatusInternalServerError, "Translation failed: "+apperrors.PublicMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, TranslateResponse{Translated: translated})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
