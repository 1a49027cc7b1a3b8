// Package relay runs the chat turn pipeline: pivot the inbound text to
// English, generate a reply, and pivot the reply back to the requested
// language. Errors carry the stage they escaped from so channels can report
// them per stage without closing the conversation.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"babelbot/internal/apperrors"
	"babelbot/internal/domain"
	"babelbot/internal/language"
	"babelbot/internal/metrics"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageParse     Stage = "parse"
	StageTranslate Stage = "translate"
	StageGenerate  Stage = "generate"
	StageReverse   Stage = "reverse"
)

// StageError tags an error with the pipeline stage it escaped from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + " stage: " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// StageOf extracts the stage tag from an error chain.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// ErrorMessage renders a pipeline error as the text a channel sends back to
// the user. The wording per stage is part of the wire contract.
func ErrorMessage(err error) string {
	msg := apperrors.PublicMessage(err)
	stage, _ := StageOf(err)
	switch stage {
	case StageParse:
		return "Invalid payload: " + msg
	case StageTranslate:
		return "Translation failed: " + msg
	case StageGenerate:
		return "LLM call failed: " + msg
	case StageReverse:
		return "Reverse translation failed: " + msg
	default:
		return "Error: " + msg
	}
}

// Relay wires a translator, a generator, and an optional translation memory
// into the turn pipeline. Safe for concurrent use.
type Relay struct {
	translator domain.Translator
	generator  domain.Generator
	memory     domain.TranslationMemory
	logger     *slog.Logger

	translateTimeout time.Duration
	generateTimeout  time.Duration
}

type Config struct {
	Translator domain.Translator
	Generator  domain.Generator
	// Memory is optional; nil disables the translation memory.
	Memory domain.TranslationMemory
	Logger *slog.Logger

	TranslateTimeout time.Duration
	GenerateTimeout  time.Duration
}

func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TranslateTimeout <= 0 {
		cfg.TranslateTimeout = 30 * time.Second
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 60 * time.Second
	}
	return &Relay{
		translator:       cfg.Translator,
		generator:        cfg.Generator,
		memory:           cfg.Memory,
		logger:           cfg.Logger,
		translateTimeout: cfg.TranslateTimeout,
		generateTimeout:  cfg.GenerateTimeout,
	}
}

// request is a payload after normalization. source and target are lowercase
// base codes; target has the "source" alias already resolved.
type request struct {
	text   string
	source string
	target string
}

// Process runs one chat turn. The returned error is always stage-tagged;
// callers render it with ErrorMessage and keep the connection open.
func (r *Relay) Process(ctx context.Context, payload domain.ChatPayload) (domain.Reply, error) {
	metrics.MessagesTotal.Inc()
	start := time.Now()

	req, err := normalize(payload)
	if err != nil {
		metrics.StageFailures(string(StageParse)).Inc()
		return domain.Reply{}, err
	}

	english := req.text
	if req.source != domain.DefaultLanguage {
		pair := domain.LanguagePair{Source: req.source, Target: domain.DefaultLanguage}
		english, err = r.translateStage(ctx, StageTranslate, pair, req.text)
		if err != nil {
			return domain.Reply{}, err
		}
	}

	replyEN, err := r.generateStage(ctx, english)
	if err != nil {
		return domain.Reply{}, err
	}

	reply := replyEN
	if req.target != domain.DefaultLanguage {
		pair := domain.LanguagePair{Source: domain.DefaultLanguage, Target: req.target}
		reply, err = r.translateStage(ctx, StageReverse, pair, replyEN)
		if err != nil {
			return domain.Reply{}, err
		}
	}

	metrics.RepliesTotal.Inc()
	r.logger.Debug("chat turn complete",
		"source", req.source, "target", req.target,
		"took", time.Since(start).Round(time.Millisecond))

	return domain.Reply{
		Reply:          reply,
		ReplyEN:        replyEN,
		DetectedSource: req.source,
	}, nil
}

// normalize applies defaults and validates the payload. Language checks here
// are purely syntactic; whether a route is configured is decided by the
// translator when a stage actually needs it.
func normalize(p domain.ChatPayload) (request, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return request{}, stageErr(StageParse, apperrors.Parse("text must not be empty"))
	}

	source := domain.DefaultLanguage
	if p.SourceLanguage != "" {
		source = language.Normalize(p.SourceLanguage)
		if !language.IsValidCode(source) {
			return request{}, stageErr(StageParse,
				apperrors.Parse("unsupported source_language "+strconv.Quote(p.SourceLanguage)))
		}
	}

	target := domain.DefaultLanguage
	switch p.BotLanguage {
	case "":
	case domain.BotLanguageSource:
		target = source
	default:
		target = language.Normalize(p.BotLanguage)
		if !language.IsValidCode(target) {
			return request{}, stageErr(StageParse,
				apperrors.Parse("unsupported bot_language "+strconv.Quote(p.BotLanguage)))
		}
	}

	return request{text: text, source: source, target: target}, nil
}

// translateStage pivots text across one route, consulting the translation
// memory before and feeding it after a successful call.
func (r *Relay) translateStage(ctx context.Context, stage Stage, pair domain.LanguagePair, text string) (string, error) {
	if r.memory != nil {
		cached, ok, err := r.memory.Lookup(ctx, pair, text)
		switch {
		case err != nil:
			r.logger.Warn("translation memory lookup failed", "pair", pair.Key(), "err", err)
		case ok:
			metrics.MemoryHits.Inc()
			return cached, nil
		default:
			metrics.MemoryMisses.Inc()
		}
	}

	stageCtx, cancel := context.WithTimeout(ctx, r.translateTimeout)
	defer cancel()

	start := time.Now()
	out, err := r.translator.Translate(stageCtx, text, pair.Source, pair.Target)
	metrics.StageLatency(string(stage)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StageFailures(string(stage)).Inc()
		return "", stageErr(stage, err)
	}

	if r.memory != nil {
		if err := r.memory.Save(ctx, pair, text, out); err != nil {
			r.logger.Warn("translation memory save failed", "pair", pair.Key(), "err", err)
		}
	}
	return out, nil
}

func (r *Relay) generateStage(ctx context.Context, text string) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, r.generateTimeout)
	defer cancel()

	start := time.Now()
	out, err := r.generator.Generate(stageCtx, text)
	metrics.StageLatency(string(StageGenerate)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StageFailures(string(StageGenerate)).Inc()
		return "", stageErr(StageGenerate, err)
	}
	return out, nil
}
