package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/kuralquiz/internal/corpus"
	"github.com/pavelanni/kuralquiz/internal/handler/views"
	"github.com/pavelanni/kuralquiz/internal/model"
	"github.com/pavelanni/kuralquiz/internal/quiz"
	"github.com/pavelanni/kuralquiz/internal/session"
)

const (
	sessionCookieName = "quiz_session"

	// Records tried before giving up on building a question.
	maxRecordAttempts = 5
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	corpus   *corpus.Store
	gen      *quiz.Generator
	fallback *quiz.Generator // random distractors when embeddings fail; nil if disabled
	sessions *session.Manager
	config   model.QuizConfig
}

// New creates a new Handler. The corpus must already be loaded.
func New(c *corpus.Store, gen *quiz.Generator, sessions *session.Manager, cfg model.QuizConfig) (*Handler, error) {
	if c.Len() == 0 {
		return nil, corpus.ErrNotLoaded
	}
	if cfg.MaxQuestions <= 0 {
		return nil, fmt.Errorf("max questions must be positive, got %d", cfg.MaxQuestions)
	}
	if cfg.Distractors < 1 {
		return nil, fmt.Errorf("distractors must be at least 1, got %d", cfg.Distractors)
	}
	if cfg.DefaultQuestions < 1 || cfg.DefaultQuestions > cfg.MaxQuestions {
		cfg.DefaultQuestions = min(5, cfg.MaxQuestions)
	}
	cfg.Strategy = gen.Strategy().Name()

	h := &Handler{corpus: c, gen: gen, sessions: sessions, config: cfg}
	if cfg.FallbackRandom && cfg.Strategy != quiz.StrategyRandom {
		h.fallback = quiz.NewGenerator(
			quiz.NewRandomStrategy(nil),
			quiz.WithDistractors(cfg.Distractors),
			quiz.WithMenu(gen.Menu()),
		)
	}
	return h, nil
}

// Mount registers the routes on r, under the configured base path if any.
func (h *Handler) Mount(r chi.Router) {
	basePath := h.config.BasePath
	if basePath == "" {
		r.Group(func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		return
	}
	r.Route(basePath, func(sub chi.Router) {
		sub.Use(h.BasePathMiddleware)
		h.Routes(sub)
	})
	r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
	})
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	api := r.With(h.corsMiddleware())
	api.Get("/api/question", h.handleAPIQuestion)
	api.Options("/api/question", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/", h.handleIndex)
		r.Post("/quiz/start", h.handleStart)
		r.Get("/quiz", h.handleQuizPage)
		r.Post("/quiz/answer", h.handleAnswer)
		r.Post("/quiz/next", h.handleNext)
		r.Get("/quiz/result", h.handleResult)
		r.Post("/quiz/restart", h.handleRestart)
	})
}

// BasePathMiddleware makes the base path available to the views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

// CookiePath is the path every cookie set by the application is scoped to.
func (h *Handler) CookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	h.render(w, r, status, views.ErrorPage(status, msgID, data))
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, p string) {
	http.Redirect(w, r, h.path(p), http.StatusSeeOther)
}

// sessionID returns the quiz session named by the request cookie, if it is still registered.
func (h *Handler) sessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	if _, err := h.sessions.View(cookie.Value); err != nil {
		return "", false
	}
	return cookie.Value, true
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     h.CookiePath(),
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	resume := false
	if id, ok := h.sessionID(r); ok {
		if s, err := h.sessions.View(id); err == nil && s.Active() {
			resume = true
		}
	}
	h.render(w, r, http.StatusOK, views.IndexPage(h.corpus.Len(), h.config, resume))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	total, err := strconv.Atoi(strings.TrimSpace(r.FormValue("total")))
	if err != nil || total < 1 || total > h.config.MaxQuestions {
		h.renderError(w, r, http.StatusBadRequest, "ErrInvalidCount", map[string]any{"Max": h.config.MaxQuestions})
		return
	}

	q, err := h.nextQuestion(r.Context())
	if err != nil {
		h.questionError(w, r, err)
		return
	}

	id, ok := h.sessionID(r)
	if !ok {
		id = h.sessions.Create()
		h.setSessionCookie(w, id)
	}
	if _, err := h.sessions.Update(id, func(s *model.Session) error {
		return s.Start(total, q)
	}); err != nil {
		slog.Error("start quiz", "session", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("quiz started", "session", id, "total", total, "archetype", q.Archetype)
	h.redirect(w, r, "/quiz")
}

func (h *Handler) handleQuizPage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(r)
	if !ok {
		h.redirect(w, r, "/")
		return
	}
	s, err := h.sessions.View(id)
	if err != nil {
		h.redirect(w, r, "/")
		return
	}
	switch {
	case s.Finished():
		h.redirect(w, r, "/quiz/result")
	case !s.Active() || s.Current == nil:
		h.redirect(w, r, "/")
	default:
		h.render(w, r, http.StatusOK, views.QuizPage(s, h.config))
	}
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(r)
	if !ok {
		h.renderError(w, r, http.StatusConflict, "ErrNoQuiz", nil)
		return
	}
	answer := r.FormValue("answer")
	if strings.TrimSpace(answer) == "" {
		h.renderError(w, r, http.StatusBadRequest, "ErrChooseOption", nil)
		return
	}

	var correct bool
	s, err := h.sessions.Update(id, func(s *model.Session) error {
		var err error
		correct, err = s.Submit(answer)
		return err
	})
	switch {
	case err == nil:
		slog.Debug("answer graded", "session", id, "number", s.Number, "correct", correct)
		h.redirect(w, r, "/quiz")
	case errors.Is(err, model.ErrAlreadyAnswered):
		slog.Debug("duplicate answer ignored", "session", id, "number", s.Number)
		h.redirect(w, r, "/quiz")
	case errors.Is(err, model.ErrSessionFinished):
		h.redirect(w, r, "/quiz/result")
	default:
		h.renderError(w, r, http.StatusConflict, "ErrNoQuiz", nil)
	}
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(r)
	if !ok {
		h.renderError(w, r, http.StatusConflict, "ErrNoQuiz", nil)
		return
	}
	s, err := h.sessions.View(id)
	if err != nil || !s.Active() {
		h.renderError(w, r, http.StatusConflict, "ErrNoQuiz", nil)
		return
	}
	if !s.Answered {
		h.redirect(w, r, "/quiz")
		return
	}

	var next *model.Question
	if s.HasNext() {
		q, err := h.nextQuestion(r.Context())
		if err != nil {
			h.questionError(w, r, err)
			return
		}
		next = &q
	}

	s, err = h.sessions.Update(id, func(s *model.Session) error {
		return s.Advance(next)
	})
	// ErrNotAnswered and ErrSessionFinished mean a concurrent request advanced first.
	if err != nil && !errors.Is(err, model.ErrNotAnswered) && !errors.Is(err, model.ErrSessionFinished) {
		slog.Error("advance quiz", "session", id, "error", err)
		h.redirect(w, r, "/")
		return
	}
	if s.Finished() {
		slog.Info("quiz finished", "session", id, "score", s.Score, "total", s.Total)
		h.redirect(w, r, "/quiz/result")
		return
	}
	h.redirect(w, r, "/quiz")
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(r)
	if !ok {
		h.redirect(w, r, "/")
		return
	}
	s, err := h.sessions.View(id)
	if err != nil || !s.Finished() {
		h.redirect(w, r, "/quiz")
		return
	}
	h.render(w, r, http.StatusOK, views.ResultPage(s))
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.sessionID(r); ok {
		_, _ = h.sessions.Update(id, func(s *model.Session) error {
			s.Reset()
			return nil
		})
	}
	h.redirect(w, r, "/")
}

// nextQuestion builds a question about a random record, moving to another
// record when one cannot yield a question.
func (h *Handler) nextQuestion(ctx context.Context) (model.Question, error) {
	var lastErr error
	for attempt := 0; attempt < maxRecordAttempts; attempt++ {
		rec, err := h.corpus.Random(nil)
		if err != nil {
			return model.Question{}, err
		}
		q, err := h.generate(ctx, rec, "")
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, quiz.ErrNoValidQuestion) {
			return model.Question{}, err
		}
		lastErr = err
	}
	return model.Question{}, lastErr
}

// generate applies the fallback policy around the configured generator.
func (h *Handler) generate(ctx context.Context, rec model.Record, archetype model.Archetype) (model.Question, error) {
	q, err := h.gen.Generate(ctx, h.corpus.All(), rec, archetype)
	if err != nil && h.fallback != nil && errors.Is(err, quiz.ErrEmbeddingUnavailable) {
		slog.Warn("embeddings unavailable, using random distractors", "kural", rec.Number, "error", err)
		return h.fallback.Generate(ctx, h.corpus.All(), rec, archetype)
	}
	return q, err
}

func (h *Handler) questionError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, quiz.ErrEmbeddingUnavailable) {
		status = http.StatusServiceUnavailable
	}
	slog.Error("generate question", "error", err, "status", status)
	h.renderError(w, r, status, "ErrQuestionUnavailable", nil)
}
