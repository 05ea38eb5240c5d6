package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/cors"

	"github.com/pavelanni/kuralquiz/internal/corpus"
	"github.com/pavelanni/kuralquiz/internal/model"
	"github.com/pavelanni/kuralquiz/internal/quiz"
)

// corsMiddleware allows the configured origins to call the JSON API.
// Without configured origins the API is same-origin only.
func (h *Handler) corsMiddleware() func(http.Handler) http.Handler {
	if len(h.config.CORSOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: h.config.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Length"},
		MaxAge:         300,
	})
}

type apiQuestion struct {
	model.Question
	Lines    []string `json:"lines"`
	Strategy string   `json:"strategy"`
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// handleAPIQuestion returns one question as JSON. ?number= picks the record,
// ?archetype= the question type; both default to random.
func (h *Handler) handleAPIQuestion(w http.ResponseWriter, r *http.Request) {
	archetype, err := quiz.ParseArchetype(r.URL.Query().Get("archetype"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{err.Error()})
		return
	}

	var (
		q   model.Question
		rec model.Record
	)
	if raw := r.URL.Query().Get("number"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{"number must be an integer"})
			return
		}
		rec, err = h.corpus.ByNumber(n)
		if err != nil {
			writeJSON(w, http.StatusNotFound, apiError{err.Error()})
			return
		}
		q, err = h.generate(r.Context(), rec, archetype)
	} else if archetype != "" {
		rec, err = h.corpus.Random(nil)
		if err == nil {
			q, err = h.generate(r.Context(), rec, archetype)
		}
	} else {
		q, err = h.nextQuestion(r.Context())
	}

	switch {
	case err == nil:
	case errors.Is(err, quiz.ErrEmbeddingUnavailable):
		slog.Error("api question", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, apiError{"embeddings unavailable"})
		return
	case errors.Is(err, quiz.ErrNoValidQuestion):
		writeJSON(w, http.StatusUnprocessableEntity, apiError{err.Error()})
		return
	default:
		slog.Error("api question", "error", err)
		writeJSON(w, http.StatusInternalServerError, apiError{"internal error"})
		return
	}

	writeJSON(w, http.StatusOK, apiQuestion{
		Question: q,
		Lines:    model.Record{Kural: q.Kural}.Lines(),
		Strategy: h.config.Strategy,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	state := "ok"
	if h.corpus.Len() == 0 {
		status = http.StatusServiceUnavailable
		state = corpus.ErrNotLoaded.Error()
	}
	writeJSON(w, status, map[string]any{
		"status":   state,
		"records":  h.corpus.Len(),
		"sessions": h.sessions.Len(),
		"strategy": h.config.Strategy,
	})
}
