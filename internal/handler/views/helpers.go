// Package views renders the quiz pages as templ components.
package views

import (
	"context"
	"math"
	"strconv"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/kuralquiz/internal/i18n"
	"github.com/pavelanni/kuralquiz/internal/model"
)

// link prefixes an absolute application path with the deployment base path.
func link(ctx context.Context, path string) templ.SafeURL {
	return templ.SafeURL(model.BasePathFromContext(ctx) + path)
}

func languageCodes() []string {
	tags := appI18n.Languages()
	codes := make([]string, len(tags))
	for i, t := range tags {
		codes[i] = t.String()
	}
	return codes
}

func languageName(code string) string {
	switch code {
	case "ta":
		return "தமிழ்"
	case "en":
		return "English"
	default:
		return code
	}
}

func pageTitle(ctx context.Context, title string) string {
	if title == "" {
		return appI18n.T(ctx, "AppTitle")
	}
	return title + " · " + appI18n.T(ctx, "AppTitle")
}

// prompt localizes the question prompt, falling back to the generated English text.
func prompt(ctx context.Context, q *model.Question) string {
	id := "Prompt_" + string(q.Archetype)
	if !appI18n.Has(ctx, id) {
		return q.Prompt
	}
	return appI18n.Td(ctx, id, map[string]any{"Word": q.Word})
}

func kuralLines(text string) []string {
	return model.Record{Kural: text}.Lines()
}

func advanceSeconds(cfg model.QuizConfig) int {
	return int(math.Ceil(cfg.AdvanceDelay.Seconds()))
}

func advanceMillis(cfg model.QuizConfig) string {
	return strconv.FormatInt(cfg.AdvanceDelay.Milliseconds(), 10)
}

func scoreText(s model.Session) string {
	return strconv.Itoa(s.Score) + "/" + strconv.Itoa(s.Total)
}
