package views

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/kuralquiz/internal/i18n"
	"github.com/pavelanni/kuralquiz/internal/model"
)

func testContext(t *testing.T, lang, basePath string) context.Context {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	ctx := appI18n.WithLang(appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang)), lang)
	ctx = model.ContextWithBasePath(ctx, basePath)
	return model.ContextWithCSRFToken(ctx, "tok123")
}

func render(t *testing.T, ctx context.Context, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	return buf.String()
}

func testSession(answered, correct bool) model.Session {
	return model.Session{
		Number: 1,
		Total:  2,
		Current: &model.Question{
			Archetype: model.ArchetypeNumber,
			Prompt:    "Which couplet is this?",
			Kural:     "அகர முதல எழுத்தெல்லாம்<br />ஆதி பகவன் முதற்றே உலகு",
			Options:   []string{"1", "<b>2</b>"},
			Correct:   "1",
		},
		Answered:    answered,
		LastCorrect: correct,
	}
}

func TestQuizPage(t *testing.T) {
	cfg := model.QuizConfig{AdvanceDelay: 2500 * time.Millisecond}
	tests := []struct {
		name     string
		session  model.Session
		contains []string
		excludes []string
	}{
		{
			name:    "unanswered",
			session: testSession(false, false),
			contains: []string{
				`action="/kural/quiz/answer"`,
				`name="csrf_token" value="tok123"`,
				`value="&lt;b&gt;2&lt;/b&gt;"`,
				"அகர முதல எழுத்தெல்லாம்<br>ஆதி பகவன் முதற்றே உலகு",
				"Question 1 of 2",
			},
			excludes: []string{"<b>2</b>", "next-form", "setTimeout"},
		},
		{
			name:    "answered wrong",
			session: testSession(true, false),
			contains: []string{
				"Wrong!",
				"Correct answer:",
				`action="/kural/quiz/next"`,
				`data-delay="2500"`,
				"Next question loading in 3 seconds...",
				"setTimeout",
				"Next Question",
			},
			excludes: []string{`action="/kural/quiz/answer"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t, "en", "/kural")
			html := render(t, ctx, QuizPage(tt.session, cfg))
			for _, want := range tt.contains {
				if !strings.Contains(html, want) {
					t.Errorf("missing %q", want)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(html, unwanted) {
					t.Errorf("unexpected %q", unwanted)
				}
			}
		})
	}
}

func TestQuizPageWithoutAutoAdvance(t *testing.T) {
	ctx := testContext(t, "en", "")
	html := render(t, ctx, QuizPage(testSession(true, true), model.QuizConfig{}))
	if !strings.Contains(html, "Correct! Well done!") {
		t.Error("missing correct feedback")
	}
	if strings.Contains(html, "setTimeout") {
		t.Error("auto-advance script rendered with zero delay")
	}
	if !strings.Contains(html, `action="/quiz/next"`) {
		t.Error("next form should use the root path without a base path")
	}
}

func TestLayoutMarksCurrentLanguage(t *testing.T) {
	ctx := testContext(t, "ta", "")
	html := render(t, ctx, IndexPage(3, model.QuizConfig{MaxQuestions: 10, DefaultQuestions: 4, Strategy: "random"}, false))
	for _, want := range []string{
		`<html lang="ta">`,
		`<a href="?lang=ta" aria-current>`,
		`<a href="?lang=en">`,
		`max="10"`,
		`value="4"`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestErrorPageEscapesData(t *testing.T) {
	ctx := testContext(t, "en", "/kural")
	html := render(t, ctx, ErrorPage(400, "ErrInvalidCount", map[string]any{"Max": "<script>"}))
	if strings.Contains(html, "<script>") {
		t.Error("template data was not escaped")
	}
	if !strings.Contains(html, "HTTP 400") {
		t.Error("missing status")
	}
	if !strings.Contains(html, `href="/kural/"`) {
		t.Error("back link should carry the base path")
	}
}

func TestResultPage(t *testing.T) {
	tests := []struct {
		name  string
		score int
		want  []string
	}{
		{"zero", 0, []string{"0/2", "0%", "youtube.com/embed"}},
		{"perfect", 2, []string{"2/2", "100%", "Play Again"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := model.Session{Score: tt.score, Number: 3, Total: 2}
			html := render(t, testContext(t, "en", ""), ResultPage(s))
			for _, want := range tt.want {
				if !strings.Contains(html, want) {
					t.Errorf("missing %q", want)
				}
			}
		})
	}
}
