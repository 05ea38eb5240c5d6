package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/kuralquiz/internal/corpus"
	appI18n "github.com/pavelanni/kuralquiz/internal/i18n"
	"github.com/pavelanni/kuralquiz/internal/model"
	"github.com/pavelanni/kuralquiz/internal/quiz"
	"github.com/pavelanni/kuralquiz/internal/session"
)

type staticSource []model.Record

func (s staticSource) String() string { return "static" }

func (s staticSource) Fetch(context.Context) ([]model.Record, error) { return s, nil }

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

func testCorpus(t *testing.T) *corpus.Store {
	t.Helper()
	paals := []string{"அறத்துப்பால்", "பொருட்பால்", "காமத்துப்பால்"}
	records := make([]model.Record, 12)
	for i := range records {
		n := i + 1
		records[i] = model.Record{
			Number:        n,
			Kural:         fmt.Sprintf("குறள் %d முதல் அடி<br />இரண்டாம் அடி %d", n, n),
			Couplet:       fmt.Sprintf("Couplet %d", n),
			Vilakam:       fmt.Sprintf("விளக்கம் %d", n),
			KalaingarUrai: fmt.Sprintf("உரை %d", n),
			Paal:          paals[i%3],
			Iyal:          fmt.Sprintf("இயல் %d", i%4),
			Adhigaram:     fmt.Sprintf("அதிகாரம் %d", i%6),
		}
	}
	c := corpus.New(staticSource(records))
	if _, err := c.Load(context.Background()); err != nil {
		t.Fatalf("load corpus: %v", err)
	}
	return c
}

func testConfig() model.QuizConfig {
	return model.QuizConfig{
		Distractors:      3,
		MaxQuestions:     20,
		DefaultQuestions: 5,
		AdvanceDelay:     3 * time.Second,
	}
}

func newTestServer(t *testing.T, strategy quiz.DistractorStrategy, cfg model.QuizConfig) (*Handler, *httptest.Server) {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("init i18n: %v", err)
	}
	gen := quiz.NewGenerator(strategy, quiz.WithRand(rand.New(rand.NewPCG(1, 2))))
	h, err := New(testCorpus(t), gen, session.NewManager(time.Hour), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en", appI18n.WithCookiePath(h.CookiePath())))
	h.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return h, srv
}

type browser struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
}

func newBrowser(t *testing.T, srv *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &browser{t: t, srv: srv, client: &http.Client{Jar: jar}}
}

func (b *browser) cookie(path, name string) string {
	u, _ := url.Parse(b.srv.URL + path)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Get(b.srv.URL + path)
	if err != nil {
		b.t.Fatalf("GET %s: %v", path, err)
	}
	return resp, readBody(b.t, resp)
}

// post submits a form with the current CSRF token, following redirects.
func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	if form.Get("csrf_token") == "" {
		form.Set("csrf_token", b.cookie(path, csrfCookieName))
	}
	resp, err := b.client.PostForm(b.srv.URL+path, form)
	if err != nil {
		b.t.Fatalf("POST %s: %v", path, err)
	}
	return resp, readBody(b.t, resp)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func (b *browser) session(h *Handler) model.Session {
	b.t.Helper()
	s, err := h.sessions.View(b.cookie("/", sessionCookieName))
	if err != nil {
		b.t.Fatalf("session: %v", err)
	}
	return s
}

func mustContain(t *testing.T, body string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Errorf("body does not contain %q", w)
		}
	}
}

func TestQuizFlow(t *testing.T) {
	h, srv := newTestServer(t, quiz.NewRandomStrategy(rand.New(rand.NewPCG(3, 4))), testConfig())
	b := newBrowser(t, srv)

	resp, body := b.get("/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index status %d", resp.StatusCode)
	}
	mustContain(t, body, "Start your Quiz", `max="20"`, `value="5"`, "12 couplets loaded.")

	resp, body = b.post("/quiz/start", url.Values{"total": {"2"}})
	if resp.StatusCode != http.StatusOK || resp.Request.URL.Path != "/quiz" {
		t.Fatalf("start landed on %s with %d", resp.Request.URL.Path, resp.StatusCode)
	}
	mustContain(t, body, "Question 1 of 2", `class="kural"`, "Submit Answer")

	s := b.session(h)
	if s.Total != 2 || s.Number != 1 || s.Current == nil {
		t.Fatalf("unexpected session after start: %+v", s)
	}

	_, body = b.post("/quiz/answer", url.Values{"answer": {s.Current.Correct}})
	mustContain(t, body, "Correct! Well done!", "Next question loading in 3 seconds...", "setTimeout", "Next Question")

	// A second submission for the same question is ignored.
	b.post("/quiz/answer", url.Values{"answer": {s.Current.Correct}})
	if s = b.session(h); s.Score != 1 {
		t.Fatalf("score after double submit = %d, want 1", s.Score)
	}

	_, body = b.post("/quiz/next", nil)
	mustContain(t, body, "Question 2 of 2", "Score: 1/1")

	s = b.session(h)
	var wrong string
	for _, o := range s.Current.Options {
		if o != s.Current.Correct {
			wrong = o
			break
		}
	}
	_, body = b.post("/quiz/answer", url.Values{"answer": {wrong}})
	mustContain(t, body, "Wrong!", "Correct answer:", "See Results")

	resp, body = b.post("/quiz/next", nil)
	if resp.Request.URL.Path != "/quiz/result" {
		t.Fatalf("expected result page, got %s", resp.Request.URL.Path)
	}
	mustContain(t, body, "Quiz Completed!", "1/2", "50%", "Keep Learning!", "Great start!", "Play Again")

	// The quiz page sends a finished session to its result.
	resp, _ = b.get("/quiz")
	if resp.Request.URL.Path != "/quiz/result" {
		t.Errorf("GET /quiz after finish landed on %s", resp.Request.URL.Path)
	}

	resp, body = b.post("/quiz/restart", nil)
	if resp.Request.URL.Path != "/" {
		t.Fatalf("restart landed on %s", resp.Request.URL.Path)
	}
	mustContain(t, body, "Start your Quiz")
	if s = b.session(h); s.Total != 0 || s.Score != 0 {
		t.Errorf("restart kept progress: %+v", s)
	}
}

func TestZeroScoreShowsMeme(t *testing.T) {
	h, srv := newTestServer(t, quiz.NewRandomStrategy(nil), testConfig())
	b := newBrowser(t, srv)

	b.get("/")
	b.post("/quiz/start", url.Values{"total": {"1"}})
	s := b.session(h)
	for _, o := range s.Current.Options {
		if o != s.Current.Correct {
			b.post("/quiz/answer", url.Values{"answer": {o}})
			break
		}
	}
	_, body := b.post("/quiz/next", nil)
	mustContain(t, body, "0/1", "0%", "Oops, no points!", "youtube.com/embed")
}

func TestStartRejectsInvalidCount(t *testing.T) {
	_, srv := newTestServer(t, quiz.NewRandomStrategy(nil), testConfig())

	for _, total := range []string{"0", "21", "-3", "five", ""} {
		t.Run(total, func(t *testing.T) {
			b := newBrowser(t, srv)
			b.get("/")
			resp, body := b.post("/quiz/start", url.Values{"total": {total}})
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status %d, want 400", resp.StatusCode)
			}
			mustContain(t, body, "Please choose between 1 and 20 questions.")
		})
	}
}

func TestCSRFRequired(t *testing.T) {
	_, srv := newTestServer(t, quiz.NewRandomStrategy(nil), testConfig())
	b := newBrowser(t, srv)
	b.get("/")

	tests := []struct {
		name  string
		token string
	}{
		{"wrong token", "not-the-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := b.post("/quiz/start", url.Values{"total": {"3"}, "csrf_token": {tt.token}})
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("status %d, want 403", resp.StatusCode)
			}
		})
	}

	// No cookie at all.
	resp, err := http.PostForm(srv.URL+"/quiz/start", url.Values{"total": {"3"}, "csrf_token": {"x"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status %d without cookie, want 403", resp.StatusCode)
	}
}

func TestPagesWithoutSession(t *testing.T) {
	_, srv := newTestServer(t, quiz.NewRandomStrategy(nil), testConfig())

	for _, path := range []string{"/quiz", "/quiz/result"} {
		b := newBrowser(t, srv)
		resp, body := b.get(path)
		if resp.Request.URL.Path != "/" {
			t.Errorf("GET %s landed on %s", path, resp.Request.URL.Path)
		}
		mustContain(t, body, "Start your Quiz")
	}

	for _, path := range []string{"/quiz/answer", "/quiz/next"} {
		b := newBrowser(t, srv)
		b.get("/")
		resp, body := b.post(path, url.Values{"answer": {"x"}})
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("POST %s status %d, want 409", path, resp.StatusCode)
		}
		mustContain(t, body, "There is no quiz in progress.")
	}
}

func TestAnswerAfterRestart(t *testing.T) {
	h, srv := newTestServer(t, quiz.NewRandomStrategy(nil), testConfig())
	b := newBrowser(t, srv)
	b.get("/")
	b.post("/quiz/start", url.Values{"total": {"2"}})
	correct := b.session(h).Current.Correct
	b.post("/quiz/restart", nil)

	resp, body := b.post("/quiz/answer", url.Values{"answer": {correct}})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status %d, want 409", resp.StatusCode)
	}
	mustContain(t, body, "There is no quiz in progress.")
	if s := b.session(h); s.Score != 0 {
		t.Errorf("answer after restart was graded: %+v", s)
	}
}

func TestSemanticFallback(t *testing.T) {
	semantic := quiz.NewSemanticStrategy(failingEmbedder{})

	t.Run("disabled", func(t *testing.T) {
		_, srv := newTestServer(t, semantic, testConfig())
		b := newBrowser(t, srv)
		b.get("/")
		resp, body := b.post("/quiz/start", url.Values{"total": {"3"}})
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("status %d, want 503", resp.StatusCode)
		}
		mustContain(t, body, "Questions cannot be generated right now.")
	})

	t.Run("enabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.FallbackRandom = true
		h, srv := newTestServer(t, semantic, cfg)
		b := newBrowser(t, srv)
		b.get("/")
		resp, body := b.post("/quiz/start", url.Values{"total": {"3"}})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d, want 200", resp.StatusCode)
		}
		mustContain(t, body, "Question 1 of 3")
		s := b.session(h)
		if !s.Active() || len(s.Current.Options) < 2 {
			t.Errorf("unexpected session: %+v", s)
		}
	})
}

func TestAPIQuestion(t *testing.T) {
	_, srv := newTestServer(t, quiz.NewRandomStrategy(nil), testConfig())

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"random", "", http.StatusOK},
		{"by number and archetype", "?number=3&archetype=paal", http.StatusOK},
		{"archetype only", "?archetype=number", http.StatusOK},
		{"unknown archetype", "?archetype=riddle", http.StatusBadRequest},
		{"bad number", "?number=abc", http.StatusBadRequest},
		{"missing number", "?number=999", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/question" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var q struct {
				Archetype    string   `json:"archetype"`
				RecordNumber int      `json:"record_number"`
				Options      []string `json:"options"`
				Correct      string   `json:"correct"`
				Lines        []string `json:"lines"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
				t.Fatalf("decode: %v", err)
			}
			found := false
			for _, o := range q.Options {
				found = found || o == q.Correct
			}
			if !found || len(q.Options) < 2 || len(q.Lines) != 2 {
				t.Errorf("malformed question: %+v", q)
			}
			if tt.query == "?number=3&archetype=paal" && (q.RecordNumber != 3 || q.Archetype != "paal" || q.Correct != "காமத்துப்பால்") {
				t.Errorf("wrong question: %+v", q)
			}
		})
	}
}

func TestAPICORS(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigins = []string{"https://kural.example.org"}
	_, srv := newTestServer(t, quiz.NewRandomStrategy(nil), cfg)

	tests := []struct {
		origin string
		want   string
	}{
		{"https://kural.example.org", "https://kural.example.org"},
		{"https://evil.example.com", ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/question", nil)
		req.Header.Set("Origin", tt.origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: Access-Control-Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t, quiz.NewRandomStrategy(nil), testConfig())
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Status   string `json:"status"`
		Records  int    `json:"records"`
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" || body.Records != 12 || body.Strategy != "random" {
		t.Errorf("unexpected health: %d %+v", resp.StatusCode, body)
	}
}

func TestBasePath(t *testing.T) {
	cfg := testConfig()
	cfg.BasePath = "/kural"
	h, srv := newTestServer(t, quiz.NewRandomStrategy(nil), cfg)
	b := newBrowser(t, srv)

	resp, body := b.get("/kural")
	if resp.Request.URL.Path != "/kural/" {
		t.Fatalf("base path redirect landed on %s", resp.Request.URL.Path)
	}
	mustContain(t, body, `action="/kural/quiz/start"`)

	resp, body = b.post("/kural/quiz/start", url.Values{"total": {"1"}})
	if resp.Request.URL.Path != "/kural/quiz" {
		t.Fatalf("start landed on %s", resp.Request.URL.Path)
	}
	mustContain(t, body, `action="/kural/quiz/answer"`)
	b.get("/kural/?lang=ta")
	if got := b.cookie("/kural/", "lang"); got != "ta" {
		t.Errorf("lang cookie under base path = %q, want ta", got)
	}
	if got := b.cookie("/", "lang"); got != "" {
		t.Errorf("lang cookie leaked outside base path: %q", got)
	}
	if id := b.cookie("/kural/", sessionCookieName); id == "" {
		t.Error("session cookie not scoped to base path")
	} else if _, err := h.sessions.View(id); err != nil {
		t.Errorf("session lookup: %v", err)
	}
}

func TestTamilUI(t *testing.T) {
	_, srv := newTestServer(t, quiz.NewRandomStrategy(nil), testConfig())
	b := newBrowser(t, srv)

	_, body := b.get("/?lang=ta")
	mustContain(t, body, `lang="ta"`, "திருக்குறள் வினாடி வினா")

	// The choice sticks through the cookie.
	_, body = b.get("/")
	mustContain(t, body, "வினாடி வினாவைத் தொடங்குங்கள்")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	c := testCorpus(t)
	gen := quiz.NewGenerator(quiz.NewRandomStrategy(nil))

	tests := []struct {
		name   string
		mutate func(*model.QuizConfig)
	}{
		{"zero distractors", func(cfg *model.QuizConfig) { cfg.Distractors = 0 }},
		{"negative distractors", func(cfg *model.QuizConfig) { cfg.Distractors = -2 }},
		{"zero max questions", func(cfg *model.QuizConfig) { cfg.MaxQuestions = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := New(c, gen, session.NewManager(time.Hour), cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestNewRequiresLoadedCorpus(t *testing.T) {
	empty := corpus.New(staticSource(nil))
	gen := quiz.NewGenerator(quiz.NewRandomStrategy(nil))
	if _, err := New(empty, gen, session.NewManager(time.Hour), testConfig()); !errors.Is(err, corpus.ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded, got %v", err)
	}
}
