package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavelanni/kuralquiz/internal/model"
	"github.com/pavelanni/kuralquiz/internal/quiz"
)

func TestNormalizeBasePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/", ""},
		{"kural", "/kural"},
		{"/kural/", "/kural"},
		{" /ta ", "/ta"},
	}
	for _, tt := range tests {
		if got := normalizeBasePath(tt.in); got != tt.want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRootDefaultsToServe(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"addr", "corpus", "strategy", "distractors", "embed-url", "env-file"} {
		if root.Flags().Lookup(name) == nil {
			t.Errorf("root is missing serve flag %q", name)
		}
	}
	for _, sub := range []string{"serve", "fetch", "warm"} {
		if c, _, err := root.Find([]string{sub}); err != nil || c.Name() != sub {
			t.Errorf("subcommand %q not registered", sub)
		}
	}
}

func TestViperReadsEnv(t *testing.T) {
	t.Setenv("KURALQUIZ_MAX_QUESTIONS", "12")
	t.Setenv("KURALQUIZ_STRATEGY", "semantic")

	cmd := serveCmd()
	v := viperForCmd(cmd)
	if got := v.GetInt("max-questions"); got != 12 {
		t.Errorf("max-questions = %d, want 12", got)
	}
	if got := v.GetString("strategy"); got != quiz.StrategySemantic {
		t.Errorf("strategy = %q, want semantic", got)
	}
	if got := v.GetInt("distractors"); got != quiz.DefaultDistractors {
		t.Errorf("distractors = %d, want default", got)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("KURALQUIZ_TEST_ENV_FILE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("KURALQUIZ_TEST_ENV_FILE") })

	cmd := serveCmd()
	_ = cmd.Flags().Set("env-file", path)
	if err := loadEnvFile(cmd); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("KURALQUIZ_TEST_ENV_FILE"); got != "from-file" {
		t.Errorf("env var = %q, want from-file", got)
	}

	_ = cmd.Flags().Set("env-file", filepath.Join(dir, "missing.env"))
	if err := loadEnvFile(cmd); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
}

type recordingEmbedder struct {
	calls [][]string
	err   error
}

func (e *recordingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.calls = append(e.calls, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func warmRecords() []model.Record {
	return []model.Record{
		{Number: 1, Vilakam: "v1", Adhigaram: "a1"},
		{Number: 2, Vilakam: "v2", Adhigaram: "a1"},
		{Number: 3, Vilakam: "v3", Adhigaram: "a2"},
	}
}

func TestWarmEmbeddings(t *testing.T) {
	emb := &recordingEmbedder{}
	menu := []model.Archetype{model.ArchetypeMeaning, model.ArchetypeWordContext, model.ArchetypeAdhigaram, model.ArchetypeNumber}

	n, err := warmEmbeddings(context.Background(), emb, warmRecords(), menu, 2)
	if err != nil {
		t.Fatalf("warmEmbeddings: %v", err)
	}
	// vilakam once (word_context shares it), two chapters, three numbers.
	if n != 8 {
		t.Errorf("covered %d texts, want 8", n)
	}
	var flat []string
	for _, c := range emb.calls {
		if len(c) > 2 {
			t.Errorf("batch of %d exceeds limit", len(c))
		}
		flat = append(flat, c...)
	}
	if got := strings.Join(flat, ","); got != "v1,v2,v3,a1,a2,1,2,3" {
		t.Errorf("embedded %s", got)
	}
}

func TestWarmEmbeddingsErrors(t *testing.T) {
	boom := errors.New("down")
	if _, err := warmEmbeddings(context.Background(), &recordingEmbedder{err: boom}, warmRecords(), quiz.SemanticMenu, 10); !errors.Is(err, boom) {
		t.Errorf("expected backend error, got %v", err)
	}
	if _, err := warmEmbeddings(context.Background(), &recordingEmbedder{}, warmRecords(), []model.Archetype{"riddle"}, 10); !errors.Is(err, quiz.ErrUnknownArchetype) {
		t.Errorf("expected ErrUnknownArchetype, got %v", err)
	}
}
