package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/kuralquiz/internal/corpus"
	"github.com/pavelanni/kuralquiz/internal/embedding"
	"github.com/pavelanni/kuralquiz/internal/handler"
	appI18n "github.com/pavelanni/kuralquiz/internal/i18n"
	"github.com/pavelanni/kuralquiz/internal/model"
	"github.com/pavelanni/kuralquiz/internal/quiz"
	"github.com/pavelanni/kuralquiz/internal/session"
	"github.com/pavelanni/kuralquiz/internal/store"
)

//go:generate templ generate -path ../../internal/handler/views

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kuralquiz",
		Short: "Thirukkural trivia quiz",
	}

	serve := serveCmd()
	root.AddCommand(serve, fetchCmd(), warmCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `kuralquiz --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP quiz server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("corpus", "c", corpus.DefaultDataset, "Corpus location: JSON file, http(s) URL or hf://<owner>/<dataset>")
	f.StringP("lang", "l", "en", "Default UI language (en, ta)")
	f.StringP("strategy", "s", quiz.StrategyRandom, "Distractor strategy (random, semantic)")
	f.IntP("distractors", "k", quiz.DefaultDistractors, "Wrong options per question")
	f.Bool("fallback-random", false, "Use random distractors when the embedding endpoint fails")
	f.Duration("advance-delay", 3*time.Second, "Delay before moving to the next question (0 disables)")
	f.Int("max-questions", 20, "Largest quiz a user may start")
	f.Int("default-questions", 5, "Quiz size suggested on the start page")
	f.Duration("session-ttl", session.DefaultTTL, "Idle time after which a quiz session is dropped")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /kural)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.StringSlice("cors-origins", nil, "Origins allowed to call /api/question (repeatable)")
	addEmbeddingFlags(f)
	addCommonFlags(f)
	return cmd
}

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the corpus into a local JSON file",
		RunE:  runFetch,
	}
	f := cmd.Flags()
	f.StringP("corpus", "c", corpus.DefaultDataset, "Corpus location: JSON file, http(s) URL or hf://<owner>/<dataset>")
	f.StringP("output", "o", "thirukkural.json", "Output file path")
	addCommonFlags(f)
	return cmd
}

func warmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Precompute embeddings used by the semantic strategy",
		RunE:  runWarm,
	}
	f := cmd.Flags()
	f.StringP("corpus", "c", corpus.DefaultDataset, "Corpus location: JSON file, http(s) URL or hf://<owner>/<dataset>")
	f.Int("batch", 256, "Texts per embedding request")
	addEmbeddingFlags(f)
	addCommonFlags(f)
	return cmd
}

func addEmbeddingFlags(f *pflag.FlagSet) {
	f.String("db", "kuralquiz.db", "SQLite embedding cache path")
	f.String("embed-url", embedding.DefaultBaseURL, "OpenAI-compatible embeddings API base URL")
	f.String("embed-key", "ollama", "API key for the embeddings endpoint")
	f.String("embed-model", embedding.DefaultModel, "Embedding model name")
	f.Duration("embed-timeout", embedding.DefaultTimeout, "Timeout for each embedding request")
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("env-file", ".env", "Environment file loaded before reading configuration")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

// loadEnvFile copies the --env-file variables into the process environment.
// Variables already set win. A missing file is not an error.
func loadEnvFile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("KURALQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("kuralquiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/kuralquiz")
	v.AddConfigPath("/etc/kuralquiz")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// prepare runs the steps every command starts with.
func prepare(cmd *cobra.Command) (*viper.Viper, error) {
	if err := loadEnvFile(cmd); err != nil {
		return nil, err
	}
	setupLogging(cmd)
	return viperForCmd(cmd), nil
}

func loadCorpus(ctx context.Context, location string) (*corpus.Store, error) {
	c, err := corpus.Open(location, &http.Client{Timeout: 2 * time.Minute})
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if _, err := c.Load(ctx); err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	slog.Debug("corpus load time", "elapsed", time.Since(start).Round(time.Millisecond))
	return c, nil
}

func newEmbeddingClient(v *viper.Viper) *embedding.Client {
	return embedding.New(
		v.GetString("embed-url"),
		v.GetString("embed-key"),
		v.GetString("embed-model"),
		v.GetDuration("embed-timeout"),
	)
}

// normalizeBasePath turns "kural/" into "/kural" and "/" into "".
func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, err := prepare(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	c, err := loadCorpus(ctx, v.GetString("corpus"))
	if err != nil {
		return err
	}

	if k := v.GetInt("distractors"); k < 1 {
		return fmt.Errorf("--distractors must be at least 1, got %d", k)
	}

	strategyName := strings.ToLower(strings.TrimSpace(v.GetString("strategy")))
	var embedder embedding.Embedder
	if strategyName == quiz.StrategySemantic {
		db, err := store.New(v.GetString("db"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		client := newEmbeddingClient(v)
		if err := client.Ping(ctx); err != nil {
			if !v.GetBool("fallback-random") {
				return fmt.Errorf("embedding health check: %w", err)
			}
			slog.Warn("embedding endpoint unreachable, random fallback enabled", "url", v.GetString("embed-url"), "error", err)
		} else {
			slog.Info("embedding endpoint OK", "url", v.GetString("embed-url"), "model", client.Model())
		}
		if warmed, err := db.WarmedAt(client.Model()); err == nil && !warmed.IsZero() {
			slog.Info("embedding cache warmed", "model", client.Model(), "at", warmed.Format(time.RFC3339))
		}
		embedder = embedding.NewCache(client, client.Model(), db)
	}

	strategy, err := quiz.NewStrategy(strategyName, nil, embedder)
	if err != nil {
		return err
	}
	gen := quiz.NewGenerator(strategy, quiz.WithDistractors(v.GetInt("distractors")))

	ttl := v.GetDuration("session-ttl")
	sessions := session.NewManager(ttl)
	if ttl > 0 {
		go sessions.Run(ctx, max(ttl/4, time.Minute))
	}

	basePath := normalizeBasePath(v.GetString("base-path"))
	quizCfg := model.QuizConfig{
		Distractors:      v.GetInt("distractors"),
		MaxQuestions:     v.GetInt("max-questions"),
		DefaultQuestions: v.GetInt("default-questions"),
		AdvanceDelay:     v.GetDuration("advance-delay"),
		FallbackRandom:   v.GetBool("fallback-random"),
		BasePath:         basePath,
		SecureCookies:    v.GetBool("secure-cookies"),
		CORSOrigins:      v.GetStringSlice("cors-origins"),
	}

	h, err := handler.New(c, gen, sessions, quizCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(appI18n.Middleware(lang, appI18n.WithCookiePath(h.CookiePath())))
	h.Mount(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"strategy", strategyName,
		"distractors", quizCfg.Distractors,
		"max_questions", quizCfg.MaxQuestions,
		"fallback_random", quizCfg.FallbackRandom,
		"base_path", basePath,
	)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runFetch(cmd *cobra.Command, _ []string) error {
	v, err := prepare(cmd)
	if err != nil {
		return err
	}
	c, err := loadCorpus(cmd.Context(), v.GetString("corpus"))
	if err != nil {
		return err
	}
	out := v.GetString("output")
	if err := corpus.WriteFile(out, c.All()); err != nil {
		return err
	}
	slog.Info("corpus written", "path", out, "records", c.Len())
	return nil
}

func runWarm(cmd *cobra.Command, _ []string) error {
	v, err := prepare(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	location := v.GetString("corpus")
	c, err := loadCorpus(ctx, location)
	if err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client := newEmbeddingClient(v)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("embedding health check: %w", err)
	}

	cache := embedding.NewCache(client, client.Model(), db)
	n, err := warmEmbeddings(ctx, cache, c.All(), quiz.SemanticMenu, v.GetInt("batch"))
	if err != nil {
		return err
	}

	if err := db.MarkWarmed(client.Model(), time.Now()); err != nil {
		return err
	}
	if err := db.SetMetadata(store.KeyCorpusSource, location); err != nil {
		return err
	}
	if err := db.SetMetadata(store.KeyCorpusSize, strconv.Itoa(c.Len())); err != nil {
		return err
	}
	stored, err := db.VectorCount(client.Model())
	if err != nil {
		return err
	}
	slog.Info("embeddings warmed", "model", client.Model(), "texts", n, "stored", stored)
	return nil
}

// warmEmbeddings embeds every distinct value of the fields asked about by
// menu, batch texts at a time, and returns how many texts it covered.
func warmEmbeddings(ctx context.Context, emb embedding.Embedder, records []model.Record, menu []model.Archetype, batch int) (int, error) {
	if batch <= 0 {
		batch = 1
	}
	seen := make(map[quiz.Field]bool)
	total := 0
	for _, a := range menu {
		field, ok := quiz.ArchetypeField(a)
		if !ok {
			return total, fmt.Errorf("%w: %q", quiz.ErrUnknownArchetype, a)
		}
		if seen[field] {
			continue
		}
		seen[field] = true

		texts, err := quiz.Candidates(records, field, "")
		if err != nil {
			return total, err
		}
		for start := 0; start < len(texts); start += batch {
			end := min(start+batch, len(texts))
			if _, err := emb.Embed(ctx, texts[start:end]); err != nil {
				return total, fmt.Errorf("embed %s values: %w", field, err)
			}
			total += end - start
			slog.Info("warming", "field", field, "done", end, "of", len(texts))
		}
	}
	return total, nil
}
