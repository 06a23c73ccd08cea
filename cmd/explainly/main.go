package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/explainly/explainly/internal/cache"
	"github.com/explainly/explainly/internal/engine"
	"github.com/explainly/explainly/internal/generator"
	"github.com/explainly/explainly/internal/handler"
	appI18n "github.com/explainly/explainly/internal/i18n"
	"github.com/explainly/explainly/internal/llm"
	"github.com/explainly/explainly/internal/llm/prompts"
	"github.com/explainly/explainly/internal/metrics"
	"github.com/explainly/explainly/internal/store"
	"github.com/explainly/explainly/internal/tracing"
)

var version = "dev"

func main() {
	// A missing .env is fine; real environment variables still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "explainly",
		Short:   "Assignment engine with Socratic probing powered by LLMs",
		Version: version,
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `explainly --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("db", "explainly.db", "SQLite database path")
	f.Duration("store-timeout", store.DefaultTimeout, "Timeout for each database operation")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated at 5 MB")
}

func addLLMFlags(f *pflag.FlagSet) {
	d := llm.DefaultRetryPolicy()
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", d.Timeout, "Timeout for each LLM attempt")
	f.Int("llm-max-attempts", d.MaxAttempts, "Attempts per LLM call, including the first")
	f.Duration("llm-backoff", d.Backoff, "Initial backoff between LLM attempts")
	f.Float64("llm-rps", 0, "Client-side LLM request rate limit (0 = unlimited)")
	f.Int("max-context-chars", generator.DefaultMaxContextChars, "Course material characters sent to the LLM")
	f.Int("chain-concurrency", engine.DefaultChainConcurrency, "Probing chains generated in parallel")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addCommonFlags(f)
	addLLMFlags(f)
	f.String("redis-addr", "", "Redis address for the session cache (empty disables caching)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.Duration("cache-ttl", cache.DefaultTTL, "Session cache entry lifetime")
	f.StringP("lang", "l", "en", "Default language for generated text and messages (en, ru)")
	f.Bool("trace-stdout", false, "Write OpenTelemetry spans to stdout")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session's assignment and submissions as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("session", "", "Session ID to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(f)

	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import teacher-authored assignments from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	addLLMFlags(f)
	f.Bool("skip-chains", false, "Do not generate probing chains for imported questions")
	f.StringP("lang", "l", "en", "Language for generated hints (en, ru)")
	return cmd
}

func setupLogging(v *viper.Viper) {
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

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    5, // megabytes
			MaxBackups: 5,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXPLAINLY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("explainly")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/explainly")
	v.AddConfigPath("/etc/explainly")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func newLLM(v *viper.Viper) *llm.Client {
	return llm.New(llm.Config{
		BaseURL: v.GetString("llm-url"),
		APIKey:  v.GetString("llm-key"),
		Model:   v.GetString("llm-model"),
		Retry: llm.RetryPolicy{
			MaxAttempts: v.GetInt("llm-max-attempts"),
			Backoff:     v.GetDuration("llm-backoff"),
			Timeout:     v.GetDuration("llm-timeout"),
		},
		RequestsPerSecond: v.GetFloat64("llm-rps"),
	})
}

// newService wires the engine from flags. The returned cleanup closes
// everything opened here.
func newService(ctx context.Context, v *viper.Viper, llmClient *llm.Client, db *store.Store) (*engine.Service, func(), error) {
	opts := []engine.Option{engine.WithChainConcurrency(v.GetInt("chain-concurrency"))}
	cleanup := func() {}

	if addr := v.GetString("redis-addr"); addr != "" {
		rc, err := cache.NewRedis(ctx, cache.Options{
			Addr:     addr,
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
			TTL:      v.GetDuration("cache-ttl"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		slog.Info("session cache enabled", "addr", addr)
		opts = append(opts, engine.WithCache(rc))
		cleanup = func() { _ = rc.Close() }
	}

	gen := generator.New(llmClient, v.GetInt("max-context-chars"))
	return engine.New(db, gen, llmClient, opts...), cleanup, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if v.GetBool("trace-stdout") {
		shutdown, err := tracing.Init("explainly", version, os.Stdout)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}
	metrics.Register(prometheus.DefaultRegisterer)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if err := prompts.Load(); err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"), v.GetDuration("store-timeout"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	llmClient := newLLM(v)
	if err := llmClient.Ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "client", llmClient.String())

	svc, cleanup, err := newService(ctx, v, llmClient, db)
	if err != nil {
		return err
	}
	defer cleanup()

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.New(svc, db).Router(lang),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"chain_concurrency", v.GetInt("chain-concurrency"),
		"cache", v.GetString("redis-addr") != "",
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"), v.GetDuration("store-timeout"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Export never calls the LLM.
	svc := engine.New(db, nil, nil)
	export, err := svc.Export(cmd.Context(), v.GetString("session"))
	if err != nil {
		return fmt.Errorf("export session: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("session exported",
		"session_id", export.SessionID,
		"submissions", export.SubmissionCount,
		"output", outPath,
	)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"), v.GetDuration("store-timeout"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	svc, cleanup, err := newService(ctx, v, newLLM(v), db)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := engine.AuthorOptions{SkipChains: v.GetBool("skip-chains")}
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := svc.Import(ctx, data, path, opts)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if res.Skipped {
			slog.Info("assignment file unchanged, skipping", "path", path, "assignment_id", res.AssignmentID)
			continue
		}
		slog.Info("imported assignment", "path", path, "assignment_id", res.AssignmentID)
	}
	return nil
}
