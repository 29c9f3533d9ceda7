// Package app is the startup-time composition root: one program-wide set of
// service handles built from configuration, with a defined teardown.
package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vw-ai/lifetrace/internal/api"
	"github.com/vw-ai/lifetrace/internal/cleaner"
	"github.com/vw-ai/lifetrace/internal/config"
	"github.com/vw-ai/lifetrace/internal/index"
	"github.com/vw-ai/lifetrace/internal/ingest/calendar"
	"github.com/vw-ai/lifetrace/internal/ingest/notion"
	"github.com/vw-ai/lifetrace/internal/insights"
	"github.com/vw-ai/lifetrace/internal/llm"
	"github.com/vw-ai/lifetrace/internal/processor"
	"github.com/vw-ai/lifetrace/internal/retrieve"
	"github.com/vw-ai/lifetrace/internal/storage/sqlite"
	"github.com/vw-ai/lifetrace/internal/tagger"
	"github.com/vw-ai/lifetrace/internal/taglog"
	"github.com/vw-ai/lifetrace/internal/taxonomy"
)

// App bundles every service the commands and the API server share.
type App struct {
	Log       *slog.Logger
	Store     *sqlite.Store
	Resources *taxonomy.Store
	Chat      llm.Chat
	Embedder  llm.Embedder
	Tagger    *tagger.Tagger
	Builder   *taxonomy.Builder
	Indexer   *index.Indexer
	Retriever *retrieve.Retriever
	Cleaner   *cleaner.Cleaner
	Processor *processor.Processor
	Insights  *insights.Service
	Calendar  *calendar.Ingestor
	Notes     *notion.Ingestor
	TagLog    *taglog.Logger
}

// New builds the application from the active configuration. The chat client
// and provider ingestors are optional; everything else is required and a
// failure here is fatal to startup.
func New(ctx context.Context) (*App, error) {
	log := newLogger()

	store, err := sqlite.New(ctx, config.GetString("db_path"), config.GetInt("pool_size"), log)
	if err != nil {
		return nil, err
	}

	resources, err := taxonomy.NewStore(config.GetString("resources_dir"), log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{Log: log, Store: store, Resources: resources}

	// The chat collaborator is optional: without a key every stage uses its
	// deterministic fallback.
	if chat, err := llm.NewClient(config.GetString("llm_api_key"), config.GetString("llm_model")); err == nil {
		a.Chat = chat
	} else {
		log.Warn("LLM chat disabled", "reason", err)
	}

	var embedder llm.Embedder
	if primary, err := llm.NewOllamaEmbedder(config.GetString("embed_model")); err == nil {
		embedder = &llm.FallbackEmbedder{Primary: primary}
	} else {
		log.Warn("embedding provider disabled, using hashing fallback", "reason", err)
		embedder = llm.NewHashEmbedder(config.GetString("embed_model"))
	}
	a.Embedder = embedder

	a.TagLog = taglog.New(config.GetString("tagging_log_file"))
	a.Tagger = tagger.New(resources, a.Chat, log)
	a.Builder = taxonomy.NewBuilder(store, a.Chat, resources, log)
	a.Indexer = index.New(store, a.Chat, embedder, log)
	a.Retriever = retrieve.New(store, embedder, log)
	a.Cleaner = cleaner.New(store, a.Chat, log)
	a.Insights = insights.NewService(store)

	lockPath := filepath.Join(filepath.Dir(config.GetString("db_path")), ".lifetrace-process.lock")
	a.Processor = processor.New(store, a.Tagger, a.Builder, a.TagLog, lockPath, log)

	if tokenPath := config.GetString("calendar_credentials_path"); tokenPath != "" {
		a.Calendar = calendar.NewIngestor(store, calendar.NewGoogleProvider(tokenPath), log)
	}
	if notesKey := config.GetString("notes_api_key"); notesKey != "" {
		a.Notes = notion.NewIngestor(store, notion.NewAPIProvider(notesKey), log)
	}

	return a, nil
}

// APIDeps assembles the handler dependency set.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Store:     a.Store,
		Insights:  a.Insights,
		Processor: a.Processor,
		Cleaner:   a.Cleaner,
		Retriever: a.Retriever,
		Indexer:   a.Indexer,
		Calendar:  a.Calendar,
		Notes:     a.Notes,
		Taxonomy:  a.Builder,
		Resources: a.Resources,
	}
}

// APIConfig assembles the request-layer settings from configuration.
func (a *App) APIConfig() api.Config {
	return api.Config{
		Prefix:         config.GetString("api_v1_prefix"),
		ListenAddr:     config.GetString("listen_addr"),
		Token:          config.GetString("api_token"),
		DevBypass:      config.IsDevelopment(),
		AllowedOrigins: config.GetStringSlice("cors.origins"),
		AllowedMethods: config.GetStringSlice("cors.methods"),
		AllowedHeaders: config.GetStringSlice("cors.headers"),
	}
}

// Close tears the application down in reverse dependency order.
func (a *App) Close() {
	_ = a.TagLog.Close()
	_ = a.Resources.Close()
	_ = a.Store.Close()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(config.GetString("log_level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(config.GetString("log_format")) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
