package cmd

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loomwire/loomwire/actions"
	"github.com/loomwire/loomwire/api"
	"github.com/loomwire/loomwire/blobstore"
	"github.com/loomwire/loomwire/calendar"
	"github.com/loomwire/loomwire/config"
	"github.com/loomwire/loomwire/embedding"
	"github.com/loomwire/loomwire/ephemeral"
	"github.com/loomwire/loomwire/ingestion"
	"github.com/loomwire/loomwire/llm"
	"github.com/loomwire/loomwire/observability"
	"github.com/loomwire/loomwire/ocr"
	"github.com/loomwire/loomwire/orchestrator"
	"github.com/loomwire/loomwire/pkg/crypto"
	"github.com/loomwire/loomwire/pkg/msgworker"
	"github.com/loomwire/loomwire/retrieval"
	"github.com/loomwire/loomwire/router"
	"github.com/loomwire/loomwire/scheduler"
	"github.com/loomwire/loomwire/storage"
	"github.com/loomwire/loomwire/tenant"
	"github.com/loomwire/loomwire/whatsapp"
)

// components is everything the serve and scheduler commands assemble once.
type components struct {
	db        *storage.DB
	store     ephemeral.Store
	storeStop func()
	metrics   *observability.Metrics
	pipeline  *ingestion.Pipeline
	executors map[string]scheduler.Executor
	jobsAdmin *scheduler.Admin
	deps      api.Deps
	routerC9  *router.Router
	pool      *msgworker.Pool
}

// buildComponents wires the process: infrastructure first, then domain
// services, Valkey with an in-memory fallback so a dev laptop runs without
// it.
func buildComponents(cfg *config.Config) (*components, error) {
	db, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	var store ephemeral.Store
	storeStop := func() {}
	if client, err := ephemeral.NewClient(cfg.Ephemeral.RedisURL); err == nil {
		store = client
		storeStop = client.Close
	} else {
		logrus.WithError(err).Warn("[STARTUP] Valkey unavailable, using in-memory ephemeral store")
		store = ephemeral.NewMemoryStore()
	}

	metrics := observability.New()

	// LLM and embedding backends.
	var provider llm.Provider
	switch cfg.Backends.LLMProvider {
	case "gemini":
		provider = llm.NewGeminiProvider(cfg.Backends.GeminiAPIKey, cfg.Backends.LLMModel)
	case "anthropic":
		provider = llm.NewAnthropicProvider(cfg.Backends.AnthropicAPIKey, cfg.Backends.LLMModel)
	default:
		provider = llm.NewOpenAIProvider(cfg.Backends.OpenAIAPIKey, cfg.Backends.LLMModel)
	}
	embedder := embedding.NewOpenAIBackend(cfg.Backends.OpenAIAPIKey, cfg.Backends.EmbeddingModel, cfg.Backends.EmbeddingDim)

	// Retrieval backends collocated with the relational store.
	var (
		lexical retrieval.LexicalIndex
		vector  retrieval.VectorIndex
		writer  retrieval.VectorWriter
	)
	meta := retrieval.NewPostgresMetaLookup(db.Raw())
	if db.Driver() == "postgres" {
		lexical = retrieval.NewPostgresLexicalIndex(db.Raw())
		pgVec := retrieval.NewPostgresVectorIndex(db.Raw())
		vector, writer = pgVec, pgVec
	} else {
		sqlDB, err := db.Raw().DB()
		if err != nil {
			return nil, fmt.Errorf("unwrapping sqlite handle: %w", err)
		}
		lexical = retrieval.NewSQLiteLexicalIndex(sqlDB)
		sqlVec, err := retrieval.NewSQLiteVectorIndex(sqlDB, cfg.Backends.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("initializing sqlite-vec: %w", err)
		}
		vector, writer = sqlVec, sqlVec
	}
	retrievalEngine := &retrieval.Engine{
		Lexical:    lexical,
		Vector:     vector,
		Meta:       meta,
		Embeddings: embedder,
		EmbCache:   ephemeral.NewEmbeddingCache(store, time.Hour, 256),
		Counters:   metrics,
		Fusion:     retrieval.DefaultFusionConfig(cfg.Retrieval.RRFK),
		MMR:        retrieval.DefaultMMRConfig(),
		TopNBM25:   cfg.Retrieval.TopNBM25,
		TopNVector: cfg.Retrieval.TopNVector,
		MaxTopK:    cfg.Retrieval.MaxTopK,
	}

	// Ingestion pipeline and its job executors.
	blob := blobstore.NewFilesystemStore(cfg.Backends.BlobDir)
	var ocrRunner ingestion.OCRRunner
	if cfg.Ingestion.OCREnabled {
		ocrRunner = ingestion.NewSubprocessOCRRunner(ocr.NewSubprocessProvider(cfg.Backends.OCRBinary), "", "spa")
	}
	ocrStats := &ingestion.OCRStats{}
	pipeline := &ingestion.Pipeline{
		DB:                   db,
		Blob:                 blob,
		Extractor:            ingestion.NewPassthroughExtractor(),
		OCR:                  ocrRunner,
		Embedder:             embedder,
		Vectors:              writer,
		OCRThreshold:         cfg.Ingestion.OCRMinTextThreshold,
		EmbeddingConcurrency: cfg.Scheduler.EmbeddingConcurrency,
		MaxUploadBytes:       cfg.Ingestion.MaxUploadBytes,
		MaxAttempts:          cfg.Ingestion.MaxAttempts,
		PurgeWindowDays:      cfg.Ingestion.PurgeWindowDays,
		Metrics:              metrics,
		Stats:                ocrStats,
	}
	executors := map[string]scheduler.Executor{
		"extract": pipeline.RunExtract,
		"chunk":   pipeline.RunChunk,
		"embed":   pipeline.RunEmbed,
	}

	// Action executor with the calendar-backed appointment booker.
	secrets := crypto.New(cfg.Security.EncryptionKey)
	booker := &actions.Booker{
		Secrets: secrets,
		NewProvider: func(token string) calendar.Provider {
			return calendar.NewRESTProvider(cfg.Backends.CalendarBaseURL, token)
		},
	}
	actionExecutor := actions.NewExecutor(db, metrics, actions.DefaultHandlers(booker))

	// Orchestrator.
	guard := orchestrator.NewRateGuard(0, -1)
	composer := orchestrator.NewComposer(provider, storage.BusinessHours{})
	orchEngine := orchestrator.NewEngine(provider, guard, composer)

	// Router spine.
	resolver := tenant.NewResolver(db)
	pool := msgworker.NewPool(20, 1000)
	turner := &router.Turner{
		DB:        db,
		Decider:   router.LocalDecider{Engine: orchEngine},
		Retrieval: retrievalEngine,
		Actions:   actionExecutor,
		Guard:     guard,
	}
	waProvider := whatsapp.NewHTTPProvider(cfg.Backends.ProviderSendURL, cfg.Security.ProviderAuthToken)
	routerC9 := router.New(
		resolver,
		ephemeral.NewDedupStore(store),
		ephemeral.NewDebounceBuffer(store),
		ephemeral.NewRateLimiter(store),
		pool, waProvider, turner, turner, cfg.Router,
	)

	jobsAdmin := scheduler.NewAdmin(db, store)

	deps := api.Deps{
		Cfg:       cfg,
		Metrics:   metrics,
		Router:    routerC9,
		Orch:      orchEngine,
		Guard:     guard,
		Retrieval: retrievalEngine,
		Actions:   actionExecutor,
		Pipeline:  pipeline,
		JobsAdmin: jobsAdmin,
		OCRStats:  ocrStats,
	}

	return &components{
		db:        db,
		store:     store,
		storeStop: storeStop,
		metrics:   metrics,
		pipeline:  pipeline,
		executors: executors,
		jobsAdmin: jobsAdmin,
		deps:      deps,
		routerC9:  routerC9,
		pool:      pool,
	}, nil
}
