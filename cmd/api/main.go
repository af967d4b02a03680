package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storyloom/internal/archive"
	"storyloom/internal/config"
	"storyloom/internal/engine"
	"storyloom/internal/event"
	"storyloom/internal/intent"
	"storyloom/internal/llm"
	"storyloom/internal/persist"
	"storyloom/internal/plan"
	"storyloom/internal/retrieval"
	"storyloom/internal/server"
	"storyloom/internal/writer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	store, err := newRecordStore(cfg.Store)
	if err != nil {
		log.Fatalf("record store: %v", err)
	}
	synchronizer := persist.NewSynchronizer(store)

	var archiveStore *archive.Store
	if cfg.Archive.Enabled {
		archiveStore, err = archive.NewStore(archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			log.Fatalf("archive: %v", err)
		}
	}

	gen, err := newGenerator(ctx, cfg.LLM)
	if err != nil {
		log.Fatalf("llm: %v", err)
	}
	defer gen.Close()
	log.Printf("using %s backend", gen.Name())

	index, err := newIndex(ctx, cfg.LLM)
	if err != nil {
		log.Fatalf("retrieval: %v", err)
	}

	hub := event.NewHub()
	e := engine.New(
		plan.NewStep(gen, cfg.LLM.MaxTokens),
		writer.New(gen, writer.NewCritic(gen), cfg.LLM.MaxTokens),
		synchronizer,
		archiveStore,
		index,
		hub,
		engine.Options{
			RecordID:          cfg.Engine.RecordID,
			WriterConcurrency: cfg.Engine.WriterConcurrency,
			WriteTimeout:      cfg.Engine.WriteTimeout,
			SaveQuiet:         cfg.Engine.SaveQuiet,
		},
	)
	if err := e.Load(ctx); err != nil {
		// A fresh workspace has no record yet; the first run creates it.
		if errors.Is(err, persist.ErrNotFound) {
			log.Printf("no record %s yet, starting empty", cfg.Engine.RecordID)
		} else {
			log.Fatalf("load: %v", err)
		}
	}

	handler := server.NewHandler(e, intent.NewAnalyzer(gen))
	srv := server.New(cfg.Port, server.NewMux(handler, hub))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Flush(shutdownCtx); err != nil {
			log.Printf("flush on shutdown: %v", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func newRecordStore(cfg config.StoreConfig) (persist.RecordStore, error) {
	if cfg.DatabaseURL != "" {
		return persist.NewPostgresStore(cfg.DatabaseURL)
	}
	log.Printf("DATABASE_URL not set, using file store at %s", cfg.RecordsFile)
	return persist.NewFileStore(cfg.RecordsFile), nil
}

func newGenerator(ctx context.Context, cfg config.LLMConfig) (llm.Generator, error) {
	switch cfg.Provider {
	case "gemini":
		return llm.NewGeminiClient(ctx, cfg.Model, cfg.MaxTokens)
	case "groq":
		return llm.NewGroqClient(cfg.GroqAPIKey, cfg.Model, cfg.MaxTokens)
	default:
		log.Printf("no LLM credentials, using the fake backend")
		return llm.NewFake(cfg.MaxTokens), nil
	}
}

// newIndex builds the similarity index when an embedding backend is
// available. Without one the engine runs fine, just without retrieved
// context in write prompts.
func newIndex(ctx context.Context, cfg config.LLMConfig) (*retrieval.Index, error) {
	if cfg.Provider != "gemini" {
		return nil, nil
	}
	embedder, err := retrieval.NewGeminiEmbedder(ctx, cfg.EmbedModel)
	if err != nil {
		return nil, err
	}
	return retrieval.NewIndex(embedder)
}
