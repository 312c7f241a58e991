package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/kodeai/knowledge-core/internal/config"
	"github.com/kodeai/knowledge-core/internal/embeddings"
	"github.com/kodeai/knowledge-core/internal/extract"
	"github.com/kodeai/knowledge-core/internal/httpapi"
	"github.com/kodeai/knowledge-core/internal/ingest"
	"github.com/kodeai/knowledge-core/internal/repository"
	"github.com/kodeai/knowledge-core/internal/retrieve"
	"github.com/kodeai/knowledge-core/internal/storage"
	"github.com/kodeai/knowledge-core/internal/vectorstore"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("knowledge-core ingestd dev build")
		return
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	sink, err := storage.NewSink(cfg.Storage.Root)
	if err != nil {
		log.Fatalf("failed to set up storage: %v", err)
	}

	embedder := embeddings.NewClient(cfg.Embed.BaseURL, cfg.Embed.Model, cfg.Embed.APIKey, cfg.Embed.Dimensions, 60*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	vectorStore, err := vectorstore.NewPgVectorStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections, cfg.Embed.Dimensions)
	if err != nil {
		log.Fatalf("failed to connect vector store: %v", err)
	}
	defer vectorStore.Close()

	// The repository shares the vector store's connection pool rather than
	// opening a second one against the same database.
	repo := repository.New(vectorStore.Pool(), vectorStore)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	extractor := extract.NewExtractor(sink)
	scheduler := ingest.NewGoroutineScheduler(max(runtime.NumCPU(), 2))
	pipeline := ingest.New(repo, extractor, embedder, cfg.Chunk.MaxTokens, cfg.Chunk.Overlap)
	retriever := retrieve.New(vectorStore, embedder)

	srv := httpapi.New(repo, sink, pipeline, scheduler, retriever)

	httpServer := &http.Server{
		Addr:    cfg.Address,
		Handler: srv,
	}

	log.Printf("starting ingestd on %s (storage root: %s, embedding model: %s)", cfg.Address, cfg.Storage.Root, cfg.Embed.Model)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func waitForShutdown(srv *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		if err := srv.Close(); err != nil {
			log.Printf("forced close failed: %v", err)
		}
	}

	log.Println("ingestd stopped")
}
