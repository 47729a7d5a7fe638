// Package main is the entry point for the contrast-tiles server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/contrast-tiles/server/internal/annostore"
	"github.com/contrast-tiles/server/internal/api"
	"github.com/contrast-tiles/server/internal/cache"
	"github.com/contrast-tiles/server/internal/config"
	"github.com/contrast-tiles/server/internal/dataset"
	"github.com/contrast-tiles/server/internal/render"
	"github.com/contrast-tiles/server/internal/service"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if w := cfg.Log.Writer(); w != nil {
		fmt.Printf("Sending log messages to: %s\n", cfg.Log.File)
		log.SetOutput(w)
	}

	log.Printf("Starting contrast-tiles server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// shared across all datasets
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()
	log.Printf("Tile cache: %s", humanize.Bytes(uint64(cfg.Cache.TileSizeMB)*1024*1024))

	renderer := render.NewOverlayRenderer(render.Config{
		TileSize:    cfg.Render.TileSize,
		PointRadius: cfg.Render.PointRadius,
		LineWidth:   cfg.Render.LineWidth,
	})

	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, cfg.Server.Title)
	log.Printf("Initializing %d dataset(s), default: %s", len(datasetIDs), cfg.Data.DefaultDataset)

	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]

		reader, err := dataset.NewReader(ds.Path)
		if err != nil {
			log.Fatalf("Failed to read dataset %q: %v", datasetID, err)
		}
		desc := reader.Descriptor()
		log.Printf("  [%s] Loaded from: %s", datasetID, ds.Path)
		log.Printf("    XY: %d, Z: %d, Time: %d, Channels: %d, Frames: %d",
			len(desc.XY), len(desc.Z), len(desc.Time), len(desc.Channels), len(desc.Frames))

		store, err := annostore.NewStore(ds.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open annotation store for dataset %q: %v", datasetID, err)
		}
		defer store.Close()

		svc, err := service.NewViewService(service.ViewServiceConfig{
			DatasetID: datasetID,
			Reader:    reader,
			Store:     store,
			Cache:     cacheManager,
			Renderer:  renderer,
		})
		if err != nil {
			log.Fatalf("Failed to load dataset %q: %v", datasetID, err)
		}
		log.Printf("  [%s] Annotations: %d, sqlite=%s", datasetID, len(svc.Annotations()), ds.SQLitePath)

		registry.Register(datasetID, svc)
	}

	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		SQLitePath:    cfg.Jobs.SQLitePath,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job manager: %v", err)
	}
	log.Printf("Job manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Jobs.MaxConcurrent, cfg.Jobs.RetentionDays, cfg.Jobs.SQLitePath)

	jobManager.Executor = service.NewPropertyWorker(registry).ExecuteJob
	jobManager.Start()
	defer jobManager.Stop()

	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		JobManager:  jobManager,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
