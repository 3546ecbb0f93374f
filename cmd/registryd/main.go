// Command registryd runs the cargo-compatible package registry: the HTTP
// API and index surfaces, plus the docs and deps background workers,
// sharing one metadata store, artifact store, and index.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cargoforge/registry/cmd/registryd/routes"
	"github.com/cargoforge/registry/internal/common"
	"github.com/cargoforge/registry/internal/depsworker"
	"github.com/cargoforge/registry/internal/docsworker"
	"github.com/cargoforge/registry/internal/index"
	"github.com/cargoforge/registry/internal/jobqueue"
	"github.com/cargoforge/registry/internal/metadata"
	"github.com/cargoforge/registry/internal/registry"
	"github.com/cargoforge/registry/internal/storage"
	"github.com/cargoforge/registry/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	log.Info().Msg("starting registry daemon")

	db, err := common.NewDatabase(&cfg.Data)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	var cache *common.Cache
	if cfg.Redis.Enabled {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer cache.Close()
	}

	blobs, err := storage.NewLocalStorage(cfg.Data.StorageRoot())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	artifacts := storage.NewArtifactStore(blobs)

	idx, err := index.Open(index.Config{
		Root:          cfg.Data.IndexRoot(),
		AuthorName:    cfg.Index.AuthorName,
		AuthorEmail:   cfg.Index.AuthorEmail,
		Branch:        cfg.Index.Branch,
		AllowGit:      cfg.Index.AllowGit,
		AllowSparse:   cfg.Index.AllowSparse,
		DownloadBase:  cfg.Index.DownloadBase,
		APIBase:       cfg.Index.APIBase,
		RegistryTitle: cfg.Index.RegistryTitle,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open index")
	}

	store := metadata.New(db.DB)
	jobs := jobqueue.New()
	facade := registry.New(store, artifacts, idx, jobs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := facade.RecoverUndocumented(ctx); err != nil {
		log.Error().Err(err).Msg("failed to recover undocumented versions")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("re-enqueued undocumented versions after restart")
	}

	docsW := docsworker.New(jobs, store, artifacts, docsworker.NewShellBuilder(cfg.Jobs.DocsBuildCommand), cfg.Jobs.DocsMaxRetries)
	go docsW.Run(ctx)

	depsW := depsworker.New(store, idx, cache, depsworker.NewHTTPSource(cfg.Jobs.AdvisoryFeedURL), cfg.Jobs.DepsScanInterval)
	go depsW.Run(ctx)

	router := setupRouter(facade, idx, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	cancel()
	jobs.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server shutdown complete")
	}
}

func setupRouter(facade *registry.Facade, idx *index.Index, cfg *config.Config) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "registryd", "time": time.Now().UTC()})
	})

	routes.RegisterCargoAPI(router, facade)
	routes.RegisterCargoIndex(router, idx, cfg.Index.AllowSparse, cfg.Index.AllowGit)

	return router
}
