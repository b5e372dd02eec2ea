package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/domain"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/media"
	"server/internal/orchestrator"
	"server/internal/providers/genai"
	"server/internal/providers/image"
	"server/internal/providers/script"
	"server/internal/providers/video"
	"server/internal/storage"

	"server/internal/adapter/repo"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

	// Object store: MinIO when configured, local filesystem otherwise.
	var store domain.ObjectStore
	var staticDir string
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(storage.MinioOptions{
			Endpoint:   cfg.MinioEndpoint,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			Bucket:     cfg.MinioBucket,
			UseSSL:     cfg.MinioUseSSL,
			PublicBase: cfg.MinioPublicURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build object store")
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure bucket")
		}
		store = minioStore
	} else {
		fileStore, err := storage.NewFileStore(cfg.StoragePath, cfg.PublicBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build file store")
		}
		store = fileStore
		staticDir = fileStore.BasePath()
		logger.Info().Str("path", staticDir).Msg("using filesystem storage")
	}

	// Provider key: environment first, credentials store as fallback.
	apiKey := cfg.GenAIAPIKey
	if apiKey == "" {
		creds := credentials.NewStore(runner)
		keyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		apiKey, err = creds.GenAIAPIKey(keyCtx)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read provider key")
		}
	}
	if apiKey == "" {
		logger.Fatal().Msg("no provider API key configured; set GENAI_API_KEY or run providerkey")
	}

	client, err := genai.NewClient(genai.Options{
		APIKey:     apiKey,
		BaseURL:    cfg.GenAIBaseURL,
		TextModel:  cfg.TextModel,
		ImageModel: cfg.ImageModel,
		VideoModel: cfg.VideoModel,
		HTTPClient: &http.Client{Timeout: cfg.ProviderHTTPTimeout},
		Logger:     infra.ComponentLogger(logger, "genai"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build provider client")
	}
	videoGen := video.NewGenAIGenerator(client)

	merger, err := media.NewFFmpegMerger(media.MergerOptions{
		Store:      store,
		FFmpegPath: cfg.FFmpegPath,
		WorkDir:    cfg.WorkDir,
		Logger:     infra.ComponentLogger(logger, "media"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build merger")
	}

	manager := orchestrator.NewManager(orchestrator.Deps{
		Repo:       repo.NewWorkflowRepository(runner),
		Store:      store,
		Script:     script.NewGenAIGenerator(client),
		Images:     image.NewGenAIGenerator(client),
		Videos:     videoGen,
		Status:     videoGen,
		Merger:     merger,
		Dispatcher: orchestrator.NewDispatcher(int64(cfg.ImageConcurrency), int64(cfg.VideoConcurrency)),
		Tunables: orchestrator.Tunables{
			PollInterval:   cfg.PollInterval,
			PollBudget:     cfg.PollBudget,
			RetryMax:       uint64(cfg.RetryMax),
			RetryBaseDelay: cfg.RetryBaseDelay,
		},
		Logger: infra.ComponentLogger(logger, "orchestrator"),
	})

	// Pick up workflows the previous process left mid-run.
	if err := manager.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("resume scan failed")
	}

	app := handlers.NewApp(manager, store, infra.ComponentLogger(logger, "http"))
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		AllowedOrigins:    cfg.AllowedOrigins,
		RequestsPerMinute: cfg.RateLimitPerMinute,
		StaticDir:         staticDir,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// Stop running workflows first so their final checkpoints land before the
	// pool closes; they resume on the next boot.
	manager.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
