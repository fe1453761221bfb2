package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"frictionlog/app/internal/analysis"
	"frictionlog/app/internal/api"
	"frictionlog/app/internal/config"
	"frictionlog/app/internal/logger"
	"frictionlog/app/internal/media"
	"frictionlog/app/internal/repository/mongo"
	"frictionlog/app/internal/service"
	"frictionlog/app/internal/storage"
	"frictionlog/app/internal/transcription"

	"github.com/gin-gonic/gin"
)

// @title Friction Log API
// @version 1.0
// @description Turns uploaded screen recordings into transcribed friction logs with AI-generated UX recommendations.
// @host localhost:8080
// @BasePath /api/v1
func main() {
	log := logger.New()
	log.WithField("service", "frictionlog").Info("starting server")

	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.WithError(err).Fatal("could not load config")
	}

	// --- Database Connection ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		log.WithError(err).Fatal("could not connect to MongoDB")
	}
	defer func() {
		if err := mongo.DisconnectDB(dbClient); err != nil {
			log.WithError(err).Error("failed to disconnect MongoDB")
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)
	log.WithField("database", cfg.Database.Name).Info("database connection established")

	// --- Ensure Indexes ---
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		mongo.EnsureFrictionLogIndexes(ctx, appDB.Collection("friction_logs"))
		mongo.EnsureRunIndexes(ctx, appDB.Collection("ingestion_runs"))
	}()

	// --- Initialize Repositories ---
	logRepo := mongo.NewMongoFrictionLogRepository(appDB)
	runRepo := mongo.NewMongoRunRepository(appDB)

	// --- Initialize External Adapters ---
	gateway, err := media.NewMuxGateway(cfg.Mux,
		media.WithResolveSchedule(cfg.Pipeline.ResolveAttempts, cfg.Pipeline.ResolveInterval),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize video platform gateway")
	}

	transcriberOpts := []transcription.Option{
		transcription.WithFFmpegBinary(cfg.Pipeline.FFmpegBinary),
		transcription.WithTimeout(cfg.Pipeline.TranscriptionTimeout),
	}
	var artifactStore storage.ArtifactStorage
	if cfg.Artifacts.Enabled() {
		artifactStore, err = storage.NewS3Storage(cfg.Artifacts)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize artifact storage")
		}
		transcriberOpts = append(transcriberOpts, transcription.WithArtifactStorage(artifactStore))
		log.WithField("bucket", cfg.Artifacts.BucketName).Info("audio artifact archive enabled")
	}
	transcriber, err := transcription.NewWhisperTranscriber(cfg.OpenAI, log, transcriberOpts...)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize transcriber")
	}

	analyzer, err := analysis.NewOpenAIAnalyzer(cfg.OpenAI)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize analyzer")
	}

	// --- Initialize Pipeline Service ---
	pipelineService := service.NewPipelineService(
		gateway, transcriber, analyzer, logRepo, runRepo, artifactStore,
		service.PipelineConfig{
			PollAttempts: cfg.Pipeline.PollAttempts,
			PollInterval: cfg.Pipeline.PollInterval,
			RunDeadline:  cfg.Pipeline.RunDeadline,
		},
		log,
	)

	// --- Initialize Gin Engine ---
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, log, pipelineService)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
		// Readiness checks poll and transcribe inline, and analysis streams
		// for as long as the model generates, so the write timeout has to
		// accommodate the slowest pipeline run, not a typical request.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Pipeline.RunDeadline + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Address).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server exiting")
}
