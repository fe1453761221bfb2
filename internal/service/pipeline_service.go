package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"frictionlog/app/internal/analysis"
	"frictionlog/app/internal/domain"
	"frictionlog/app/internal/logger"
	"frictionlog/app/internal/media"
	"frictionlog/app/internal/repository"
	"frictionlog/app/internal/storage"
	"frictionlog/app/internal/transcription"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- Error Definitions ---
var (
	// ErrAssetUnresolved: the platform never assigned an asset to the upload
	// within the lookup budget. The run cannot proceed; a new upload is needed.
	ErrAssetUnresolved = errors.New("could not retrieve asset ID from upload ID")

	// ErrAssetNotReady is the retry-later sentinel. The message is part of the
	// contract: the invoking collaborator pattern-matches it to distinguish
	// "poll again" from hard failures.
	ErrAssetNotReady = errors.New("Asset is not ready yet")

	// ErrAssetProcessingFailed: the platform reported a terminal error status.
	// Polling stops immediately rather than exhausting its budget.
	ErrAssetProcessingFailed = errors.New("asset processing failed")

	// ErrPersistence: a store write failed after its stage's work succeeded.
	// For analysis this leaves an accepted inconsistency window where the text
	// was delivered to the caller but never durably saved.
	ErrPersistence = errors.New("failed to persist result")

	// ErrRecordNotFound: the analysis request referenced an unknown record.
	ErrRecordNotFound = errors.New("friction log record not found")

	// ErrAlreadyAnalyzed: recommendations transition from empty to one element
	// exactly once; a second analysis run is rejected, not silently dropped or
	// duplicated.
	ErrAlreadyAnalyzed = errors.New("friction log record already analyzed")

	// ErrArtifactUnavailable: the run has no archived audio, either because
	// archiving is disabled, the run is unknown, or the artifact was purged.
	ErrArtifactUnavailable = errors.New("no archived audio artifact for this upload")
)

// UploadTargetResult is returned when a new ingestion run starts.
type UploadTargetResult struct {
	UploadURL string
	UploadID  string
}

// ReadinessResult is returned once an upload has been processed, transcribed,
// and persisted as a friction log record.
type ReadinessResult struct {
	PlaybackID string
	RecordID   primitive.ObjectID
	Log        string
}

// PipelineConfig bounds the orchestrator's polling and overall deadline.
type PipelineConfig struct {
	PollAttempts int           // Readiness poll budget, default 10
	PollInterval time.Duration // Fixed interval between polls, default 3s
	RunDeadline  time.Duration // Hard ceiling on one readiness check
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.PollAttempts <= 0 {
		c.PollAttempts = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.RunDeadline <= 0 {
		c.RunDeadline = 10 * time.Minute
	}
	return c
}

// --- Service Interface ---

// PipelineService drives one ingestion run across the hosting platform, the
// transcription adapter, the record store, and the analysis streamer. Each
// stage fails closed: no partial state advances past a failed stage, and there
// is no automatic cross-stage retry.
type PipelineService interface {
	// CreateUpload obtains a one-time direct-upload target and starts tracking
	// a run for it. The raw upload itself goes straight from the client to the
	// platform.
	CreateUpload(ctx context.Context) (*UploadTargetResult, error)

	// CheckReadiness resolves the upload's asset, polls until the platform has
	// processed it, transcribes the resulting stream, and creates exactly one
	// friction log record. Returns ErrAssetNotReady when the poll budget runs
	// out with the asset still processing.
	CheckReadiness(ctx context.Context, uploadID string) (*ReadinessResult, error)

	// RunAnalysis streams a critique for the transcript into sink, chunk by
	// chunk in upstream order, then persists the concatenated text onto the
	// record exactly once. The full text is returned even when persistence
	// fails, since the caller has already seen it.
	RunAnalysis(ctx context.Context, recordID primitive.ObjectID, transcript string, sink func(chunk string) error) (string, error)

	// AudioArtifactURL returns a time-limited download URL for the audio a
	// run's transcript was produced from.
	AudioArtifactURL(ctx context.Context, uploadID string) (string, error)

	// PurgeAudioArtifact deletes a run's archived audio from storage.
	PurgeAudioArtifact(ctx context.Context, uploadID string) error
}

// --- Service Implementation ---

type pipelineService struct {
	gateway     media.Gateway
	transcriber transcription.Transcriber
	analyzer    analysis.Analyzer
	logRepo     repository.FrictionLogRepository
	runRepo     repository.IngestionRunRepository
	artifacts   storage.ArtifactStorage // nil when archiving is disabled
	cfg         PipelineConfig
	log         *logger.Logger
}

// NewPipelineService creates a new instance of pipelineService.
func NewPipelineService(
	gateway media.Gateway,
	transcriber transcription.Transcriber,
	analyzer analysis.Analyzer,
	logRepo repository.FrictionLogRepository,
	runRepo repository.IngestionRunRepository,
	artifacts storage.ArtifactStorage,
	cfg PipelineConfig,
	log *logger.Logger,
) PipelineService {
	return &pipelineService{
		gateway:     gateway,
		transcriber: transcriber,
		analyzer:    analyzer,
		logRepo:     logRepo,
		runRepo:     runRepo,
		artifacts:   artifacts,
		cfg:         cfg.withDefaults(),
		log:         log,
	}
}

// === Upload target creation ===

func (s *pipelineService) CreateUpload(ctx context.Context) (*UploadTargetResult, error) {
	target, err := s.gateway.CreateUploadTarget(ctx)
	if err != nil {
		return nil, err
	}

	// Run tracking is best effort: losing it degrades resumability, not the
	// pipeline itself.
	run := &domain.IngestionRun{UploadID: target.UploadID, Stage: domain.StageUploading}
	if _, err := s.runRepo.Create(ctx, run); err != nil {
		s.warn(err, "failed to create ingestion run record", target.UploadID)
	}

	return &UploadTargetResult{UploadURL: target.URL, UploadID: target.UploadID}, nil
}

// === Readiness, transcription, persistence ===

func (s *pipelineService) CheckReadiness(ctx context.Context, uploadID string) (*ReadinessResult, error) {
	if strings.TrimSpace(uploadID) == "" {
		return nil, errors.New("upload ID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunDeadline)
	defer cancel()

	// A run that already produced a record short-circuits: transcribing the
	// same upload twice would create a duplicate record.
	run, err := s.runRepo.GetByUploadID(ctx, uploadID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.warn(err, "failed to load ingestion run", uploadID)
	}
	if run != nil && run.FrictionLogID != nil && run.PlaybackID != "" {
		if record, err := s.logRepo.GetByID(ctx, *run.FrictionLogID); err == nil {
			return &ReadinessResult{PlaybackID: run.PlaybackID, RecordID: record.ID, Log: record.Log}, nil
		}
	}

	assetID := ""
	if run != nil {
		assetID = run.AssetID
	}
	if assetID == "" {
		assetID, err = s.gateway.ResolveAssetID(ctx, uploadID)
		if err != nil {
			if errors.Is(err, media.ErrAssetNotFound) {
				s.failRun(uploadID, domain.FailureAssetUnresolved)
				return nil, ErrAssetUnresolved
			}
			return nil, err
		}
	}
	s.trackStage(ctx, uploadID, domain.StageAwaitingReadiness, repository.RunPatch{AssetID: assetID})

	status, err := s.awaitReadiness(ctx, uploadID, assetID)
	if err != nil {
		return nil, err
	}

	videoURL := s.gateway.StreamURL(status.PlaybackID)
	s.trackStage(ctx, uploadID, domain.StageTranscribing, repository.RunPatch{PlaybackID: status.PlaybackID})

	transcript, err := s.transcriber.Transcribe(ctx, videoURL)
	if err != nil {
		// No partial persistence: a failed transcription leaves no record.
		s.failRun(uploadID, domain.FailureTranscriptionError)
		return nil, err
	}

	record := &domain.FrictionLog{
		VideoURL:        videoURL,
		Log:             transcript.Text,
		Recommendations: []string{},
	}
	recordID, err := s.logRepo.Create(ctx, record)
	if err != nil {
		s.failRun(uploadID, domain.FailurePersistenceError)
		return nil, fmt.Errorf("%w: create friction log: %v", ErrPersistence, err)
	}
	s.trackStage(ctx, uploadID, domain.StagePersisted, repository.RunPatch{
		FrictionLogID:    &recordID,
		AudioArtifactKey: transcript.ArtifactKey,
	})

	return &ReadinessResult{PlaybackID: status.PlaybackID, RecordID: recordID, Log: transcript.Text}, nil
}

// awaitReadiness polls the asset status on a fixed schedule. Any non-ready
// status counts as transient unless the platform reports a terminal state,
// which stops the loop immediately. The sleep is cancellable so an abandoned
// request does not leave orphaned polling behind.
func (s *pipelineService) awaitReadiness(ctx context.Context, uploadID, assetID string) (media.AssetStatus, error) {
	for attempt := 1; attempt <= s.cfg.PollAttempts; attempt++ {
		status, err := s.gateway.GetAssetStatus(ctx, assetID)
		switch {
		case errors.Is(err, media.ErrAssetNotFound):
			s.failRun(uploadID, domain.FailureAssetUnresolved)
			return media.AssetStatus{}, err
		case err != nil:
			// Transient transport trouble; the attempt budget absorbs it.
			s.warn(err, "asset status lookup failed", uploadID)
		case status.Terminal():
			s.failRun(uploadID, domain.FailureAssetErrored)
			return media.AssetStatus{}, ErrAssetProcessingFailed
		case status.Ready():
			return status, nil
		}

		if attempt == s.cfg.PollAttempts {
			break
		}
		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return media.AssetStatus{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.failRun(uploadID, domain.FailureReadinessTimeout)
	return media.AssetStatus{}, ErrAssetNotReady
}

// === Analysis streaming and final persistence ===

func (s *pipelineService) RunAnalysis(ctx context.Context, recordID primitive.ObjectID, transcript string, sink func(chunk string) error) (string, error) {
	record, err := s.logRepo.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrRecordNotFound
		}
		return "", err
	}
	if len(record.Recommendations) > 0 {
		return "", ErrAlreadyAnalyzed
	}
	if strings.TrimSpace(transcript) == "" {
		transcript = record.Log
	}

	s.trackAnalysisStage(ctx, recordID, domain.StageAnalyzing)

	chunks, err := s.analyzer.Stream(ctx, transcript)
	if err != nil {
		return "", err
	}

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return full.String(), chunk.Err
		}
		full.WriteString(chunk.Text)
		if sink != nil {
			if err := sink(chunk.Text); err != nil {
				// The consumer is gone; an incomplete critique is never
				// persisted. The remaining chunks are discarded off-request so
				// the streamer is never left parked on an unread channel.
				go func() {
					for range chunks {
					}
				}()
				return full.String(), fmt.Errorf("deliver analysis chunk: %w", err)
			}
		}
	}

	text := full.String()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no analysis generated")
	}

	if err := s.logRepo.SetRecommendations(ctx, recordID, text); err != nil {
		switch {
		case errors.Is(err, repository.ErrUpdateFailed):
			// Lost a race with a concurrent analysis of the same record.
			return text, ErrAlreadyAnalyzed
		case errors.Is(err, repository.ErrNotFound):
			return text, ErrRecordNotFound
		default:
			// The text was generated and already shown to the caller; only the
			// durable copy is missing. Documented inconsistency window.
			return text, fmt.Errorf("%w: update recommendations: %v", ErrPersistence, err)
		}
	}

	s.trackAnalysisStage(ctx, recordID, domain.StageComplete)
	return text, nil
}

// === Audio artifact access ===

func (s *pipelineService) AudioArtifactURL(ctx context.Context, uploadID string) (string, error) {
	run, err := s.artifactRun(ctx, uploadID)
	if err != nil {
		return "", err
	}
	return s.artifacts.GeneratePresignedDownloadURL(ctx, run.AudioArtifactKey, storage.DefaultPresignedURLExpiry)
}

func (s *pipelineService) PurgeAudioArtifact(ctx context.Context, uploadID string) error {
	run, err := s.artifactRun(ctx, uploadID)
	if err != nil {
		return err
	}
	if err := s.artifacts.DeleteObject(ctx, run.AudioArtifactKey); err != nil {
		return err
	}
	// The object is gone; a stale key would only produce dead links.
	if err := s.runRepo.ClearAudioArtifact(ctx, uploadID); err != nil {
		s.warn(err, "failed to clear artifact key", uploadID)
	}
	return nil
}

// artifactRun loads the run behind an upload and checks it has archived audio.
func (s *pipelineService) artifactRun(ctx context.Context, uploadID string) (*domain.IngestionRun, error) {
	if s.artifacts == nil {
		return nil, ErrArtifactUnavailable
	}
	if strings.TrimSpace(uploadID) == "" {
		return nil, errors.New("upload ID is required")
	}
	run, err := s.runRepo.GetByUploadID(ctx, uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrArtifactUnavailable
		}
		return nil, err
	}
	if run.AudioArtifactKey == "" {
		return nil, ErrArtifactUnavailable
	}
	return run, nil
}

// --- run tracking helpers (best effort) ---

func (s *pipelineService) trackStage(ctx context.Context, uploadID string, stage domain.RunStage, patch repository.RunPatch) {
	if err := s.runRepo.UpdateStage(ctx, uploadID, stage, patch); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.warn(err, "failed to update run stage", uploadID)
	}
}

func (s *pipelineService) trackAnalysisStage(ctx context.Context, recordID primitive.ObjectID, stage domain.RunStage) {
	if err := s.runRepo.UpdateStageByRecord(ctx, recordID, stage); err != nil {
		s.warn(err, "failed to update run stage", recordID.Hex())
	}
}

// failRun uses a background context so the failure is recorded even when the
// request context is already cancelled.
func (s *pipelineService) failRun(uploadID string, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runRepo.Fail(ctx, uploadID, reason); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.warn(err, "failed to mark run as failed", uploadID)
	}
}

func (s *pipelineService) warn(err error, msg, id string) {
	if s.log != nil {
		s.log.WithError(err).WithField("upload_id", id).Warn(msg)
	}
}
