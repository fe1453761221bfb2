package api

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"frictionlog/app/internal/analysis"
	"frictionlog/app/internal/logger"
	"frictionlog/app/internal/media"
	"frictionlog/app/internal/service"
	"frictionlog/app/internal/transcription"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PipelineHandler holds the pipeline service dependency.
type PipelineHandler struct {
	pipeline service.PipelineService
	log      *logger.Logger
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(pipeline service.PipelineService, log *logger.Logger) *PipelineHandler {
	return &PipelineHandler{pipeline: pipeline, log: log}
}

// --- DTOs for API (Data Transfer Objects) ---

// CreateUploadResponse carries the one-time upload target back to the client.
type CreateUploadResponse struct {
	UploadURL string `json:"uploadUrl"`
	UploadID  string `json:"uploadId"`
}

// ReadinessResponse is returned once the upload has been transcribed and persisted.
type ReadinessResponse struct {
	PlaybackID string `json:"playbackId"`
	RecordID   string `json:"recordId"`
	Log        string `json:"log"`
}

// AudioArtifactResponse carries a time-limited download link for archived audio.
type AudioArtifactResponse struct {
	URL string `json:"url"`
}

// AnalysisRequest asks for a critique of a transcript. RecordID and Transcript
// are the structured form; Prompt is the legacy form where both were embedded
// in a single text blob and recovered by pattern matching.
type AnalysisRequest struct {
	RecordID   string `json:"recordId"`
	Transcript string `json:"transcript"`
	Prompt     string `json:"prompt"`
}

// legacyIDPattern recovers the record identifier smuggled inside a legacy
// prompt payload.
var legacyIDPattern = regexp.MustCompile(`(?m)Friction Log ID: (.+)$`)

// --- Handler Methods ---

// CreateUpload godoc
// @Summary Create a direct-upload target
// @Description Requests a one-time upload URL and upload ID from the video platform.
// @Tags Pipeline
// @Produce json
// @Success 201 {object} CreateUploadResponse "Upload target created"
// @Failure 500 {object} gin.H "Platform rejected the request"
// @Router /uploads [post]
func (h *PipelineHandler) CreateUpload(c *gin.Context) {
	result, err := h.pipeline.CreateUpload(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to create upload target")
		abortWithError(c, http.StatusInternalServerError, "Error creating upload URL")
		return
	}
	c.JSON(http.StatusCreated, CreateUploadResponse{UploadURL: result.UploadURL, UploadID: result.UploadID})
}

// CheckReadiness godoc
// @Summary Check upload readiness and transcribe
// @Description Polls the platform for the asset, transcribes the stream once ready, and persists a friction log record.
// @Tags Pipeline
// @Produce json
// @Param uploadId query string true "Platform upload identifier"
// @Success 200 {object} ReadinessResponse "Record created"
// @Failure 400 {object} gin.H "Asset is not ready yet (retry later) or invalid upload ID"
// @Failure 404 {object} gin.H "Asset not found"
// @Failure 500 {object} gin.H "Transcription or store failure"
// @Router /uploads/readiness [get]
func (h *PipelineHandler) CheckReadiness(c *gin.Context) {
	uploadID := c.Query("uploadId")
	if strings.TrimSpace(uploadID) == "" {
		abortWithError(c, http.StatusBadRequest, "Invalid uploadId (expected Upload ID)")
		return
	}

	result, err := h.pipeline.CheckReadiness(c.Request.Context(), uploadID)
	if err != nil {
		h.respondReadinessError(c, uploadID, err)
		return
	}

	c.JSON(http.StatusOK, ReadinessResponse{
		PlaybackID: result.PlaybackID,
		RecordID:   result.RecordID.Hex(),
		Log:        result.Log,
	})
}

// respondReadinessError maps pipeline failures onto the readiness contract.
// The 400 sentinel message is load-bearing: clients pattern-match it to keep
// polling, so it must stay distinct from hard errors.
func (h *PipelineHandler) respondReadinessError(c *gin.Context, uploadID string, err error) {
	switch {
	case errors.Is(err, service.ErrAssetNotReady):
		abortWithError(c, http.StatusBadRequest, "Asset is not ready yet")
	case errors.Is(err, service.ErrAssetUnresolved):
		abortWithError(c, http.StatusBadRequest, "Could not retrieve Asset ID from Upload ID")
	case errors.Is(err, media.ErrAssetNotFound):
		abortWithError(c, http.StatusNotFound, "Asset not found")
	case errors.Is(err, transcription.ErrTranscription):
		h.log.WithError(err).WithField("upload_id", uploadID).Error("transcription failed")
		abortWithError(c, http.StatusInternalServerError, "Error processing video")
	default:
		h.log.WithError(err).WithField("upload_id", uploadID).Error("readiness check failed")
		abortWithError(c, http.StatusInternalServerError, "Error processing video")
	}
}

// RunAnalysis godoc
// @Summary Stream an AI critique for a transcript
// @Description Streams the generated friction log critique as plain text chunks and persists the final text onto the record.
// @Tags Pipeline
// @Accept json
// @Produce plain
// @Param request body AnalysisRequest true "Record ID and transcript (or legacy prompt)"
// @Success 200 {string} string "Streamed critique"
// @Failure 400 {object} gin.H "Missing prompt or record ID"
// @Failure 404 {object} gin.H "Record not found"
// @Failure 409 {object} gin.H "Record already analyzed"
// @Failure 500 {object} gin.H "Upstream or store error"
// @Router /analysis [post]
func (h *PipelineHandler) RunAnalysis(c *gin.Context) {
	var req AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Missing prompt")
		return
	}

	recordHex, transcript, ok := req.resolve()
	if !ok {
		if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.Transcript) == "" {
			abortWithError(c, http.StatusBadRequest, "Missing prompt")
		} else {
			abortWithError(c, http.StatusBadRequest, "Missing frictionLogId")
		}
		return
	}

	recordID, err := primitive.ObjectIDFromHex(recordHex)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Missing frictionLogId")
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("X-Accel-Buffering", "no")

	wrote := false
	sink := func(chunk string) error {
		if _, err := c.Writer.WriteString(chunk); err != nil {
			return err
		}
		c.Writer.Flush()
		wrote = true
		return nil
	}

	_, err = h.pipeline.RunAnalysis(c.Request.Context(), recordID, transcript, sink)
	if err == nil {
		return
	}
	if wrote {
		// Headers are gone; the stream already carried partial or full text.
		// The failure is logged and the caller sees a truncated body.
		h.log.WithError(err).WithField("record_id", recordHex).Error("analysis failed after stream start")
		return
	}

	switch {
	case errors.Is(err, service.ErrRecordNotFound):
		abortWithError(c, http.StatusNotFound, "Friction log not found")
	case errors.Is(err, service.ErrAlreadyAnalyzed):
		abortWithError(c, http.StatusConflict, "Friction log already analyzed")
	case errors.Is(err, analysis.ErrUpstreamUnavailable):
		h.log.WithError(err).WithField("record_id", recordHex).Error("analysis upstream failed")
		abortWithError(c, http.StatusInternalServerError, "Error processing request")
	default:
		h.log.WithError(err).WithField("record_id", recordHex).Error("analysis failed")
		abortWithError(c, http.StatusInternalServerError, "Error processing request")
	}
}

// GetAudioArtifact godoc
// @Summary Get a download URL for a run's archived audio
// @Description Returns a presigned, time-limited URL for the audio the transcript was produced from.
// @Tags Pipeline
// @Produce json
// @Param uploadId query string true "Platform upload identifier"
// @Success 200 {object} AudioArtifactResponse "Download URL"
// @Failure 400 {object} gin.H "Invalid upload ID"
// @Failure 404 {object} gin.H "No archived audio for this upload"
// @Failure 500 {object} gin.H "Storage error"
// @Router /artifacts/audio [get]
func (h *PipelineHandler) GetAudioArtifact(c *gin.Context) {
	uploadID := c.Query("uploadId")
	if strings.TrimSpace(uploadID) == "" {
		abortWithError(c, http.StatusBadRequest, "Invalid uploadId (expected Upload ID)")
		return
	}

	url, err := h.pipeline.AudioArtifactURL(c.Request.Context(), uploadID)
	if err != nil {
		if errors.Is(err, service.ErrArtifactUnavailable) {
			abortWithError(c, http.StatusNotFound, "Audio artifact not found")
			return
		}
		h.log.WithError(err).WithField("upload_id", uploadID).Error("failed to presign audio artifact")
		abortWithError(c, http.StatusInternalServerError, "Error generating download URL")
		return
	}

	c.JSON(http.StatusOK, AudioArtifactResponse{URL: url})
}

// DeleteAudioArtifact godoc
// @Summary Delete a run's archived audio
// @Description Removes the archived audio object and its reference on the run.
// @Tags Pipeline
// @Produce json
// @Param uploadId query string true "Platform upload identifier"
// @Success 204 "Artifact deleted"
// @Failure 400 {object} gin.H "Invalid upload ID"
// @Failure 404 {object} gin.H "No archived audio for this upload"
// @Failure 500 {object} gin.H "Storage error"
// @Router /artifacts/audio [delete]
func (h *PipelineHandler) DeleteAudioArtifact(c *gin.Context) {
	uploadID := c.Query("uploadId")
	if strings.TrimSpace(uploadID) == "" {
		abortWithError(c, http.StatusBadRequest, "Invalid uploadId (expected Upload ID)")
		return
	}

	if err := h.pipeline.PurgeAudioArtifact(c.Request.Context(), uploadID); err != nil {
		if errors.Is(err, service.ErrArtifactUnavailable) {
			abortWithError(c, http.StatusNotFound, "Audio artifact not found")
			return
		}
		h.log.WithError(err).WithField("upload_id", uploadID).Error("failed to delete audio artifact")
		abortWithError(c, http.StatusInternalServerError, "Error deleting artifact")
		return
	}

	c.Status(http.StatusNoContent)
}

// resolve extracts the record ID and transcript from either the structured
// fields or the legacy prompt blob.
func (r AnalysisRequest) resolve() (recordID, transcript string, ok bool) {
	recordID = strings.TrimSpace(r.RecordID)
	transcript = strings.TrimSpace(r.Transcript)

	if recordID == "" && r.Prompt != "" {
		if m := legacyIDPattern.FindStringSubmatch(r.Prompt); m != nil {
			recordID = strings.TrimSpace(m[1])
		}
	}
	if transcript == "" {
		// The legacy prompt doubles as the analysis input text.
		transcript = strings.TrimSpace(r.Prompt)
	}

	if recordID == "" {
		return "", "", false
	}
	return recordID, transcript, true
}

// abortWithError writes the structured error payload shared by all handlers.
func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
