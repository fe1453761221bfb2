package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"frictionlog/app/internal/logger"
	"frictionlog/app/internal/service"
	"frictionlog/app/internal/transcription"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// stubPipeline satisfies service.PipelineService for handler tests.
type stubPipeline struct {
	createFn      func(ctx context.Context) (*service.UploadTargetResult, error)
	readinessFn   func(ctx context.Context, uploadID string) (*service.ReadinessResult, error)
	analysisFn    func(ctx context.Context, recordID primitive.ObjectID, transcript string, sink func(string) error) (string, error)
	artifactURLFn func(ctx context.Context, uploadID string) (string, error)
	purgeFn       func(ctx context.Context, uploadID string) error
}

func (s *stubPipeline) CreateUpload(ctx context.Context) (*service.UploadTargetResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx)
	}
	return &service.UploadTargetResult{UploadURL: "https://upload.example.com/put", UploadID: "up_123"}, nil
}

func (s *stubPipeline) CheckReadiness(ctx context.Context, uploadID string) (*service.ReadinessResult, error) {
	if s.readinessFn != nil {
		return s.readinessFn(ctx, uploadID)
	}
	return &service.ReadinessResult{PlaybackID: "pb_1", RecordID: primitive.NewObjectID(), Log: "Hello world"}, nil
}

func (s *stubPipeline) RunAnalysis(ctx context.Context, recordID primitive.ObjectID, transcript string, sink func(string) error) (string, error) {
	if s.analysisFn != nil {
		return s.analysisFn(ctx, recordID, transcript, sink)
	}
	return "", nil
}

func (s *stubPipeline) AudioArtifactURL(ctx context.Context, uploadID string) (string, error) {
	if s.artifactURLFn != nil {
		return s.artifactURLFn(ctx, uploadID)
	}
	return "", service.ErrArtifactUnavailable
}

func (s *stubPipeline) PurgeAudioArtifact(ctx context.Context, uploadID string) error {
	if s.purgeFn != nil {
		return s.purgeFn(ctx, uploadID)
	}
	return service.ErrArtifactUnavailable
}

func newTestRouter(pipeline service.PipelineService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, logger.New(), pipeline)
	return router
}

func decodeError(t *testing.T, body *bytes.Buffer) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(body.Bytes(), &payload); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, body.String())
	}
	return payload["error"]
}

func TestPingRoute(t *testing.T) {
	router := newTestRouter(&stubPipeline{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id header not set")
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	router := newTestRouter(&stubPipeline{})
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("request id not echoed, got %q", got)
	}
}

func TestCreateUploadReturnsTarget(t *testing.T) {
	router := newTestRouter(&stubPipeline{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	var resp CreateUploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UploadID != "up_123" || resp.UploadURL == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCreateUploadFailure(t *testing.T) {
	router := newTestRouter(&stubPipeline{
		createFn: func(ctx context.Context) (*service.UploadTargetResult, error) {
			return nil, errors.New("upstream down")
		},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if msg := decodeError(t, w.Body); msg != "Error creating upload URL" {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestCheckReadinessSuccess(t *testing.T) {
	recordID := primitive.NewObjectID()
	router := newTestRouter(&stubPipeline{
		readinessFn: func(ctx context.Context, uploadID string) (*service.ReadinessResult, error) {
			if uploadID != "up_123" {
				t.Fatalf("handler passed upload id %q", uploadID)
			}
			return &service.ReadinessResult{PlaybackID: "pb_1", RecordID: recordID, Log: "Hello world"}, nil
		},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/uploads/readiness?uploadId=up_123", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var resp ReadinessResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PlaybackID != "pb_1" || resp.RecordID != recordID.Hex() || resp.Log != "Hello world" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCheckReadinessMissingUploadID(t *testing.T) {
	router := newTestRouter(&stubPipeline{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/uploads/readiness", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCheckReadinessNotReadySentinel(t *testing.T) {
	router := newTestRouter(&stubPipeline{
		readinessFn: func(ctx context.Context, uploadID string) (*service.ReadinessResult, error) {
			return nil, service.ErrAssetNotReady
		},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/uploads/readiness?uploadId=up_123", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	// Clients pattern-match this exact message to keep polling.
	if msg := decodeError(t, w.Body); msg != "Asset is not ready yet" {
		t.Fatalf("retry-later sentinel changed: %q", msg)
	}
}

func TestCheckReadinessErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"unresolved", service.ErrAssetUnresolved, http.StatusBadRequest, "Could not retrieve Asset ID from Upload ID"},
		{"transcription", transcription.ErrTranscription, http.StatusInternalServerError, "Error processing video"},
		{"processing failed", service.ErrAssetProcessingFailed, http.StatusInternalServerError, "Error processing video"},
		{"persistence", service.ErrPersistence, http.StatusInternalServerError, "Error processing video"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubPipeline{
				readinessFn: func(ctx context.Context, uploadID string) (*service.ReadinessResult, error) {
					return nil, tc.err
				},
			})
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/uploads/readiness?uploadId=up_123", nil))

			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, w.Code)
			}
			if msg := decodeError(t, w.Body); msg != tc.wantMsg {
				t.Fatalf("unexpected message %q", msg)
			}
		})
	}
}

func postAnalysis(router *gin.Engine, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRunAnalysisStructuredRequest(t *testing.T) {
	recordID := primitive.NewObjectID()
	router := newTestRouter(&stubPipeline{
		analysisFn: func(ctx context.Context, gotID primitive.ObjectID, transcript string, sink func(string) error) (string, error) {
			if gotID != recordID {
				t.Fatalf("handler passed record id %s", gotID.Hex())
			}
			if transcript != "Hello world" {
				t.Fatalf("handler passed transcript %q", transcript)
			}
			for _, chunk := range []string{"friction ", "found"} {
				if err := sink(chunk); err != nil {
					return "", err
				}
			}
			return "friction found", nil
		},
	})

	w := postAnalysis(router, AnalysisRequest{RecordID: recordID.Hex(), Transcript: "Hello world"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if w.Body.String() != "friction found" {
		t.Fatalf("streamed body %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestRunAnalysisLegacyPrompt(t *testing.T) {
	recordID := primitive.NewObjectID()
	prompt := "Transcript: Hello world\nFriction Log ID: " + recordID.Hex()

	var gotTranscript string
	router := newTestRouter(&stubPipeline{
		analysisFn: func(ctx context.Context, gotID primitive.ObjectID, transcript string, sink func(string) error) (string, error) {
			if gotID != recordID {
				t.Fatalf("legacy prompt id not recovered, got %s", gotID.Hex())
			}
			gotTranscript = transcript
			return "ok", sink("ok")
		},
	})

	w := postAnalysis(router, AnalysisRequest{Prompt: prompt})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	// The legacy prompt blob doubles as the analysis input.
	if !strings.Contains(gotTranscript, "Hello world") {
		t.Fatalf("legacy transcript not forwarded, got %q", gotTranscript)
	}
}

func TestRunAnalysisMissingPrompt(t *testing.T) {
	router := newTestRouter(&stubPipeline{})

	w := postAnalysis(router, map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if msg := decodeError(t, w.Body); msg != "Missing prompt" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestRunAnalysisPromptWithoutRecordID(t *testing.T) {
	router := newTestRouter(&stubPipeline{})

	w := postAnalysis(router, AnalysisRequest{Prompt: "Transcript: Hello world, no identifier here"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if msg := decodeError(t, w.Body); msg != "Missing frictionLogId" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestRunAnalysisMalformedRecordID(t *testing.T) {
	router := newTestRouter(&stubPipeline{})

	w := postAnalysis(router, AnalysisRequest{RecordID: "not-a-hex-id", Transcript: "Hello"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRunAnalysisRecordNotFound(t *testing.T) {
	router := newTestRouter(&stubPipeline{
		analysisFn: func(ctx context.Context, recordID primitive.ObjectID, transcript string, sink func(string) error) (string, error) {
			return "", service.ErrRecordNotFound
		},
	})

	w := postAnalysis(router, AnalysisRequest{RecordID: primitive.NewObjectID().Hex(), Transcript: "Hello"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRunAnalysisAlreadyAnalyzedConflict(t *testing.T) {
	router := newTestRouter(&stubPipeline{
		analysisFn: func(ctx context.Context, recordID primitive.ObjectID, transcript string, sink func(string) error) (string, error) {
			return "", service.ErrAlreadyAnalyzed
		},
	})

	w := postAnalysis(router, AnalysisRequest{RecordID: primitive.NewObjectID().Hex(), Transcript: "Hello"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestGetAudioArtifact(t *testing.T) {
	router := newTestRouter(&stubPipeline{
		artifactURLFn: func(ctx context.Context, uploadID string) (string, error) {
			if uploadID != "up_123" {
				t.Fatalf("handler passed upload id %q", uploadID)
			}
			return "https://artifacts.example.com/audio/abc.mp3?sig=abc", nil
		},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts/audio?uploadId=up_123", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var resp AudioArtifactResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.URL, "audio/abc.mp3") {
		t.Fatalf("unexpected url %q", resp.URL)
	}
}

func TestGetAudioArtifactNotFound(t *testing.T) {
	router := newTestRouter(&stubPipeline{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts/audio?uploadId=up_123", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetAudioArtifactMissingUploadID(t *testing.T) {
	router := newTestRouter(&stubPipeline{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts/audio", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDeleteAudioArtifact(t *testing.T) {
	purged := ""
	router := newTestRouter(&stubPipeline{
		purgeFn: func(ctx context.Context, uploadID string) error {
			purged = uploadID
			return nil
		},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/artifacts/audio?uploadId=up_123", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (%s)", w.Code, w.Body.String())
	}
	if purged != "up_123" {
		t.Fatalf("purge received %q", purged)
	}
}

func TestDeleteAudioArtifactNotFound(t *testing.T) {
	router := newTestRouter(&stubPipeline{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/artifacts/audio?uploadId=up_123", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRunAnalysisFailureAfterStreamStart(t *testing.T) {
	router := newTestRouter(&stubPipeline{
		analysisFn: func(ctx context.Context, recordID primitive.ObjectID, transcript string, sink func(string) error) (string, error) {
			if err := sink("partial "); err != nil {
				return "", err
			}
			return "partial ", service.ErrPersistence
		},
	})

	w := postAnalysis(router, AnalysisRequest{RecordID: primitive.NewObjectID().Hex(), Transcript: "Hello"})
	// Headers were already flushed with the first chunk; the error cannot
	// change the status, only truncate the body.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after stream start, got %d", w.Code)
	}
	if w.Body.String() != "partial " {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}
