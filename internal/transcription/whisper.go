package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"frictionlog/app/internal/config"
	"frictionlog/app/internal/logger"
	"frictionlog/app/internal/storage"

	"github.com/google/uuid"
)

// Audio can run minutes; the upload plus server-side recognition need a
// generous ceiling.
const defaultTimeout = 3 * time.Minute

// whisperTranscriber implements Transcriber by extracting an MP3 audio stream
// with ffmpeg and submitting it to an OpenAI-compatible transcription endpoint.
type whisperTranscriber struct {
	cfg          config.OpenAIConfig
	ffmpegBinary string
	httpClient   *http.Client
	artifacts    storage.ArtifactStorage
	log          *logger.Logger

	// encode is swappable so tests can skip the real ffmpeg invocation.
	encode func(ctx context.Context, source, dest string) error
}

var _ Transcriber = (*whisperTranscriber)(nil)

// Option configures the transcriber.
type Option func(*whisperTranscriber)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *whisperTranscriber) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// WithFFmpegBinary overrides the ffmpeg binary path.
func WithFFmpegBinary(binary string) Option {
	return func(t *whisperTranscriber) {
		if binary != "" {
			t.ffmpegBinary = binary
		}
	}
}

// WithTimeout overrides the request ceiling.
func WithTimeout(timeout time.Duration) Option {
	return func(t *whisperTranscriber) {
		if timeout > 0 {
			t.httpClient.Timeout = timeout
		}
	}
}

// WithArtifactStorage enables archiving of the extracted audio.
func WithArtifactStorage(store storage.ArtifactStorage) Option {
	return func(t *whisperTranscriber) {
		t.artifacts = store
	}
}

// WithEncodeFunc overrides the audio extraction step (useful for tests).
func WithEncodeFunc(encode func(ctx context.Context, source, dest string) error) Option {
	return func(t *whisperTranscriber) {
		if encode != nil {
			t.encode = encode
		}
	}
}

// NewWhisperTranscriber creates a Transcriber backed by ffmpeg and the
// configured speech-recognition endpoint.
func NewWhisperTranscriber(cfg config.OpenAIConfig, log *logger.Logger, opts ...Option) (Transcriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("whisper transcriber: api key is required")
	}
	t := &whisperTranscriber{
		cfg:          cfg,
		ffmpegBinary: "ffmpeg",
		httpClient:   &http.Client{Timeout: defaultTimeout},
		log:          log,
	}
	if t.cfg.BaseURL == "" {
		t.cfg.BaseURL = "https://api.openai.com/v1"
	}
	t.cfg.BaseURL = strings.TrimRight(t.cfg.BaseURL, "/")
	if t.cfg.WhisperModel == "" {
		t.cfg.WhisperModel = "whisper-1"
	}
	t.encode = t.extractAudio
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Transcribe downloads the referenced media, extracts an audio-only MP3 into a
// temporary file, and submits it for recognition. The temporary file is
// removed on success and failure alike.
func (t *whisperTranscriber) Transcribe(ctx context.Context, mediaURL string) (Result, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return Result{}, fmt.Errorf("%w: media url is required", ErrTranscription)
	}

	tmp, err := os.CreateTemp("", "frictionlog-audio-*.mp3")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create temp file: %v", ErrTranscription, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := t.encode(ctx, mediaURL, tmpPath); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranscription, err)
	}

	audio, err := os.ReadFile(tmpPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read encoded audio: %v", ErrTranscription, err)
	}

	artifactKey := t.archive(ctx, audio)

	text, err := t.submit(ctx, audio)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, ArtifactKey: artifactKey}, nil
}

// extractAudio shells out to ffmpeg: audio only, MP3 at a fixed 128k bitrate.
func (t *whisperTranscriber) extractAudio(ctx context.Context, source, dest string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", "128k",
		dest,
	}
	cmd := exec.CommandContext(ctx, t.ffmpegBinary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg extract: %v: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// archive stores the extracted audio when an artifact bucket is configured.
// Best effort: a failed archive is logged and the transcription continues.
func (t *whisperTranscriber) archive(ctx context.Context, audio []byte) string {
	if t.artifacts == nil {
		return ""
	}
	key := fmt.Sprintf("audio/%s.mp3", uuid.New().String())
	if err := t.artifacts.StoreObject(ctx, key, "audio/mpeg", bytes.NewReader(audio)); err != nil {
		if t.log != nil {
			t.log.WithError(err).WithField("artifact_key", key).Warn("audio artifact archive failed")
		}
		return ""
	}
	return key
}

// submit sends the encoded audio to the transcription endpoint as multipart
// form data and returns the recognized text.
func (t *whisperTranscriber) submit(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.mp3")
	if err != nil {
		return "", fmt.Errorf("%w: build form: %v", ErrTranscription, err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("%w: build form: %v", ErrTranscription, err)
	}
	if err := writer.WriteField("model", t.cfg.WhisperModel); err != nil {
		return "", fmt.Errorf("%w: build form: %v", ErrTranscription, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: build form: %v", ErrTranscription, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("%w: new request: %v", ErrTranscription, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrTranscription, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: http %d: %s", ErrTranscription, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTranscription, err)
	}
	return parsed.Text, nil
}
