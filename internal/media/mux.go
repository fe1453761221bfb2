package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"frictionlog/app/internal/config"

	"github.com/cenkalti/backoff/v4"
)

const defaultHTTPTimeout = 15 * time.Second

// muxGateway implements Gateway against the Mux Video REST API.
type muxGateway struct {
	cfg        config.MuxConfig
	httpClient *http.Client

	resolveAttempts int
	resolveInterval time.Duration
}

var _ Gateway = (*muxGateway)(nil)

// Option configures the gateway.
type Option func(*muxGateway)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *muxGateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithResolveSchedule overrides the asset-ID lookup retry budget.
func WithResolveSchedule(attempts int, interval time.Duration) Option {
	return func(g *muxGateway) {
		if attempts > 0 {
			g.resolveAttempts = attempts
		}
		if interval > 0 {
			g.resolveInterval = interval
		}
	}
}

// NewMuxGateway creates a Gateway backed by the Mux Video API.
func NewMuxGateway(cfg config.MuxConfig, opts ...Option) (Gateway, error) {
	if strings.TrimSpace(cfg.TokenID) == "" || strings.TrimSpace(cfg.TokenSecret) == "" {
		return nil, errors.New("mux gateway: token id and secret are required")
	}
	g := &muxGateway{
		cfg:             cfg,
		httpClient:      &http.Client{Timeout: defaultHTTPTimeout},
		resolveAttempts: 5,
		resolveInterval: 2 * time.Second,
	}
	if g.cfg.BaseURL == "" {
		g.cfg.BaseURL = "https://api.mux.com"
	}
	if g.cfg.StreamBaseURL == "" {
		g.cfg.StreamBaseURL = "https://stream.mux.com"
	}
	g.cfg.BaseURL = strings.TrimRight(g.cfg.BaseURL, "/")
	g.cfg.StreamBaseURL = strings.TrimRight(g.cfg.StreamBaseURL, "/")
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// --- API payloads ---

type uploadResponse struct {
	Data struct {
		ID      string `json:"id"`
		URL     string `json:"url"`
		AssetID string `json:"asset_id"`
		Status  string `json:"status"`
	} `json:"data"`
}

type assetResponse struct {
	Data struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		PlaybackIDs []struct {
			ID     string `json:"id"`
			Policy string `json:"policy"`
		} `json:"playback_ids"`
	} `json:"data"`
}

// CreateUploadTarget requests a direct-upload URL with a public playback
// policy, scoped to the configured CORS origin.
func (g *muxGateway) CreateUploadTarget(ctx context.Context) (UploadTarget, error) {
	body := map[string]any{
		"cors_origin": g.cfg.UploadOrigin,
		"new_asset_settings": map[string]any{
			"playback_policy": []string{"public"},
		},
	}
	var resp uploadResponse
	if err := g.doJSON(ctx, http.MethodPost, "/video/v1/uploads", body, &resp); err != nil {
		return UploadTarget{}, err
	}
	if resp.Data.ID == "" || resp.Data.URL == "" {
		return UploadTarget{}, fmt.Errorf("%w: upload response missing id or url", ErrUpstreamUnavailable)
	}
	return UploadTarget{URL: resp.Data.URL, UploadID: resp.Data.ID}, nil
}

// ResolveAssetID polls the upload until the platform has assigned an asset.
// Transport errors during the window count as "not yet" rather than failures;
// only budget exhaustion surfaces, and it surfaces as ErrAssetNotFound.
func (g *muxGateway) ResolveAssetID(ctx context.Context, uploadID string) (string, error) {
	if strings.TrimSpace(uploadID) == "" {
		return "", errors.New("resolve asset: upload id is required")
	}

	var assetID string
	operation := func() error {
		var resp uploadResponse
		if err := g.doJSON(ctx, http.MethodGet, "/video/v1/uploads/"+uploadID, nil, &resp); err != nil {
			return err
		}
		if resp.Data.AssetID == "" {
			return fmt.Errorf("asset not yet assigned for upload %s", uploadID)
		}
		assetID = resp.Data.AssetID
		return nil
	}

	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.resolveInterval), uint64(g.resolveAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, schedule); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrAssetNotFound
	}
	return assetID, nil
}

// GetAssetStatus looks up the asset once. When the asset is ready the first
// public playback ID is authoritative; the platform may assign several.
func (g *muxGateway) GetAssetStatus(ctx context.Context, assetID string) (AssetStatus, error) {
	if strings.TrimSpace(assetID) == "" {
		return AssetStatus{}, errors.New("asset status: asset id is required")
	}
	var resp assetResponse
	if err := g.doJSON(ctx, http.MethodGet, "/video/v1/assets/"+assetID, nil, &resp); err != nil {
		return AssetStatus{}, err
	}

	status := AssetStatus{Status: resp.Data.Status}
	if status.Status == AssetStatusReady {
		for _, pb := range resp.Data.PlaybackIDs {
			if pb.Policy == "public" || pb.Policy == "" {
				status.PlaybackID = pb.ID
				break
			}
		}
	}
	return status, nil
}

// StreamURL builds the public HLS URL for a playback ID.
func (g *muxGateway) StreamURL(playbackID string) string {
	return fmt.Sprintf("%s/%s.m3u8", g.cfg.StreamBaseURL, playbackID)
}

// doJSON performs one authenticated API call and decodes the response.
func (g *muxGateway) doJSON(ctx context.Context, method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mux request: encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("mux request: new request: %w", err)
	}
	req.SetBasicAuth(g.cfg.TokenID, g.cfg.TokenSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http %d: %s", ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if target != nil {
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("mux request: decode response: %w", err)
		}
	}
	return nil
}
