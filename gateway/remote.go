package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/FreshGuard/freshness-service/models"
)

const remoteTimeout = 30 * time.Second

// RemoteProvider relays frames to an external inference service over
// HTTP. The service runs the model and the postprocessing itself, so
// results come back as decoded detections.
type RemoteProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewRemoteProvider(baseURL string, logger *zap.Logger) *RemoteProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: remoteTimeout},
		logger:  logger.Named("remote"),
	}
}

// remoteDetection matches the inference service's wire format. Its x/y are
// the normalized box center.
type remoteDetection struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Width      float32 `json:"width"`
	Height     float32 `json:"height"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
}

type inferResponse struct {
	Success    bool              `json:"success"`
	Detections []remoteDetection `json:"detections"`
}

// Detect posts the frame bytes as multipart form data to /infer and
// decodes the detection list, translating the center-based coordinates to
// the canonical top-left convention.
func (p *RemoteProvider) Detect(ctx context.Context, frame Frame) (*Result, error) {
	if len(frame.Data) == 0 {
		return nil, errors.New("remote backend requires the encoded image bytes")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "upload.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(frame.Data)); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/infer", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference failed with status %d", resp.StatusCode)
	}

	var payload inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !payload.Success {
		return nil, errors.New("inference service reported failure")
	}

	dets := make([]models.Detection, 0, len(payload.Detections))
	for _, d := range payload.Detections {
		dets = append(dets, models.Detection{
			Box: models.Box{
				X:      d.X - d.Width/2,
				Y:      d.Y - d.Height/2,
				Width:  d.Width,
				Height: d.Height,
			},
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
			Label:      d.Label,
		})
	}

	return &Result{Detections: dets}, nil
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Detail      string `json:"detail"`
}

// Ready probes the inference service's /health endpoint.
func (p *RemoteProvider) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: status %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if !health.ModelLoaded {
		return fmt.Errorf("inference service model not loaded: %s", health.Detail)
	}
	return nil
}

func (p *RemoteProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
