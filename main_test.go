package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/FreshGuard/freshness-service/detections"
	"github.com/FreshGuard/freshness-service/gateway"
	"github.com/FreshGuard/freshness-service/models"
	"github.com/FreshGuard/freshness-service/storage"
)

// stubProvider returns a canned result, or an error.
type stubProvider struct {
	result *gateway.Result
	err    error
}

func (s *stubProvider) Detect(_ context.Context, _ gateway.Frame) (*gateway.Result, error) {
	return s.result, s.err
}

func (s *stubProvider) Ready(_ context.Context) error { return s.err }
func (s *stubProvider) Close() error                  { return nil }

func newTestState(t *testing.T, provider gateway.Provider) *AppState {
	t.Helper()
	return &AppState{
		Config:   &Config{Backend: "stub"},
		Provider: provider,
		Store:    storage.Open("", zap.NewNop()),
		PostOpts: detections.DefaultOptions(defaultClassLabels),
		Logger:   zap.NewNop(),
	}
}

func testImageBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func postDetect(t *testing.T, state *AppState, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	newRouter(state).ServeHTTP(rec, req)
	return rec
}

func TestHandleDetect_DecodedResult(t *testing.T) {
	provider := &stubProvider{result: &gateway.Result{
		Detections: []models.Detection{
			{
				Box:        models.Box{X: 0.4, Y: 0.3, Width: 0.2, Height: 0.4},
				Confidence: 0.91,
				ClassID:    8,
				Label:      "rotten_apple",
			},
		},
	}}
	state := newTestState(t, provider)

	rec := postDetect(t, state, testImageBytes(t), "application/octet-stream")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp DetectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || len(resp.Detections) != 1 {
		t.Fatalf("response = %+v", resp)
	}

	d := resp.Detections[0]
	if d.Label != "Rotten_Apple" {
		t.Errorf("label = %q, expected canonical Rotten_Apple", d.Label)
	}
	if d.Storage.Status != "Rotten" {
		t.Errorf("storage status = %q, expected Rotten", d.Storage.Status)
	}
	if d.Storage.ShelfLifeDays == nil || *d.Storage.ShelfLifeDays != 0 {
		t.Errorf("shelfLifeDays = %v, expected 0", d.Storage.ShelfLifeDays)
	}
}

func TestHandleDetect_RawResultIsPostprocessed(t *testing.T) {
	// Two rows describing the same normalized box; NMS must collapse them.
	row := func(obj float32) []float32 {
		r := []float32{0.5, 0.5, 0.2, 0.2, obj}
		scores := make([]float32, len(defaultClassLabels))
		scores[0] = 0.95 // fresh_apple
		return append(r, scores...)
	}
	raw := append(row(0.9), row(0.8)...)

	provider := &stubProvider{result: &gateway.Result{
		Raw:   raw,
		Shape: detections.Shape{Batch: 1, Predictions: 2, Attributes: 5 + len(defaultClassLabels)},
	}}
	state := newTestState(t, provider)

	rec := postDetect(t, state, testImageBytes(t), "application/octet-stream")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp DetectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Detections) != 1 {
		t.Fatalf("expected 1 detection after suppression, got %d", len(resp.Detections))
	}
	if resp.Detections[0].Label != "Fresh_Apple" {
		t.Errorf("label = %q, expected Fresh_Apple", resp.Detections[0].Label)
	}
	if resp.Detections[0].Storage.Status != "Fresh" {
		t.Errorf("storage status = %q, expected Fresh", resp.Detections[0].Storage.Status)
	}
}

func TestHandleDetect_UnknownLabelGetsPlaceholder(t *testing.T) {
	provider := &stubProvider{result: &gateway.Result{
		Detections: []models.Detection{
			{Confidence: 0.7, ClassID: 99, Label: "fresh_dragonfruit"},
		},
	}}
	state := newTestState(t, provider)

	rec := postDetect(t, state, testImageBytes(t), "application/octet-stream")
	var resp DetectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(resp.Detections))
	}
	if resp.Detections[0].Storage.Status != "Unknown" {
		t.Errorf("storage status = %q, expected the Unknown placeholder", resp.Detections[0].Storage.Status)
	}
}

func TestHandleDetect_MultipartUpload(t *testing.T) {
	provider := &stubProvider{result: &gateway.Result{Detections: []models.Detection{}}}
	state := newTestState(t, provider)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "food.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(testImageBytes(t))
	writer.Close()

	rec := postDetect(t, state, body.Bytes(), writer.FormDataContentType())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp DetectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Error("expected success for an empty detection list")
	}
	if resp.Message != "No food items detected" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestHandleDetect_InvalidImage(t *testing.T) {
	state := newTestState(t, &stubProvider{})

	rec := postDetect(t, state, []byte("not an image"), "application/octet-stream")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != "invalid_image" {
		t.Errorf("error code = %q", resp.Code)
	}
}

func TestHandleDetect_InferenceFailure(t *testing.T) {
	state := newTestState(t, &stubProvider{err: errors.New("backend down")})

	rec := postDetect(t, state, testImageBytes(t), "application/octet-stream")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, expected 502", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	state := newTestState(t, &stubProvider{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	newRouter(state).ServeHTTP(rec, req)

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || !resp.ModelLoaded {
		t.Errorf("health = %+v", resp)
	}

	failing := newTestState(t, &stubProvider{err: errors.New("model missing")})
	rec = httptest.NewRecorder()
	newRouter(failing).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "error" || resp.ModelLoaded {
		t.Errorf("health = %+v", resp)
	}
	if resp.Detail == "" {
		t.Error("expected failure detail")
	}
}

func TestHandleMetrics_NonPoolBackend(t *testing.T) {
	state := newTestState(t, &stubProvider{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	newRouter(state).ServeHTTP(rec, req)

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["backend"] != "stub" {
		t.Errorf("metrics = %v", resp)
	}
}
