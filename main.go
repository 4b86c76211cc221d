package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/FreshGuard/freshness-service/detections"
	"github.com/FreshGuard/freshness-service/gateway"
	"github.com/FreshGuard/freshness-service/models"
	"github.com/FreshGuard/freshness-service/storage"
)

const maxUploadBytes = 10 << 20

type AppState struct {
	Config   *Config
	Provider gateway.Provider
	Store    *storage.Store
	PostOpts detections.Options
	Logger   *zap.Logger
}

// DetectionPayload is one enriched detection on the wire.
type DetectionPayload struct {
	X          float32              `json:"x"`
	Y          float32              `json:"y"`
	Width      float32              `json:"width"`
	Height     float32              `json:"height"`
	Confidence float32              `json:"confidence"`
	ClassID    int                  `json:"class_id"`
	Label      string               `json:"label"`
	Storage    models.StorageRecord `json:"storage"`
}

type DetectResponse struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Detections []DetectionPayload `json:"detections"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Detail      string `json:"detail,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func main() {
	cfg := LoadConfig()

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	mode, err := detections.ParseScoringMode(cfg.ScoringMode)
	if err != nil {
		logger.Fatal("invalid scoring mode", zap.Error(err))
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 ||
		cfg.NMSThreshold < 0 || cfg.NMSThreshold > 1 {
		logger.Fatal("thresholds must lie in [0,1]",
			zap.Float64("confidence", cfg.ConfidenceThreshold),
			zap.Float64("nms", cfg.NMSThreshold))
	}

	opts := detections.DefaultOptions(cfg.ClassLabels)
	opts.ConfidenceThreshold = float32(cfg.ConfidenceThreshold)
	opts.NMSThreshold = float32(cfg.NMSThreshold)
	opts.Mode = mode

	store := storage.Open(cfg.StorageDataPath, logger)

	provider, err := newProvider(cfg, logger)
	if err != nil {
		logger.Fatal("initialize inference backend", zap.Error(err))
	}
	defer provider.Close()

	state := &AppState{
		Config:   cfg,
		Provider: provider,
		Store:    store,
		PostOpts: opts,
		Logger:   logger,
	}

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	logger.Info("starting server",
		zap.String("addr", srv.Addr),
		zap.String("backend", cfg.Backend),
		zap.Int("reference_records", store.Len()))
	logger.Fatal("server stopped", zap.Error(srv.ListenAndServe()))
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction(zap.AddStacktrace(zapcore.ErrorLevel), zap.AddCaller())
}

func newProvider(cfg *Config, logger *zap.Logger) (gateway.Provider, error) {
	switch cfg.Backend {
	case "remote":
		return gateway.NewRemoteProvider(cfg.InferenceURL, logger), nil
	case "local":
		return gateway.NewLocalProvider(gateway.LocalConfig{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.OnnxLibraryPath,
			PoolSize:    cfg.PoolSize,
			NumClasses:  len(cfg.ClassLabels),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/detect", state.handleDetect).Methods("POST")
	r.HandleFunc("/health", state.handleHealth).Methods("GET")
	r.HandleFunc("/metrics", state.handleMetrics).Methods("GET")
	return r
}

func (s *AppState) handleDetect(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	requestID := uuid.NewString()
	timings := &models.ProcessingTimings{RequestID: requestID}
	ctx := r.Context()

	contentType := r.Header.Get("Content-Type")

	var imgBytes []byte
	var err error
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		imgBytes, err = readJSONUpload(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		imgBytes, err = readMultipartUpload(r)
	default:
		imgBytes, err = io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	}
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	decodeStart := time.Now()
	img, _, err := image.Decode(bytes.NewReader(imgBytes))
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return
	}

	inferStart := time.Now()
	result, err := s.Provider.Detect(ctx, gateway.Frame{Data: imgBytes, Image: img})
	timings.Inference = time.Since(inferStart)
	if err != nil {
		s.Logger.Error("inference failed",
			zap.String("request_id", requestID), zap.Error(err))
		sendErrorResponse(w, "inference_error", err.Error(), http.StatusBadGateway)
		return
	}
	if result == nil {
		sendErrorResponse(w, "inference_error", "backend returned no result", http.StatusBadGateway)
		return
	}

	dets := result.Detections
	if !result.Decoded() {
		postStart := time.Now()
		dets, err = detections.Postprocess(result.Raw, result.Shape, s.PostOpts)
		timings.Postprocess = time.Since(postStart)
		if err != nil {
			s.Logger.Error("postprocessing failed",
				zap.String("request_id", requestID), zap.Error(err))
			sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
			return
		}
	}

	enrichStart := time.Now()
	payloads := s.enrich(dets)
	timings.Enrichment = time.Since(enrichStart)
	timings.Total = time.Since(startTotal)
	s.logTimings(timings)

	respondJSON(w, http.StatusOK, DetectResponse{
		Success:    true,
		Message:    summaryMessage(len(payloads)),
		Detections: payloads,
	})
}

// enrich canonicalizes every label and attaches its storage record,
// substituting the Unknown placeholder when the dataset has no entry.
func (s *AppState) enrich(dets []models.Detection) []DetectionPayload {
	payloads := make([]DetectionPayload, 0, len(dets))
	for _, det := range dets {
		canonical := storage.NormalizeLabel(det.Label)
		record := s.Store.Lookup(canonical)
		if record == nil {
			placeholder := storage.UnknownRecord()
			record = &placeholder
		}
		payloads = append(payloads, DetectionPayload{
			X:          det.Box.X,
			Y:          det.Box.Y,
			Width:      det.Box.Width,
			Height:     det.Box.Height,
			Confidence: det.Confidence,
			ClassID:    det.ClassID,
			Label:      canonical,
			Storage:    *record,
		})
	}
	return payloads
}

func (s *AppState) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Provider.Ready(r.Context()); err != nil {
		respondJSON(w, http.StatusOK, HealthResponse{
			Status:      "error",
			ModelLoaded: false,
			Detail:      err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", ModelLoaded: true})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	type poolStatsProvider interface {
		PoolStats() gateway.PoolStats
	}
	if p, ok := s.Provider.(poolStatsProvider); ok {
		respondJSON(w, http.StatusOK, p.PoolStats())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"backend": s.Config.Backend})
}

func readJSONUpload(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func readMultipartUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func summaryMessage(count int) string {
	switch count {
	case 0:
		return "No food items detected"
	case 1:
		return "Detected 1 food item"
	default:
		return fmt.Sprintf("Detected %d food items", count)
	}
}

func (s *AppState) logTimings(t *models.ProcessingTimings) {
	if !s.Config.Debug {
		return
	}
	s.Logger.Debug("processing times",
		zap.String("request_id", t.RequestID),
		zap.Duration("image_decode", t.ImageDecode),
		zap.Duration("inference", t.Inference),
		zap.Duration("postprocess", t.Postprocess),
		zap.Duration("enrichment", t.Enrichment),
		zap.Duration("total", t.Total))
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	respondJSON(w, status, ErrorResponse{Code: code, Message: message})
}
