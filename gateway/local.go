package gateway

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/FreshGuard/freshness-service/detections"
)

const (
	// InputWidth and InputHeight are the model input dimensions.
	InputWidth  = 640
	InputHeight = 640

	// DefaultNumPredictions is the row count of a 640x640 YOLO export:
	// (80*80 + 40*40 + 20*20) cells at 3 anchors each.
	DefaultNumPredictions = 25200

	RetryAttempts = 3
	RetryDelay    = 100 * time.Millisecond
)

// LocalConfig configures the in-process ONNX backend.
type LocalConfig struct {
	ModelPath string
	// LibraryPath points at the onnxruntime shared library. Empty picks
	// a platform default under third_party/.
	LibraryPath    string
	PoolSize       int
	NumClasses     int
	NumPredictions int
	InputName      string
	OutputName     string
}

func (c LocalConfig) withDefaults() LocalConfig {
	if c.LibraryPath == "" {
		c.LibraryPath = defaultSharedLibPath()
	}
	if c.NumPredictions <= 0 {
		c.NumPredictions = DefaultNumPredictions
	}
	if c.InputName == "" {
		c.InputName = "images"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
	return c
}

type modelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (m *modelSession) destroy() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

// LocalProvider runs the detection model in-process with ONNX Runtime.
// Sessions live in a pool so concurrent requests never share one.
type LocalProvider struct {
	cfg    LocalConfig
	pool   *SessionPool
	shape  detections.Shape
	logger *zap.Logger
}

// NewLocalProvider initializes the ONNX environment and a session pool.
func NewLocalProvider(cfg LocalConfig, logger *zap.Logger) (*LocalProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("local backend needs a positive class count, got %d", cfg.NumClasses)
	}

	ort.SetSharedLibraryPath(cfg.LibraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx environment: %w", err)
	}

	p := &LocalProvider{
		cfg:    cfg,
		logger: logger.Named("local"),
		shape: detections.Shape{
			Batch:       1,
			Predictions: cfg.NumPredictions,
			Attributes:  5 + cfg.NumClasses,
		},
	}

	pool, err := NewSessionPool(cfg.PoolSize, p.newSession, p.logger)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}
	p.pool = pool
	return p, nil
}

func (p *LocalProvider) newSession() (*modelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	inputShape := ort.NewShape(1, 3, InputHeight, InputWidth)
	outputShape := ort.NewShape(1, int64(p.shape.Attributes), int64(p.shape.Predictions))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		p.cfg.ModelPath,
		[]string{p.cfg.InputName},
		[]string{p.cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &modelSession{session: session, input: inputTensor, output: outputTensor}, nil
}

// Detect resizes the frame, runs the model and returns the raw output
// tensor in row-major layout with normalized box coordinates. Transient
// inference failures are retried.
func (p *LocalProvider) Detect(ctx context.Context, frame Frame) (*Result, error) {
	if frame.Image == nil {
		return nil, errors.New("local backend requires a decoded image")
	}

	session, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.pool.Release(session)

	var lastErr error
	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			raw, err := p.runOnce(frame.Image, session)
			if err == nil {
				return &Result{Raw: raw, Shape: p.shape}, nil
			}
			lastErr = err
			if attempt < RetryAttempts {
				time.Sleep(time.Duration(attempt) * RetryDelay)
			}
		}
	}
	return nil, lastErr
}

func (p *LocalProvider) runOnce(img image.Image, session *modelSession) ([]float32, error) {
	resized := imaging.Resize(img, InputWidth, InputHeight, imaging.Linear)
	prepareInput(resized, session.input.GetData())

	if err := session.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	return p.toRowMajor(session.output.GetData()), nil
}

// prepareInput fills the tensor buffer in CHW order, rows split across
// workers.
func prepareInput(pic image.Image, data []float32) {
	channelSize := InputWidth * InputHeight
	numWorkers := runtime.NumCPU()
	if numWorkers > InputHeight {
		numWorkers = InputHeight
	}
	rowsPerWorker := InputHeight / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := startY + rowsPerWorker
		if w == numWorkers-1 {
			endY = InputHeight
		}

		wg.Add(1)
		go func(startY, endY int) {
			defer wg.Done()
			for y := startY; y < endY; y++ {
				offset := y * InputWidth
				for x := 0; x < InputWidth; x++ {
					i := offset + x
					r, g, b, _ := pic.At(x, y).RGBA()
					data[i] = float32(r>>8) / 255.0
					data[channelSize+i] = float32(g>>8) / 255.0
					data[channelSize*2+i] = float32(b>>8) / 255.0
				}
			}
		}(startY, endY)
	}
	wg.Wait()
}

// toRowMajor transposes the attribute-major model output into the
// row-major layout the postprocessor expects and normalizes the box
// values from input-pixel space to [0,1].
func (p *LocalProvider) toRowMajor(out []float32) []float32 {
	attrs := p.shape.Attributes
	preds := p.shape.Predictions

	raw := make([]float32, attrs*preds)
	for pi := 0; pi < preds; pi++ {
		base := pi * attrs
		for a := 0; a < attrs; a++ {
			v := out[a*preds+pi]
			switch a {
			case 0, 2:
				v /= InputWidth
			case 1, 3:
				v /= InputHeight
			}
			raw[base+a] = v
		}
	}
	return raw
}

// Ready reports whether the session pool can serve a request.
func (p *LocalProvider) Ready(_ context.Context) error {
	if p.pool.Closed() {
		return errors.New("session pool is closed")
	}
	return nil
}

// PoolStats exposes session pool counters for the metrics endpoint.
func (p *LocalProvider) PoolStats() PoolStats {
	return p.pool.Stats()
}

func (p *LocalProvider) Close() error {
	p.pool.Destroy()
	return ort.DestroyEnvironment()
}

func defaultSharedLibPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "third_party/libonnxruntime.dylib"
	case "windows":
		return "third_party/onnxruntime.dll"
	default:
		if runtime.GOARCH == "arm64" {
			return "third_party/libonnxruntime_arm64.so"
		}
		return "third_party/libonnxruntime.so"
	}
}
