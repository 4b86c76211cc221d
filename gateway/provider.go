// Package gateway connects the service to an inference backend: an
// in-process ONNX model or a remote HTTP inference service.
package gateway

import (
	"context"
	"image"

	"github.com/FreshGuard/freshness-service/detections"
	"github.com/FreshGuard/freshness-service/models"
)

// Frame is one uploaded image handed to a backend. Data carries the
// original encoded bytes (forwarded as-is by remote backends); Image is
// the decoded picture consumed by in-process backends.
type Frame struct {
	Data  []byte
	Image image.Image
}

// Result is a backend's answer. Exactly one of the two forms is set:
// a raw output tensor that still needs postprocessing, or detections the
// backend already decoded into the canonical box convention.
type Result struct {
	Raw        []float32
	Shape      detections.Shape
	Detections []models.Detection
}

// Decoded reports whether the backend already produced final detections.
func (r *Result) Decoded() bool {
	return r.Raw == nil
}

// Provider runs inference on single frames. Implementations have an
// explicit lifecycle: construct, probe with Ready, Close when done.
type Provider interface {
	Detect(ctx context.Context, frame Frame) (*Result, error)
	Ready(ctx context.Context) error
	Close() error
}
