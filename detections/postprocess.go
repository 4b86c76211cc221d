package detections

import (
	"fmt"

	"github.com/FreshGuard/freshness-service/models"
)

const (
	DefaultConfidenceThreshold = 0.5
	DefaultNMSThreshold        = 0.4

	// boxAttributes is the number of leading attributes in a prediction
	// row before the class scores: cx, cy, w, h, objectness.
	boxAttributes = 5
)

// ScoringMode selects how a row's final confidence is computed. The two
// modes are mutually exclusive per deployment.
type ScoringMode int

const (
	// ScoreRaw multiplies the objectness scalar by the best raw class score.
	ScoreRaw ScoringMode = iota
	// ScoreProbabilistic applies a softmax over class scores and a logistic
	// sigmoid to objectness before taking the product.
	ScoreProbabilistic
)

// ParseScoringMode maps a configuration string to a ScoringMode.
func ParseScoringMode(s string) (ScoringMode, error) {
	switch s {
	case "", "raw":
		return ScoreRaw, nil
	case "probabilistic":
		return ScoreProbabilistic, nil
	default:
		return ScoreRaw, fmt.Errorf("unknown scoring mode %q", s)
	}
}

// Shape describes the layout of a raw output tensor: Batch groups of
// Predictions rows, each row holding Attributes values laid out
// [cx, cy, w, h, objectness, classScore_0..N]. Box coordinates are
// normalized [0,1] and center-based; decoding converts them to the
// top-left convention of models.Box.
type Shape struct {
	Batch       int
	Predictions int
	Attributes  int
}

// Options configures a postprocessing run.
type Options struct {
	NumClasses          int
	ConfidenceThreshold float32
	NMSThreshold        float32
	Mode                ScoringMode
	// Labels maps class indices to class names. Indices outside the
	// slice resolve to "Unknown_<index>".
	Labels []string
}

// DefaultOptions returns postprocessing options with the stock thresholds.
func DefaultOptions(labels []string) Options {
	return Options{
		NumClasses:          len(labels),
		ConfidenceThreshold: DefaultConfidenceThreshold,
		NMSThreshold:        DefaultNMSThreshold,
		Mode:                ScoreRaw,
		Labels:              labels,
	}
}

func (o Options) validate() error {
	if o.NumClasses <= 0 {
		return fmt.Errorf("num classes must be positive, got %d", o.NumClasses)
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", o.ConfidenceThreshold)
	}
	if o.NMSThreshold < 0 || o.NMSThreshold > 1 {
		return fmt.Errorf("nms threshold %v outside [0,1]", o.NMSThreshold)
	}
	return nil
}

// Postprocess converts a raw model output tensor into a filtered,
// deduplicated list of detections: per-row decoding and confidence
// scoring followed by non-maximum suppression. Malformed rows are
// skipped; only an invalid invocation returns an error.
func Postprocess(raw []float32, shape Shape, opts Options) ([]models.Detection, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(raw) == 0 && shape.Predictions == 0 {
		return []models.Detection{}, nil
	}
	if shape.Batch != 1 {
		return nil, fmt.Errorf("unsupported batch size %d", shape.Batch)
	}
	if shape.Predictions < 0 || shape.Attributes < boxAttributes {
		return nil, fmt.Errorf("invalid tensor shape %dx%d", shape.Predictions, shape.Attributes)
	}
	if len(raw) < shape.Predictions*shape.Attributes {
		return nil, fmt.Errorf("tensor data too short: got %d values, shape needs %d",
			len(raw), shape.Predictions*shape.Attributes)
	}

	decoded := decodeRows(raw, shape, opts)
	return NonMaxSuppression(decoded, opts.NMSThreshold), nil
}
