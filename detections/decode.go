package detections

import (
	"fmt"
	"math"

	"github.com/FreshGuard/freshness-service/models"
)

func decodeRows(raw []float32, shape Shape, opts Options) []models.Detection {
	detections := make([]models.Detection, 0, 64)
	for i := 0; i < shape.Predictions; i++ {
		row := raw[i*shape.Attributes : (i+1)*shape.Attributes]
		if det, ok := decodeRow(row, opts); ok {
			detections = append(detections, det)
		}
	}
	return detections
}

// decodeRow scores a single prediction row. Rows with no usable class
// entries are skipped rather than zero-scored.
func decodeRow(row []float32, opts Options) (models.Detection, bool) {
	classCount := len(row) - boxAttributes
	if classCount > opts.NumClasses {
		// Tolerate output tensors that carry extra non-class attributes.
		classCount = opts.NumClasses
	}
	if classCount <= 0 {
		return models.Detection{}, false
	}

	objectness := row[4]
	scores := row[boxAttributes : boxAttributes+classCount]

	var classID int
	var confidence float32
	switch opts.Mode {
	case ScoreProbabilistic:
		probs := softmax(scores)
		classID = argmax(probs)
		confidence = clamp01(sigmoid(objectness) * probs[classID])
	default:
		classID = argmax(scores)
		confidence = clamp01(objectness * scores[classID])
	}
	if confidence < opts.ConfidenceThreshold {
		return models.Detection{}, false
	}

	cx, cy, w, h := row[0], row[1], row[2], row[3]
	return models.Detection{
		Box: models.Box{
			X:      cx - w/2,
			Y:      cy - h/2,
			Width:  w,
			Height: h,
		},
		Confidence: confidence,
		ClassID:    classID,
		Label:      classLabel(opts.Labels, classID),
	}, true
}

func classLabel(labels []string, classID int) string {
	if classID >= 0 && classID < len(labels) {
		return labels[classID]
	}
	return fmt.Sprintf("Unknown_%d", classID)
}

// softmax is numerically stable: the row maximum is subtracted before
// exponentiating.
func softmax(scores []float32) []float32 {
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	probs := make([]float32, len(scores))
	var sum float64
	for i, s := range scores {
		e := math.Exp(float64(s - maxScore))
		probs[i] = float32(e)
		sum += e
	}
	for i := range probs {
		probs[i] = float32(float64(probs[i]) / sum)
	}
	return probs
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func argmax(values []float32) int {
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return best
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
