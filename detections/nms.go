package detections

import (
	"sort"

	"github.com/FreshGuard/freshness-service/models"
)

// NonMaxSuppression removes overlapping duplicate detections, keeping the
// highest-confidence one per cluster. Output order is selection order
// (confidence descending); equal confidences keep their input order since
// the sort is stable.
func NonMaxSuppression(detections []models.Detection, iouThreshold float32) []models.Detection {
	if len(detections) <= 1 {
		return detections
	}

	working := make([]models.Detection, len(detections))
	copy(working, detections)
	sort.SliceStable(working, func(i, j int) bool {
		return working[i].Confidence > working[j].Confidence
	})

	kept := make([]models.Detection, 0, len(working))
	for len(working) > 0 {
		selected := working[0]
		kept = append(kept, selected)

		next := working[:0]
		for _, d := range working[1:] {
			if IoU(selected.Box, d.Box) <= iouThreshold {
				next = append(next, d)
			}
		}
		working = next
	}
	return kept
}

// IoU is intersection over union of two axis-aligned boxes. Zero or
// negative overlap dimensions count as zero intersection; a degenerate
// union yields zero.
func IoU(a, b models.Box) float32 {
	interW := min(a.X+a.Width, b.X+b.Width) - max(a.X, b.X)
	interH := min(a.Y+a.Height, b.Y+b.Height) - max(a.Y, b.Y)
	if interW <= 0 || interH <= 0 {
		return 0
	}

	intersection := interW * interH
	union := a.Width*a.Height + b.Width*b.Height - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
