package models

import "time"

// Box is an axis-aligned bounding box in normalized [0,1] image
// coordinates with a top-left origin. Inference backends that produce
// pixel-space or center-based coordinates translate to this convention
// before handing detections on.
type Box struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Detection is one postprocessed model prediction. Immutable once built;
// lives for the duration of a single request.
type Detection struct {
	Box        Box     `json:"box"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
}

// StorageRecord holds the static storage and shelf-life reference data for
// one canonical label. ShelfLifeDays is a pointer so that an explicit zero
// (rotten produce) is distinguishable from an absent value.
type StorageRecord struct {
	StorageInstructions string   `json:"storageInstructions"`
	ShelfLifeDays       *int     `json:"shelfLifeDays"`
	Tips                string   `json:"tips"`
	SignsOfSpoilage     string   `json:"signsOfSpoilage"`
	Status              string   `json:"status"`
	WasteDisposal       string   `json:"wasteDisposal"`
	StorageMethods      []string `json:"storageMethods"`
	Source              string   `json:"source"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Enrichment  time.Duration
	Total       time.Duration
}
