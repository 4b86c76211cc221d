package storage

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/FreshGuard/freshness-service/models"

	"go.uber.org/zap"
)

//go:embed storage_data.json
var defaultDataset []byte

// Store is the read-only reference data store mapping canonical labels to
// storage/shelf-life records. It is loaded once at startup and safe for
// concurrent readers.
type Store struct {
	records map[string]models.StorageRecord
	logger  *zap.Logger
}

// Open builds a Store from the built-in defaults, optionally overridden by
// an external JSON file at path. A missing file is bootstrapped from the
// defaults so that operators have something to edit; an unreadable or
// invalid file logs a warning and falls back to the defaults. Open never
// fails process startup.
func Open(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("storage")

	defaults := map[string]models.StorageRecord{}
	if err := json.Unmarshal(defaultDataset, &defaults); err != nil {
		logger.Error("parse embedded dataset", zap.Error(err))
	}

	store := &Store{records: defaults, logger: logger}
	if path == "" {
		return store
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		store.bootstrap(path)
		return store
	}
	if err != nil {
		logger.Warn("read override dataset, falling back to defaults",
			zap.String("path", path), zap.Error(err))
		return store
	}

	override := map[string]models.StorageRecord{}
	if err := json.Unmarshal(data, &override); err != nil {
		logger.Warn("parse override dataset, falling back to defaults",
			zap.String("path", path), zap.Error(err))
		return store
	}

	merged := make(map[string]models.StorageRecord, len(defaults)+len(override))
	for key, rec := range defaults {
		merged[key] = rec
	}
	for key, rec := range override {
		merged[key] = mergeRecord(defaults[key], rec)
	}
	store.records = merged

	logger.Info("loaded override dataset",
		zap.String("path", path), zap.Int("records", len(override)))
	return store
}

// bootstrap writes the built-in defaults to path on first run.
func (s *Store) bootstrap(path string) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Warn("create dataset directory", zap.String("path", dir), zap.Error(err))
			return
		}
	}
	if err := os.WriteFile(path, defaultDataset, 0o644); err != nil {
		s.logger.Warn("bootstrap dataset file", zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Info("bootstrapped dataset from built-in defaults", zap.String("path", path))
}

// mergeRecord backfills fields the override record left empty from the
// default record for the same key. Override wins field by field.
func mergeRecord(def, override models.StorageRecord) models.StorageRecord {
	merged := override
	if merged.StorageInstructions == "" {
		merged.StorageInstructions = def.StorageInstructions
	}
	if merged.ShelfLifeDays == nil {
		merged.ShelfLifeDays = def.ShelfLifeDays
	}
	if merged.Tips == "" {
		merged.Tips = def.Tips
	}
	if merged.SignsOfSpoilage == "" {
		merged.SignsOfSpoilage = def.SignsOfSpoilage
	}
	if merged.Status == "" {
		merged.Status = def.Status
	}
	if merged.WasteDisposal == "" {
		merged.WasteDisposal = def.WasteDisposal
	}
	if len(merged.StorageMethods) == 0 {
		merged.StorageMethods = def.StorageMethods
	}
	if merged.Source == "" {
		merged.Source = def.Source
	}
	return merged
}

// Lookup returns the record for a canonical label, or nil when the label
// is unknown. Exact key match first, then a case-insensitive scan (the
// dataset is small and static).
func (s *Store) Lookup(label string) *models.StorageRecord {
	if rec, ok := s.records[label]; ok {
		return &rec
	}
	for key, rec := range s.records {
		if strings.EqualFold(key, label) {
			r := rec
			return &r
		}
	}
	return nil
}

// Len reports the number of loaded records.
func (s *Store) Len() int {
	return len(s.records)
}

// UnknownRecord is the placeholder substituted when a label has no
// reference data. Always fully initialized.
func UnknownRecord() models.StorageRecord {
	return models.StorageRecord{
		StorageInstructions: "No storage information is available for this item.",
		ShelfLifeDays:       nil,
		Tips:                "Inspect the item manually before eating or storing it.",
		SignsOfSpoilage:     "Unknown.",
		Status:              "Unknown",
		WasteDisposal:       "Follow local guidelines for food waste.",
		StorageMethods:      []string{},
		Source:              "placeholder",
	}
}
