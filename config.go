package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// defaultClassLabels mirrors the class order the bundled model was
// exported with. Raw model labels are lower-case; the storage layer
// canonicalizes them for dataset lookups.
var defaultClassLabels = []string{
	"fresh_apple", "fresh_banana", "fresh_carrot", "fresh_cucumber",
	"fresh_mango", "fresh_orange", "fresh_potato", "fresh_tomato",
	"rotten_apple", "rotten_banana", "rotten_carrot", "rotten_cucumber",
	"rotten_mango", "rotten_orange", "rotten_potato", "rotten_tomato",
}

type Config struct {
	Port                int
	Backend             string // "local" or "remote"
	InferenceURL        string
	ModelPath           string
	OnnxLibraryPath     string
	PoolSize            int
	ConfidenceThreshold float64
	NMSThreshold        float64
	ScoringMode         string
	ClassLabels         []string
	StorageDataPath     string
	Debug               bool
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:                getEnvAsInt("PORT", 8080),
		Backend:             getEnv("INFERENCE_BACKEND", "local"),
		InferenceURL:        getEnv("INFERENCE_URL", "http://localhost:8001"),
		ModelPath:           getEnv("MODEL_PATH", filepath.Join(".", "models", "best.onnx")),
		OnnxLibraryPath:     getEnv("ONNX_LIB_PATH", ""),
		PoolSize:            getEnvAsInt("POOL_SIZE", 4),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		NMSThreshold:        getEnvAsFloat("NMS_THRESHOLD", 0.4),
		ScoringMode:         getEnv("SCORING_MODE", "raw"),
		ClassLabels:         getEnvAsList("CLASS_LABELS", defaultClassLabels),
		StorageDataPath:     getEnv("STORAGE_DATA_PATH", filepath.Join("data", "storage_data.json")),
		Debug:               getEnv("DEBUG", "") == "true",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
