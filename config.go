package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/fusion"
)

// ServerConfig is read from the environment (after an optional .env
// file). Every knob has a working default for local runs.
type ServerConfig struct {
	Addr         string
	ManifestPath string
	OrtLibrary   string

	TileSize int
	Overlap  int
	PoolSize int
	Workers  int

	ConfidenceThreshold float32
	GroupingThreshold   float32
	NMSThreshold        float32

	Streamlined bool
	Debug       bool
}

func loadConfig() ServerConfig {
	// A missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	return ServerConfig{
		Addr:                envString("ADDR", "127.0.0.1:8080"),
		ManifestPath:        envString("MODEL_MANIFEST", "models.yaml"),
		OrtLibrary:          envString("ORT_LIBRARY", "lib/libonnxruntime.so"),
		TileSize:            envInt("TILE_SIZE", 640),
		Overlap:             envInt("TILE_OVERLAP", 64),
		PoolSize:            envInt("POOL_SIZE", DefaultPoolSize),
		Workers:             envInt("TILE_WORKERS", 0),
		ConfidenceThreshold: envFloat("CONF_THRESHOLD", 0.5),
		GroupingThreshold:   envFloat("GROUPING_THRESHOLD", fusion.DefaultGroupingThreshold),
		NMSThreshold:        envFloat("NMS_THRESHOLD", fusion.DefaultNMSThreshold),
		Streamlined:         envBool("STREAMLINED", false),
		Debug:               envBool("DEBUG", false),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
