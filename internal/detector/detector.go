package detector

import (
	"time"

	"gocv.io/x/gocv"
)

// Extractor defines the interface for landmark extraction implementations.
type Extractor interface {
	// Extract analyzes a decoded frame and returns the detected landmark sets.
	// Missing body parts are reported as nil sets, never as an error.
	Extract(frame *gocv.Mat) (Landmarks, error)

	// Close releases any resources held by the extractor.
	Close() error
}

// Config holds configuration options for landmark extraction.
type Config struct {
	// Python is the interpreter used to run Script. Empty prefers a venv
	// interpreter and falls back to python3.
	Python string

	// Script is the path to the MediaPipe Holistic service script. Empty
	// searches scripts/, ../scripts/, the executable's directory and ~/.mudra.
	Script string

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// IdleTimeout stops the subprocess after this long without frames.
	IdleTimeout time.Duration
}

// DefaultConfig returns a Config with the thresholds the bundled models were trained with.
func DefaultConfig() Config {
	return Config{
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
		IdleTimeout:     30 * time.Second,
	}
}
