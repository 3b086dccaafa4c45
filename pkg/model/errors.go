package model

import "errors"

var (
	// ErrInsufficientHistory is returned when a series is too short to build a window
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrInsufficientSamples is returned when too few analogs or trades are available
	ErrInsufficientSamples = errors.New("insufficient samples")
	// ErrProviderFailure wraps failures of external price, calibration or health providers
	ErrProviderFailure = errors.New("external provider failure")
	// ErrInvalidConfig is returned for malformed or contradictory configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("not found")
)
