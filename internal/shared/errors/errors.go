package errors

import "errors"

// Domain errors
var (
	// Scan errors
	ErrScanNotFound      = errors.New("scan not found")
	ErrInvalidTransition = errors.New("invalid scan status transition")
	ErrScanNotPaused     = errors.New("scan is not paused")
	ErrScanNotRunning    = errors.New("scan is not running")
	ErrScanFinished      = errors.New("scan already finished")
	ErrEmptyTarget       = errors.New("target cannot be empty")
	ErrNoModules         = errors.New("at least one module must be enabled")
	ErrUnknownModule     = errors.New("unknown module")

	// Lifecycle causes carried by a scan's cancellation token
	ErrScanPaused  = errors.New("scan paused")
	ErrScanStopped = errors.New("stopped by user")

	// Repository errors
	ErrInvalidData           = errors.New("invalid data")
	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
)
