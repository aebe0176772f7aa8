package cmd

import (
	"errors"
	"fmt"

	sharedErrors "github.com/khanhnv2901/seca-recon/internal/shared/errors"
)

// ScanNotFoundError indicates a scan lookup failure.
type ScanNotFoundError struct {
	ID string
}

func (e *ScanNotFoundError) Error() string {
	return fmt.Sprintf("scan %s not found", e.ID)
}

func (e *ScanNotFoundError) Unwrap() error {
	return sharedErrors.ErrScanNotFound
}

// ScanStateError reports a lifecycle command that does not apply to the scan's status.
type ScanStateError struct {
	ID     string
	Action string
	Err    error
}

func (e *ScanStateError) Error() string {
	return fmt.Sprintf("cannot %s scan %s: %v", e.Action, e.ID, e.Err)
}

func (e *ScanStateError) Unwrap() error {
	return e.Err
}

// scanCommandError converts orchestrator errors into CLI errors.
func scanCommandError(id, action string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sharedErrors.ErrScanNotFound):
		return &ScanNotFoundError{ID: id}
	case errors.Is(err, sharedErrors.ErrInvalidTransition),
		errors.Is(err, sharedErrors.ErrScanNotPaused),
		errors.Is(err, sharedErrors.ErrScanFinished):
		return &ScanStateError{ID: id, Action: action, Err: err}
	default:
		return fmt.Errorf("failed to %s scan %s: %w", action, id, err)
	}
}
