package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/khanhnv2901/seca-recon/internal/shared/security"
)

// validateScanID rejects identifiers that could escape the results directory before
// they reach the repository.
func validateScanID(id string) error {
	id = strings.TrimSpace(id)
	switch id {
	case "":
		return errors.New("scan ID is required")
	case ".", "..":
		return fmt.Errorf("scan ID %q is reserved", id)
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("scan ID %q must not contain path separators", id)
	}
	if !security.ValidIdentifier(id) {
		return fmt.Errorf("scan ID %q contains invalid characters", id)
	}
	return nil
}

// scanRecordPath resolves the JSON record of a scan inside the results directory.
func scanRecordPath(resultsDir, id string) (string, error) {
	if err := validateScanID(id); err != nil {
		return "", err
	}
	return security.FileForID(resultsDir, id, ".json")
}
