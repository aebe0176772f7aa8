package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
	"github.com/khanhnv2901/seca-recon/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-recon/internal/shared/errors"
	"github.com/khanhnv2901/seca-recon/internal/shared/security"
)

const scanFileExt = ".json"

// scanDTO is the data transfer object for JSON serialization
type scanDTO struct {
	ID         string                     `json:"id"`
	Status     string                     `json:"status"`
	Config     configDTO                  `json:"config"`
	Progress   scan.Progress              `json:"progress"`
	Results    map[string]json.RawMessage `json:"results"`
	Completed  []string                   `json:"completed_modules"`
	Errors     []string                   `json:"errors"`
	CreatedAt  string                     `json:"created_at"`
	StartedAt  string                     `json:"started_at"`
	UpdatedAt  string                     `json:"updated_at"`
	FinishedAt string                     `json:"finished_at,omitempty"`
	ElapsedMS  int64                      `json:"elapsed_ms"`
}

type configDTO struct {
	Target       string   `json:"target"`
	Modules      []string `json:"modules"`
	Threads      int      `json:"threads"`
	TimeoutMS    int64    `json:"timeout_ms"`
	Retries      int      `json:"retries"`
	RetryDelayMS int64    `json:"retry_delay_ms"`
	PayloadLimit int      `json:"payload_limit"`
	PacingMS     int64    `json:"pacing_ms"`
	Relays       []string `json:"relays,omitempty"`
	DoHEndpoint  string   `json:"doh_endpoint"`
	Ports        []int    `json:"ports,omitempty"`
}

// ScanRepository implements the scan.Repository interface with one JSON file per scan
type ScanRepository struct {
	resultsDir string
	mu         sync.RWMutex
}

// NewScanRepository creates a new JSON-based scan repository
func NewScanRepository(resultsDir string) (*ScanRepository, error) {
	if resultsDir == "" {
		return nil, fmt.Errorf("results directory cannot be empty")
	}
	if err := os.MkdirAll(resultsDir, constants.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &ScanRepository{resultsDir: resultsDir}, nil
}

// Save atomically replaces the stored record for s
func (r *ScanRepository) Save(ctx context.Context, s *scan.Scan) error {
	path, err := r.pathFor(s.ID())
	if err != nil {
		return err
	}

	dto, err := toDTO(s)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(dto, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrSerializationFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return writeFileAtomic(path, data)
}

// FindByID retrieves a scan by its ID
func (r *ScanRepository) FindByID(ctx context.Context, id string) (*scan.Scan, error) {
	path, err := r.pathFor(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := loadFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", sharedErrors.ErrScanNotFound, id)
	}
	return s, err
}

// FindAll retrieves all readable scans, newest first
func (r *ScanRepository) FindAll(ctx context.Context) ([]*scan.Scan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.resultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	scans := make([]*scan.Scan, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, scanFileExt) {
			continue
		}
		if !security.ValidIdentifier(strings.TrimSuffix(name, scanFileExt)) {
			continue
		}
		s, err := loadFromFile(filepath.Join(r.resultsDir, name))
		if err != nil {
			continue
		}
		scans = append(scans, s)
	}

	sort.SliceStable(scans, func(i, j int) bool {
		return scans[i].CreatedAt().After(scans[j].CreatedAt())
	})
	return scans, nil
}

// Delete removes a scan by its ID
func (r *ScanRepository) Delete(ctx context.Context, id string) error {
	path, err := r.pathFor(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", sharedErrors.ErrScanNotFound, id)
		}
		return fmt.Errorf("failed to delete scan: %w", err)
	}
	return nil
}

// Helper methods

func (r *ScanRepository) pathFor(id string) (string, error) {
	path, err := security.FileForID(r.resultsDir, id, scanFileExt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", sharedErrors.ErrInvalidInput, err)
	}
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write scan: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync scan: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close scan file: %w", err)
	}
	if err := os.Chmod(tmpName, constants.DefaultFilePerm); err != nil {
		return fmt.Errorf("failed to set scan file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to save scan: %w", err)
	}
	return nil
}

func loadFromFile(path string) (*scan.Scan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var dto scanDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sharedErrors.ErrDeserializationFailed, filepath.Base(path), err)
	}
	return fromDTO(dto)
}

func toDTO(s *scan.Scan) (scanDTO, error) {
	cfg := s.Config()
	dto := scanDTO{
		ID:     s.ID(),
		Status: string(s.Status()),
		Config: configDTO{
			Target:       cfg.Target,
			Modules:      moduleNames(cfg.Modules),
			Threads:      cfg.Threads,
			TimeoutMS:    cfg.Timeout.Milliseconds(),
			Retries:      cfg.Retries,
			RetryDelayMS: cfg.RetryDelay.Milliseconds(),
			PayloadLimit: cfg.PayloadLimit,
			PacingMS:     cfg.Pacing.Milliseconds(),
			Relays:       cfg.Relays,
			DoHEndpoint:  cfg.DoHEndpoint,
			Ports:        cfg.Ports,
		},
		Progress:  s.Progress(),
		Results:   make(map[string]json.RawMessage),
		Completed: moduleNames(s.Completed()),
		Errors:    s.Errors(),
		CreatedAt: formatTime(s.CreatedAt()),
		StartedAt: formatTime(s.StartedAt()),
		UpdatedAt: formatTime(s.UpdatedAt()),
		ElapsedMS: s.Duration().Milliseconds(),
	}
	if dto.Errors == nil {
		dto.Errors = []string{}
	}
	if !s.FinishedAt().IsZero() {
		dto.FinishedAt = formatTime(s.FinishedAt())
	}

	for m, result := range s.Results() {
		raw, err := json.Marshal(result)
		if err != nil {
			return scanDTO{}, fmt.Errorf("%w: %s result: %v", sharedErrors.ErrSerializationFailed, m, err)
		}
		dto.Results[string(m)] = raw
	}
	return dto, nil
}

func fromDTO(dto scanDTO) (*scan.Scan, error) {
	createdAt, err := parseTime(dto.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created at time: %w", err)
	}
	startedAt, err := parseTime(dto.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started at time: %w", err)
	}
	updatedAt, err := parseTime(dto.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated at time: %w", err)
	}
	finishedAt, err := parseTime(dto.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse finished at time: %w", err)
	}

	modules, err := recon.ParseModules(dto.Config.Modules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrInvalidData, err)
	}
	completed, err := recon.ParseModules(dto.Completed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrInvalidData, err)
	}

	results := make(map[recon.Module]recon.Result, len(dto.Results))
	for name, raw := range dto.Results {
		m, err := recon.ParseModule(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sharedErrors.ErrInvalidData, err)
		}
		result, err := recon.DecodeResult(m, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s result: %v", sharedErrors.ErrDeserializationFailed, m, err)
		}
		results[m] = result
	}

	status := scan.Status(dto.Status)
	switch status {
	case scan.StatusRunning, scan.StatusPaused, scan.StatusCompleted, scan.StatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", sharedErrors.ErrInvalidData, dto.Status)
	}

	return scan.Reconstruct(scan.Snapshot{
		ID: dto.ID,
		Config: scan.Config{
			Target:       dto.Config.Target,
			Modules:      modules,
			Threads:      dto.Config.Threads,
			Timeout:      time.Duration(dto.Config.TimeoutMS) * time.Millisecond,
			Retries:      dto.Config.Retries,
			RetryDelay:   time.Duration(dto.Config.RetryDelayMS) * time.Millisecond,
			PayloadLimit: dto.Config.PayloadLimit,
			Pacing:       time.Duration(dto.Config.PacingMS) * time.Millisecond,
			Relays:       dto.Config.Relays,
			DoHEndpoint:  dto.Config.DoHEndpoint,
			Ports:        dto.Config.Ports,
		},
		Status:     status,
		Progress:   dto.Progress,
		Results:    results,
		Completed:  completed,
		Errors:     dto.Errors,
		CreatedAt:  createdAt,
		StartedAt:  startedAt,
		UpdatedAt:  updatedAt,
		FinishedAt: finishedAt,
		Elapsed:    time.Duration(dto.ElapsedMS) * time.Millisecond,
	}), nil
}

func moduleNames(modules []recon.Module) []string {
	out := make([]string, 0, len(modules))
	for _, m := range modules {
		out = append(out, string(m))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
