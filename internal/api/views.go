package api

import (
	"time"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
)

// ScanRequest is the body of POST /api/v1/scans.
type ScanRequest struct {
	Target       string   `json:"target"`
	Modules      []string `json:"modules,omitempty"`
	Threads      int      `json:"threads,omitempty"`
	TimeoutSecs  int      `json:"timeout_secs,omitempty"`
	Retries      *int     `json:"retries,omitempty"`
	RetryDelayMS int      `json:"retry_delay_ms,omitempty"`
	PayloadLimit int      `json:"payload_limit,omitempty"`
	PacingMS     *int     `json:"pacing_ms,omitempty"`
	Relays       []string `json:"relays,omitempty"`
	Ports        []int    `json:"ports,omitempty"`
}

// ScanView is the JSON representation of a scan.
type ScanView struct {
	ID         string                        `json:"id"`
	Target     string                        `json:"target"`
	Status     scan.Status                   `json:"status"`
	Progress   scan.Progress                 `json:"progress"`
	Percent    float64                       `json:"percent"`
	Modules    []recon.Module                `json:"modules"`
	Completed  []recon.Module                `json:"completed"`
	Results    map[recon.Module]recon.Result `json:"results"`
	Errors     []string                      `json:"errors"`
	CreatedAt  time.Time                     `json:"created_at"`
	UpdatedAt  time.Time                     `json:"updated_at"`
	FinishedAt *time.Time                    `json:"finished_at,omitempty"`
	DurationMS int64                         `json:"duration_ms"`
}

// ScanSummary is the list form of a scan, without module results.
type ScanSummary struct {
	ID        string        `json:"id"`
	Target    string        `json:"target"`
	Status    scan.Status   `json:"status"`
	Progress  scan.Progress `json:"progress"`
	Errors    int           `json:"errors"`
	CreatedAt time.Time     `json:"created_at"`
}

// ModuleView describes one available module.
type ModuleView struct {
	Name        recon.Module `json:"name"`
	Description string       `json:"description"`
}

// NewScanView converts a scan into its JSON representation.
func NewScanView(s *scan.Scan) ScanView {
	view := ScanView{
		ID:         s.ID(),
		Target:     s.Target(),
		Status:     s.Status(),
		Progress:   s.Progress(),
		Percent:    s.Progress().Percent(),
		Modules:    s.Config().Modules,
		Completed:  s.Completed(),
		Results:    s.Results(),
		Errors:     s.Errors(),
		CreatedAt:  s.CreatedAt(),
		UpdatedAt:  s.UpdatedAt(),
		DurationMS: s.Duration().Milliseconds(),
	}
	if finished := s.FinishedAt(); !finished.IsZero() {
		view.FinishedAt = &finished
	}
	if view.Completed == nil {
		view.Completed = []recon.Module{}
	}
	if view.Errors == nil {
		view.Errors = []string{}
	}
	return view
}

func toScanSummary(s *scan.Scan) ScanSummary {
	return ScanSummary{
		ID:        s.ID(),
		Target:    s.Target(),
		Status:    s.Status(),
		Progress:  s.Progress(),
		Errors:    len(s.Errors()),
		CreatedAt: s.CreatedAt(),
	}
}

func moduleViews() []ModuleView {
	all := recon.AllModules()
	out := make([]ModuleView, 0, len(all))
	for _, m := range all {
		out = append(out, ModuleView{Name: m, Description: m.Description()})
	}
	return out
}
