package cmd

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
)

// Terminal styles for scan output. fatih/color turns them off when stdout is not a TTY.
var (
	colorSuccess  = color.New(color.FgGreen).SprintFunc()
	colorInfo     = color.New(color.FgCyan).SprintFunc()
	colorWarn     = color.New(color.FgYellow).SprintFunc()
	colorError    = color.New(color.FgRed).SprintFunc()
	colorCritical = color.New(color.FgHiRed, color.Bold).SprintFunc()
	colorBold     = color.New(color.Bold).SprintFunc()
)

type styleFunc func(a ...interface{}) string

var statusStyles = map[scan.Status]styleFunc{
	scan.StatusRunning:   colorInfo,
	scan.StatusPaused:    colorWarn,
	scan.StatusCompleted: colorSuccess,
	scan.StatusFailed:    colorError,
}

var severityStyles = map[recon.Severity]styleFunc{
	recon.SeverityCritical: colorCritical,
	recon.SeverityHigh:     colorError,
	recon.SeverityMedium:   colorWarn,
	recon.SeverityLow:      colorInfo,
	recon.SeverityInfo:     colorInfo,
}

func statusLabel(s scan.Status) string {
	if style, ok := statusStyles[s]; ok {
		return style(string(s))
	}
	return string(s)
}

func severityLabel(sev recon.Severity) string {
	if style, ok := severityStyles[sev]; ok {
		return style(string(sev))
	}
	return string(sev)
}

// confidenceLabel highlights findings that reach the unambiguous band.
func confidenceLabel(c float64) string {
	text := fmt.Sprintf("%.2f", c)
	if c >= 0.95 {
		return colorCritical(text)
	}
	return text
}
