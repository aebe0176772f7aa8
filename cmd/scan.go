package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/seca-recon/internal/api"
	"github.com/khanhnv2901/seca-recon/internal/compliance"
	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Start and manage reconnaissance scans",
	Long: `Start, inspect and control reconnaissance scans.

A scan runs its modules one after another and is saved after every step.
Press Ctrl+C during a foreground scan to pause it; continue later with
"seca-recon scan resume <id>".`,
}

var scanStartCmd = &cobra.Command{
	Use:   "start <target>",
	Short: "Start a new scan and follow its progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireROEConfirm(cmd); err != nil {
			return err
		}
		appCtx := getAppContext(cmd)
		cfg, err := appCtx.Config.scanConfig(args[0])
		if err != nil {
			return err
		}

		id, err := appCtx.Services.ScanOrchestrator.Start(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to start scan: %w", err)
		}
		if !jsonOutput(cmd) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Scan %s started against %s\n", colorInfo("→"), colorBold(id), cfg.Target)
		}
		return followScan(cmd, appCtx, id)
	},
}

var scanResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused scan with its original configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireROEConfirm(cmd); err != nil {
			return err
		}
		id := args[0]
		if err := validateScanID(id); err != nil {
			return err
		}
		appCtx := getAppContext(cmd)

		s, err := appCtx.Services.ScanOrchestrator.Resume(cmd.Context(), id)
		if err != nil {
			return scanCommandError(id, "resume", err)
		}
		if !jsonOutput(cmd) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Resuming scan %s (%d/%d modules done)\n",
				colorInfo("→"), colorBold(id), len(s.Completed()), len(s.Config().Modules))
		}
		return followScan(cmd, appCtx, id)
	},
}

var scanPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a scan that is marked running",
	Long: `Pause a scan whose record is marked running, for example after the process
that owned it was killed. Foreground scans are paused with Ctrl+C and scans
started through the API with POST /api/v1/scans/{id}/pause.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlScan(cmd, args[0], "pause")
	},
}

var scanStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a scan permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlScan(cmd, args[0], "stop")
	},
}

var scanShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the state and results of a scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if err := validateScanID(id); err != nil {
			return err
		}
		appCtx := getAppContext(cmd)
		s, err := appCtx.Services.ScanOrchestrator.Get(cmd.Context(), id)
		if err != nil {
			return scanCommandError(id, "show", err)
		}
		if jsonOutput(cmd) {
			return writeScanJSON(cmd.OutOrStdout(), s)
		}
		printScanDetails(cmd.OutOrStdout(), s)
		if path, err := scanRecordPath(appCtx.ResultsDir, id); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "\nRecord: %s\n", path)
		}
		return nil
	},
}

var scanListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scans, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		status, _ := cmd.Flags().GetString("status")

		scans, err := appCtx.Services.ScanOrchestrator.List(cmd.Context())
		if err != nil {
			return err
		}
		filtered := scans[:0]
		for _, s := range scans {
			if status == "" || string(s.Status()) == status {
				filtered = append(filtered, s)
			}
		}

		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			items := make([]api.ScanView, 0, len(filtered))
			for _, s := range filtered {
				items = append(items, api.NewScanView(s))
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}
		if len(filtered) == 0 {
			fmt.Fprintln(out, "No scans found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTarget\tStatus\tProgress\tErrors\tCreated")
		fmt.Fprintln(w, "--\t------\t------\t--------\t------\t-------")
		for _, s := range filtered {
			p := s.Progress()
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
				s.ID(), s.Target(), statusLabel(s.Status()),
				p.Current, p.Total, len(s.Errors()), s.CreatedAt().Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var scanDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored scan that is not running",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if err := validateScanID(id); err != nil {
			return err
		}
		appCtx := getAppContext(cmd)
		if err := appCtx.Services.ScanOrchestrator.Delete(cmd.Context(), id); err != nil {
			return scanCommandError(id, "delete", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Scan %s deleted\n", colorSuccess("✓"), id)
		return nil
	},
}

func controlScan(cmd *cobra.Command, id, action string) error {
	if err := validateScanID(id); err != nil {
		return err
	}
	appCtx := getAppContext(cmd)
	orch := appCtx.Services.ScanOrchestrator

	var (
		s   *scan.Scan
		err error
	)
	switch action {
	case "pause":
		s, err = orch.Pause(cmd.Context(), id)
	case "stop":
		s, err = orch.Stop(cmd.Context(), id)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return scanCommandError(id, action, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Scan %s is now %s\n",
		colorSuccess("✓"), id, statusLabel(s.Status()))
	return nil
}

// followScan renders progress until the scan's pipeline exits. The first interrupt
// pauses the scan; a second one stops waiting.
func followScan(cmd *cobra.Command, appCtx *AppContext, id string) error {
	orch := appCtx.Services.ScanOrchestrator
	out := cmd.OutOrStdout()
	quiet := jsonOutput(cmd)
	showProgress, _ := cmd.Flags().GetBool("progress")

	updates, unsubscribe := orch.Subscribe()
	defer unsubscribe()

	current, err := orch.Get(cmd.Context(), id)
	if err != nil {
		return scanCommandError(id, "follow", err)
	}
	var printer *progressPrinter
	if showProgress && !quiet {
		printer = newProgressPrinter(out, id, len(current.Config().Modules))
		printer.Start()
		printer.Update(current)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	type waitResult struct {
		scan *scan.Scan
		err  error
	}
	finished := make(chan waitResult, 1)
	go func() {
		s, err := orch.Wait(ctx, id)
		finished <- waitResult{s, err}
	}()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	var final *scan.Scan
	interrupted := false
loop:
	for {
		select {
		case s, ok := <-updates:
			if ok && s.ID() == id && printer != nil {
				printer.Update(s)
			}
		case sig := <-signals:
			if interrupted {
				cancel()
				continue
			}
			interrupted = true
			appCtx.logger().Infow("pausing scan on signal", "scan_id", id, "signal", sig.String())
			if _, err := orch.Pause(context.Background(), id); err != nil && !errors.Is(err, context.Canceled) {
				appCtx.logger().Warnw("failed to pause scan", "scan_id", id, "error", err)
			}
		case res := <-finished:
			if res.err != nil {
				if printer != nil {
					printer.Stop()
				}
				return fmt.Errorf("stopped waiting for scan %s: %w", id, res.err)
			}
			final = res.scan
			break loop
		}
	}
	if printer != nil {
		printer.Update(final)
		printer.Stop()
	}

	if quiet {
		if err := writeScanJSON(out, final); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out)
		printScanDetails(out, final)
	}

	switch final.Status() {
	case scan.StatusPaused:
		if !quiet {
			fmt.Fprintf(out, "\n%s Scan paused. Resume with: seca-recon scan resume %s --roe-confirm\n", colorWarn("⏸"), id)
		}
	case scan.StatusFailed:
		return fmt.Errorf("scan %s failed: %s", id, lastError(final))
	}
	return nil
}

func lastError(s *scan.Scan) string {
	errs := s.Errors()
	if len(errs) == 0 {
		return "unknown error"
	}
	return errs[len(errs)-1]
}

func writeScanJSON(out io.Writer, s *scan.Scan) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(api.NewScanView(s))
}

func printScanDetails(out io.Writer, s *scan.Scan) {
	p := s.Progress()
	fmt.Fprintf(out, "Scan:      %s\n", colorBold(s.ID()))
	fmt.Fprintf(out, "Target:    %s\n", s.Target())
	fmt.Fprintf(out, "Status:    %s\n", statusLabel(s.Status()))
	fmt.Fprintf(out, "Progress:  %d/%d (%.1f%%) %s\n", p.Current, p.Total, p.Percent(), p.Stage)
	fmt.Fprintf(out, "Created:   %s\n", s.CreatedAt().Format(time.RFC3339))
	fmt.Fprintf(out, "Duration:  %s\n", s.Duration().Round(time.Millisecond))

	fmt.Fprintln(out, "\nModules:")
	for _, m := range s.Config().Modules {
		marker := "·"
		summary := "pending"
		if s.IsCompleted(m) {
			marker = colorSuccess("✓")
			summary = "failed (see errors)"
		}
		if result, ok := s.Result(m); ok {
			summary = summarizeResult(result)
		}
		fmt.Fprintf(out, "  %s %-11s %s\n", marker, m, summary)
	}

	findings := collectFindings(s)
	if len(findings) > 0 {
		fmt.Fprintln(out, "\nFindings:")
		for _, f := range findings {
			fmt.Fprintf(out, "  [%s] %s %s param=%s confidence=%s\n",
				severityLabel(f.Severity), f.Type, f.URL, f.Parameter, confidenceLabel(f.Confidence))
			if f.Provenance.Trust == recon.TrustRelay {
				fmt.Fprintf(out, "         via relay %s (unverified)\n", f.Provenance.Relay)
			}
		}
	}

	printComplianceRefs(out, s)

	if errs := s.Errors(); len(errs) > 0 {
		fmt.Fprintln(out, "\nErrors:")
		for _, e := range errs {
			fmt.Fprintf(out, "  %s %s\n", colorError("✗"), e)
		}
	}
}

// printComplianceRefs lists framework references for modules whose results show a weakness.
func printComplianceRefs(out io.Writer, s *scan.Scan) {
	header := false
	for _, m := range s.Config().Modules {
		result, ok := s.Result(m)
		if !ok || !compliance.Applies(result) {
			continue
		}
		mapping, ok := compliance.ForModule(m)
		if !ok {
			continue
		}
		if !header {
			fmt.Fprintln(out, "\nCompliance:")
			header = true
		}
		fmt.Fprintf(out, "  %-11s %s (%s): %s\n", m, mapping.Weakness, mapping.Priority, strings.Join(mapping.References(), ", "))
	}
}

// summarizeResult renders a one-line overview of a module result.
func summarizeResult(result recon.Result) string {
	switch r := result.(type) {
	case recon.DNSResult:
		n := 0
		types := make([]string, 0, len(r.Records))
		for t, records := range r.Records {
			n += len(records)
			types = append(types, t)
		}
		sort.Strings(types)
		return fmt.Sprintf("%d records (%s)", n, strings.Join(types, ","))
	case recon.WhoisResult:
		if r.Registrar == "" {
			return "registrar unknown"
		}
		return fmt.Sprintf("registrar %s, expires %s", r.Registrar, valueOr(r.ExpirationDate, "unknown"))
	case recon.SubdomainResult:
		return fmt.Sprintf("%d subdomains from %s%s", len(r.Subdomains), r.Source, provenanceNote(r.Provenance))
	case recon.PortResult:
		return fmt.Sprintf("%d/%d ports open, risk %s", len(r.Open), r.Scanned, severityLabel(r.RiskLevel))
	case recon.HeadersResult:
		return fmt.Sprintf("grade %s (%d/%d), %d missing", r.Grade, r.Score, r.MaxScore, len(r.Missing))
	case recon.CORSResult:
		if r.Vulnerable {
			return colorError("misconfigured") + fmt.Sprintf(" (%d issues)", len(r.Issues))
		}
		return "no exploitable misconfiguration"
	case recon.WAFResult:
		if !r.Detected {
			return "no protection detected"
		}
		names := make([]string, 0, len(r.Matches))
		for _, m := range r.Matches {
			names = append(names, m.Name)
		}
		return "detected " + strings.Join(names, ", ")
	case recon.VulnResult:
		if r.Vulnerable {
			return colorError(fmt.Sprintf("%d findings", len(r.Findings))) + fmt.Sprintf(" from %d payloads", r.TestedPayloads)
		}
		return fmt.Sprintf("no findings from %d payloads", r.TestedPayloads)
	default:
		return "unknown result"
	}
}

func collectFindings(s *scan.Scan) []recon.Finding {
	var findings []recon.Finding
	for _, m := range s.Config().Modules {
		result, ok := s.Result(m)
		if !ok {
			continue
		}
		if v, ok := result.(recon.VulnResult); ok {
			findings = append(findings, v.Findings...)
		}
	}
	return findings
}

func provenanceNote(p recon.Provenance) string {
	if p.Trust == recon.TrustRelay {
		return " via relay"
	}
	return ""
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func requireROEConfirm(cmd *cobra.Command) error {
	confirmed, _ := cmd.Flags().GetBool("roe-confirm")
	if !confirmed {
		return fmt.Errorf("this action requires --roe-confirm to proceed (ensures explicit written authorization)")
	}
	return nil
}

func jsonOutput(cmd *cobra.Command) bool {
	asJSON, _ := cmd.Flags().GetBool("json")
	return asJSON
}

func init() {
	scanStartCmd.Flags().StringSliceVar(&cliConfig.Scan.Modules, "modules", nil, "modules to run in order (default: all)")
	scanStartCmd.Flags().IntVar(&cliConfig.Scan.Threads, "threads", cliConfig.Scan.Threads, "concurrent requests per module")
	scanStartCmd.Flags().IntVar(&cliConfig.Scan.TimeoutSecs, "timeout", cliConfig.Scan.TimeoutSecs, "per-request timeout in seconds")
	scanStartCmd.Flags().IntVar(&cliConfig.Scan.Retries, "retries", cliConfig.Scan.Retries, "retries after a failed request")
	scanStartCmd.Flags().IntVar(&cliConfig.Scan.RetryDelayMS, "retry-delay", cliConfig.Scan.RetryDelayMS, "base retry delay in milliseconds (grows linearly)")
	scanStartCmd.Flags().IntVar(&cliConfig.Scan.PayloadLimit, "payload-limit", cliConfig.Scan.PayloadLimit, "maximum payloads per probe module")
	scanStartCmd.Flags().IntVar(&cliConfig.Scan.PacingMS, "pacing", cliConfig.Scan.PacingMS, "delay between probe payloads in milliseconds")
	scanStartCmd.Flags().StringSliceVar(&cliConfig.Relays, "relay", nil, "relay URL template used when direct requests fail (repeatable)")
	scanStartCmd.Flags().IntSliceVar(&cliConfig.Scan.Ports, "ports", nil, "ports for the ports module (default: common ports)")

	for _, c := range []*cobra.Command{scanStartCmd, scanResumeCmd} {
		c.Flags().Bool("roe-confirm", false, "Confirm you have explicit written authorization (required)")
		c.Flags().Bool("progress", true, "Show a live progress line")
	}
	for _, c := range []*cobra.Command{scanStartCmd, scanResumeCmd, scanShowCmd, scanListCmd} {
		c.Flags().Bool("json", false, "Print JSON instead of text")
	}
	scanListCmd.Flags().String("status", "", "only list scans with this status (running, paused, completed, failed)")

	scanCmd.AddCommand(scanStartCmd, scanResumeCmd, scanPauseCmd, scanStopCmd, scanShowCmd, scanListCmd, scanDeleteCmd)
}
