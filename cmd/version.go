package cmd

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Release metadata, set with -ldflags "-X github.com/khanhnv2901/seca-recon/cmd.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type buildInfo struct {
	Version   string
	Commit    string
	Date      string
	Modified  bool
	GoVersion string
	Platform  string
}

// currentBuild fills in VCS details stamped by the Go toolchain when ldflags were not used.
func currentBuild() buildInfo {
	info := buildInfo{
		Version:   Version,
		Commit:    GitCommit,
		Date:      BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func (b buildInfo) write(out io.Writer, verbose bool) {
	if !verbose {
		fmt.Fprintf(out, "seca-recon version %s\n", b.Version)
		return
	}
	commit := b.Commit
	if b.Modified {
		commit += " (modified)"
	}
	fmt.Fprintln(out, "seca-recon")
	fmt.Fprintf(out, "  Version:    %s\n", b.Version)
	fmt.Fprintf(out, "  Git Commit: %s\n", commit)
	fmt.Fprintf(out, "  Built:      %s\n", b.Date)
	fmt.Fprintf(out, "  Go Version: %s\n", b.GoVersion)
	fmt.Fprintf(out, "  OS/Arch:    %s\n", b.Platform)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the seca-recon build version",
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		currentBuild().write(cmd.OutOrStdout(), verbose)
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "Include commit, build date and toolchain")
}
