package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/asw/internal/buildinfo"
)

func NewCommand() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the asw version, VCS revision, Go runtime and target platform",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, buildinfo.GetVersion())
				return
			}
			fmt.Fprintf(out, "asw version %s\n", buildinfo.GetVersion())
			if rev := buildinfo.Revision(); rev != "" {
				fmt.Fprintf(out, "  Revision:      %s\n", rev)
			}
			fmt.Fprintf(out, "  Go version:    %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	return cmd
}
