package cmd

import (
	"fmt"
	"runtime"

	"github.com/aspirely/aspirely-cli/pkg/client"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../internal/cmd.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Show CLI version",
	Annotations: map[string]string{annotationNoSession: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(output.Out, "Aspirely CLI %s (%s/%s, %s)\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	},
}

func init() {
	client.UserAgent = "Aspirely-CLI/" + Version
}
