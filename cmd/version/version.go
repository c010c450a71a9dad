// Package versioncmder prints build information for the relay binary.
package versioncmder

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/utils"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the relay version",
		Long:  "Display the version, commit, and build time of this relay binary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func printVersion(w io.Writer) {
	rows := [][2]string{
		{"Version", utils.Version},
		{"Sha", utils.Sha},
		{"Built at", utils.Buildtime},
		{"Go", runtime.Version()},
		{"Platform", runtime.GOOS + "/" + runtime.GOARCH},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s %s\n", cliui.KeyStyle.Render(cliui.PadRight(r[0]+":", 10)), cliui.ValueStyle.Render(r[1]))
	}
}
