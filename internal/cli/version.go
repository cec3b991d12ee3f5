package cli

import (
	"fmt"

	"github.com/hchap1/rift/internal/transport"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version and protocol identifier",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rift %s (%s)\n", Version, transport.ALPN)
	},
}
