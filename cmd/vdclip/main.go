// vdclip: vdagent clipboard relay between guests and the host clipboard.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vdclip",
		Short: "vdagent clipboard relay",
		Long: `vdclip speaks the SPICE vdagent clipboard protocol to guests connecting over
TCP and mirrors their text clipboard with the host's.

Run "vdclip serve" on the host. Guests announce clipboard ownership, the relay
fetches their text and pushes it to the host clipboard; host clipboard changes
arrive on a local Unix socket and are announced to every guest.

Config file search order (first found wins):
  /etc/vdclip/vdclip.toml
  $HOME/.config/vdclip/vdclip.toml
  path supplied via --config

All flags can be set via VDCLIP_<FLAG> env vars or config-file keys.
See "vdclip serve --help" for the full flag reference.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newNotifyCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vdclip %s\n", Version)
		},
	}
}
