package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/vdclip/internal/ipc"
)

func newNotifyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send stdin to a running relay as the new host clipboard",
		Long: `Reads the new host clipboard text from stdin and delivers it to the relay's
host change socket. Suitable as the tail of a watch command:

  wl-paste -t text -w vdclip notify --socket {socket}`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
			defer cancel()
			return ipc.Notify(ctx, v.GetString("socket"), cmd.InOrStdin())
		},
	}

	f := cmd.Flags()
	f.String("socket", ipc.SocketPath(), "host change socket path")
	f.Duration("timeout", 10*time.Second, "give up after this long")
	addConfigFlag(cmd)

	return cmd
}
