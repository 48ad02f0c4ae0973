package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"go.klb.dev/vdclip/internal/admin"
	"go.klb.dev/vdclip/internal/clip"
	"go.klb.dev/vdclip/internal/ipc"
	"go.klb.dev/vdclip/internal/metrics"
	"go.klb.dev/vdclip/internal/relay"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the clipboard relay",
		Long: `Starts the relay. Guests connect over TCP and speak the vdagent clipboard
protocol; the host clipboard is read and written through the selected backend.

The exec backend runs subprocesses. The watch command is restarted whenever it
exits and must write each new clipboard text to the host change socket; the
literal {socket} in it is replaced with the socket path. "vdclip notify" can
stand in for "nc -q 1 -U {socket}".

Config file search order:
  /etc/vdclip/vdclip.toml
  $HOME/.config/vdclip/vdclip.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → VDCLIP_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("addr", relay.DefaultAddr, "guest TCP listen address")
	f.String("socket", ipc.SocketPath(), "host change socket path")
	f.Duration("idle-timeout", 60*time.Second, "flush a host change connection idle this long")
	f.Duration("write-timeout", 5*time.Second, "per-write deadline on guest connections")
	f.String("backend", "exec", "host clipboard backend: exec|native|none")
	f.String("paste-cmd", clip.DefaultPasteCmd, "exec backend: command printing the host clipboard")
	f.String("copy-cmd", clip.DefaultCopyCmd, "exec backend: command reading new host clipboard text on stdin")
	f.String("watch-cmd", clip.DefaultWatchCmd, "exec backend: long-running host clipboard watcher")
	f.String("admin-addr", "", "admin listen address for health, status and metrics (empty = disabled)")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := clip.New(clip.Config{
		Backend:  v.GetString("backend"),
		PasteCmd: v.GetString("paste-cmd"),
		CopyCmd:  v.GetString("copy-cmd"),
		WatchCmd: v.GetString("watch-cmd"),
	})
	if err != nil {
		return err
	}

	slog.Info("vdclip starting",
		"version", Version,
		"addr", v.GetString("addr"),
		"backend", backend.Name(),
	)

	m := metrics.New()
	r, err := relay.New(ctx, relay.Config{
		Addr:         v.GetString("addr"),
		SocketPath:   v.GetString("socket"),
		IdleTimeout:  v.GetDuration("idle-timeout"),
		WriteTimeout: v.GetDuration("write-timeout"),
	}, backend, m)
	if err != nil {
		slog.Error("cannot read host clipboard", "err", err)
		return err
	}
	if err := r.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Serve(gctx) })

	if addr := v.GetString("admin-addr"); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("admin listen %s: %w", addr, err)
		}
		srv, err := admin.New(ln, r, m.Handler(), Version)
		if err != nil {
			_ = ln.Close()
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return srv.Serve(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("vdclip stopped")
	return nil
}
