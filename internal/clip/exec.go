package clip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.klb.dev/vdclip/internal/ipc"
)

const watcherWaitDelay = 2 * time.Second

type execBackend struct {
	paste []string
	copy  []string
	watch []string

	timeout      time.Duration
	restartDelay time.Duration
}

func newExec(cfg Config) (*execBackend, error) {
	b := &execBackend{
		paste:        strings.Fields(orDefault(cfg.PasteCmd, DefaultPasteCmd)),
		copy:         strings.Fields(orDefault(cfg.CopyCmd, DefaultCopyCmd)),
		watch:        strings.Fields(orDefault(cfg.WatchCmd, DefaultWatchCmd)),
		timeout:      cfg.CommandTimeout,
		restartDelay: cfg.RestartDelay,
	}
	if len(b.paste) == 0 || len(b.copy) == 0 || len(b.watch) == 0 {
		return nil, errors.New("exec backend: empty command")
	}
	return b, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func (b *execBackend) Name() string { return "exec (" + b.copy[0] + ")" }

// Read runs the paste command. A command that runs but exits non-zero is how
// wl-paste reports an empty clipboard, so it yields whatever it printed.
func (b *execBackend) Read(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.paste[0], b.paste[1:]...)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		slog.Debug("paste command exited non-zero, treating as empty", "cmd", b.paste[0], "code", exitErr.ExitCode())
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.paste[0], err)
	}
	return out, nil
}

// Write feeds text to the copy command on stdin.
func (b *execBackend) Write(ctx context.Context, text []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.copy[0], b.copy[1:]...)
	cmd.Stdin = bytes.NewReader(text)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", b.copy[0], err)
	}
	return nil
}

// Watch runs the watch command once the socket exists, restarting it after
// every exit until ctx is done.
func (b *execBackend) Watch(ctx context.Context, socketPath string) error {
	argv := make([]string, len(b.watch))
	for i, a := range b.watch {
		argv[i] = strings.ReplaceAll(a, SocketPlaceholder, socketPath)
	}
	log := slog.With("cmd", argv[0])

	for {
		if err := ipc.WaitFor(ctx, socketPath); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Cancel = func() error { return terminate(cmd.Process) }
		cmd.WaitDelay = watcherWaitDelay
		cmd.Stderr = os.Stderr

		log.Info("clipboard watcher started")
		err := cmd.Run()
		if ctx.Err() != nil {
			log.Info("clipboard watcher stopped")
			return nil
		}
		log.Warn("clipboard watcher exited, restarting", "err", err, "delay", b.restartDelay)

		t := time.NewTimer(b.restartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
