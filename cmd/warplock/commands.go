package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-warplock/v1/lock"
)

var (
	holdFor time.Duration

	// acquireCmd holds a lock until --hold elapses or the process is
	// interrupted.
	acquireCmd = &cobra.Command{
		Use:   "acquire [name]",
		Short: "Acquire a lock and hold it",
		Long:  "Acquire a lock and hold it, renewing the lease, until --hold elapses or the process receives SIGINT/SIGTERM. Exits non-zero if the lock is busy or lost.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// runCmd runs a command while holding a lock.
	runCmd = &cobra.Command{
		Use:   "run [name] -- [command] [args...]",
		Short: "Run a command while holding a lock",
		Long:  "Run a command while holding a lock. The command is killed if the lock is lost and the lock is released when it exits.",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runRun,
	}

	// statusCmd reports whether a lock is held.
	statusCmd = &cobra.Command{
		Use:   "status [name]",
		Short: "Show whether a lock is held and its remaining lease",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
)

func init() {
	acquireCmd.Flags().DurationVar(&holdFor, "hold", 0, wrapString("how long to hold the lock, 0 to hold until interrupted"))
}

func runAcquire(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	h, err := a.manager.Acquire(ctx, args[0])
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			fmt.Fprintln(out, "acquired=false")
		}
		return err
	}
	fmt.Fprintf(out, "acquired=true key=%s token=%s ttl=%s\n", h.Key(), h.Token(), h.TTL())

	var hold <-chan time.Time
	if holdFor > 0 {
		timer := time.NewTimer(holdFor)
		defer timer.Stop()
		hold = timer.C
	}

	var lostErr error
	select {
	case <-ctx.Done():
	case <-hold:
	case <-h.Lost():
		lostErr = lock.ErrLockLost
	}

	rctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.Release(rctx); err != nil {
		return err
	}
	st := h.Stats()
	fmt.Fprintf(out, "released=%t held_for=%s renewals=%d\n", lostErr == nil, time.Since(h.AcquiredAt()).Round(time.Millisecond), st.Renewals)
	return lostErr
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name, argv := args[0], args[1:]
	return a.manager.WithLock(ctx, name, func(ctx context.Context) error {
		c := exec.CommandContext(ctx, argv[0], argv[1:]...)
		c.Stdin = cmd.InOrStdin()
		c.Stdout = cmd.OutOrStdout()
		c.Stderr = cmd.ErrOrStderr()
		return c.Run()
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ttl, ok, err := a.manager.TTL(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case !ok:
		fmt.Fprintln(out, "locked=false")
	case ttl == 0:
		fmt.Fprintln(out, "locked=true ttl=none")
	default:
		fmt.Fprintf(out, "locked=true ttl=%s\n", ttl.Round(time.Millisecond))
	}
	return nil
}
