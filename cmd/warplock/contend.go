package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-warplock/v1/lock"
)

var (
	contendWorkers    int
	contendIterations int
	contendWork       time.Duration

	// contendCmd hammers one lock from many goroutines and checks that no
	// two of them were ever inside at once.
	contendCmd = &cobra.Command{
		Use:   "contend [name]",
		Short: "Compete for a lock from many workers and verify mutual exclusion",
		Args:  cobra.ExactArgs(1),
		RunE:  runContend,
	}
)

func init() {
	contendCmd.Flags().IntVarP(&contendWorkers, "workers", "n", 8, wrapString("number of competing workers"))
	contendCmd.Flags().IntVar(&contendIterations, "iterations", 10, wrapString("acquisitions per worker"))
	contendCmd.Flags().DurationVar(&contendWork, "work", 10*time.Millisecond, wrapString("time spent inside the critical section"))
}

type contendResult struct {
	acquired   int64
	timeouts   int64
	violations int64
	elapsed    time.Duration
}

func contend(ctx context.Context, m *lock.Manager, name string, workers, iterations int, work time.Duration) (contendResult, error) {
	var inside, acquired, timeouts, violations atomic.Int64
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < iterations; i++ {
				err := m.WithLock(ctx, name, func(ctx context.Context) error {
					if inside.Add(1) != 1 {
						violations.Add(1)
					}
					defer inside.Add(-1)
					acquired.Add(1)
					select {
					case <-time.After(work):
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				})
				switch {
				case errors.Is(err, lock.ErrLockTimeout):
					timeouts.Add(1)
				case err != nil:
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()
	return contendResult{
		acquired:   acquired.Load(),
		timeouts:   timeouts.Load(),
		violations: violations.Load(),
		elapsed:    time.Since(start),
	}, err
}

func runContend(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := contend(cmd.Context(), a.manager, args[0], contendWorkers, contendIterations, contendWork)
	fmt.Fprintf(cmd.OutOrStdout(), "workers=%d acquired=%d timeouts=%d violations=%d elapsed=%s\n",
		contendWorkers, res.acquired, res.timeouts, res.violations, res.elapsed.Round(time.Millisecond))
	if err != nil {
		return err
	}
	if res.violations > 0 {
		return fmt.Errorf("mutual exclusion violated %d times", res.violations)
	}
	return nil
}
