// Package run wires process lifetime: signal handling, concurrent
// components, and bounded graceful shutdown.
package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownTimeout bounds each Component's Stop.
const ShutdownTimeout = 10 * time.Second

// Component is a long-running part of a process. Start blocks until the
// component stops; Stop asks it to.
type Component struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

type Runner struct {
	Logger *zap.Logger
}

func New(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{Logger: log}
}

// WithSignals runs components until SIGINT/SIGTERM or until one of them
// fails, then stops them all. It returns the process exit code.
func (r *Runner) WithSignals(components ...Component) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return r.Run(ctx, components...)
}

// Run is WithSignals with a caller-provided context.
func (r *Runner) Run(ctx context.Context, components ...Component) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(components))
	var wg sync.WaitGroup
	for _, c := range components {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Logger.Info("component starting", zap.String("component", c.Name))
			err := c.Start(ctx)
			if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
				r.Logger.Error("component exited with error", zap.String("component", c.Name), zap.Error(err))
				errCh <- err
				return
			}
			errCh <- nil
		}()
	}

	code := 0
	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			code = 1
		}
	}
	cancel()

	for _, c := range components {
		if c.Stop == nil {
			continue
		}
		r.Graceful(c.Name, c.Stop)
	}
	wg.Wait()
	return code
}

// Graceful calls shutdown with a ShutdownTimeout deadline.
func (r *Runner) Graceful(name string, shutdown func(context.Context) error) {
	c, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := shutdown(c); err != nil {
		r.Logger.Warn("component shutdown", zap.String("component", name), zap.Error(err))
	}
}

func Exit(code int) {
	os.Exit(code)
}
