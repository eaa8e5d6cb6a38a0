// Package listener runs the sequential accept loop that feeds the pool.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/poolhttpd/internal/metrics"
	"github.com/JakeFAU/poolhttpd/internal/worker"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// JobFactory wraps an accepted connection into a job that owns it.
type JobFactory interface {
	Job(conn net.Conn) worker.Job
}

// Submitter accepts jobs for execution.
type Submitter interface {
	Submit(ctx context.Context, job worker.Job) error
}

// Throttle paces admissions. Wait blocks until the next connection may be
// accepted and fails only when ctx ends.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Option customizes Serve.
type Option func(*options)

type options struct {
	throttle Throttle
}

// WithThrottle makes the loop wait on t before every Accept. Connections that
// arrive meanwhile stay in the kernel backlog.
func WithThrottle(t Throttle) Option {
	return func(o *options) {
		o.throttle = t
	}
}

// Serve accepts connections from ln until ctx ends, handing each one to
// submitter as a job built by factory. Accept failures are logged and the
// loop keeps going. Serve closes ln when ctx ends and then returns nil.
func Serve(ctx context.Context, ln net.Listener, factory JobFactory, submitter Submitter, logger *zap.Logger, opts ...Option) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	stop := context.AfterFunc(ctx, func() {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Warn("close listener failed", zap.Error(err))
		}
	})
	defer stop()

	logger.Info("listening", zap.String("addr", ln.Addr().String()))
	var delay time.Duration
	for {
		if o.throttle != nil {
			if err := o.throttle.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("admission throttle: %w", err)
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			metrics.ObserveAcceptError()
			delay = nextDelay(delay)
			logger.Error("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		delay = 0

		// An accepted connection must be queued even when shutdown has begun;
		// workers keep draining until Serve returns, so a full queue frees up.
		if err := submitter.Submit(context.WithoutCancel(ctx), factory.Job(conn)); err != nil {
			logger.Error("submit connection failed",
				zap.String("remote_addr", remoteAddr(conn)),
				zap.Error(err),
			)
			if cerr := conn.Close(); cerr != nil {
				logger.Debug("close rejected connection failed", zap.Error(cerr))
			}
		}
	}
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	d *= 2
	if d > maxAcceptDelay {
		return maxAcceptDelay
	}
	return d
}
