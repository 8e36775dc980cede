// Package server runs dittoshare's network surfaces as one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/adapter"
)

// DefaultShutdownTimeout bounds the Stop() calls issued during shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// Server manages the lifecycle of a set of adapters (file API, notifier,
// authority, metrics) that share backends.
//
// Lifecycle:
//  1. Creation: New()
//  2. Registration: AddAdapter() for each surface, AddCloser() for each backend
//  3. Startup: Serve() starts every adapter concurrently
//  4. Shutdown: on context cancellation or the first adapter failure, adapters
//     are stopped in reverse registration order, then closers run in reverse
//
// Serve may only be called once.
//
// Example usage:
//
//	srv := server.New(cfg.Server.ShutdownTimeout)
//	srv.AddAdapter(filesAPI)
//	srv.AddAdapter(notifier)
//	srv.AddCloser("record store", records)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
type Server struct {
	shutdownTimeout time.Duration

	mu       sync.Mutex
	adapters []adapter.Adapter
	closers  []namedCloser
	served   bool
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// New creates a server. A non-positive timeout uses DefaultShutdownTimeout.
func New(shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		shutdownTimeout: shutdownTimeout,
		adapters:        make([]adapter.Adapter, 0, 4),
	}
}

// AddAdapter registers an adapter.
//
// Two adapters may not share a protocol name or a fixed port. Port 0
// (ephemeral) never conflicts.
//
// Panics if a is nil or Serve has already been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol, port := a.Protocol(), a.Port()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// AddCloser registers a backend to close once every adapter has stopped.
func (s *Server) AddCloser(name string, c io.Closer) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, namedCloser{name: name, closer: c})
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]adapter.Adapter, len(s.adapters))
	copy(out, s.adapters)
	return out
}

// Serve starts every adapter and blocks until ctx is cancelled or an adapter
// fails.
//
// Returns nil after a shutdown triggered by ctx, or the first adapter error
// otherwise. An adapter whose Serve returns nil before cancellation counts
// as failed.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("server already served")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	closers := make([]namedCloser, len(s.closers))
	copy(closers, s.closers)
	s.mu.Unlock()

	logger.Info("Starting dittoshare with %d adapter(s)", len(adapters))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			err := a.Serve(runCtx)
			if runCtx.Err() != nil {
				logger.Debug("%s adapter stopped", protocol)
				return
			}
			if err == nil {
				err = errors.New("stopped unexpectedly")
			}
			logger.Error("%s adapter failed: %v", protocol, err)
			errChan <- adapterError{protocol: protocol, err: err}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed - initiating shutdown of all adapters", adapterErr.protocol)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	cancel()
	s.stopAll(adapters)

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	closeAll(closers)

	logger.Info("dittoshare stopped")
	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAll calls Stop on every adapter in reverse registration order, sharing
// one shutdown deadline.
func (s *Server) stopAll(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		}
	}
}

func closeAll(closers []namedCloser) {
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.closer.Close(); err != nil {
			logger.Warn("Failed to close %s: %v", c.name, err)
		} else {
			logger.Debug("Closed %s", c.name)
		}
	}
}
