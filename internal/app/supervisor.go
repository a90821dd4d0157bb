package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"portero.org/internal/obs"
)

// HTTPServer is the part of *http.Server the supervisor drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server under suture.
type HTTPService struct {
	server  HTTPServer
	timeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, timeout: shutdownTimeout}
}

// Serve blocks until ctx ends or the listener fails.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// Supervisor builds the process tree: the HTTP server, the notification
// dispatcher and, when enabled, the expiry sweeper.
func (a *App) Supervisor(server HTTPServer) *suture.Supervisor {
	logger := obs.Component("supervisor")
	sup := suture.New("portero", suture.Spec{
		EventHook:        eventHook(logger),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          a.Config.Server.ShutdownTimeout,
	})
	sup.Add(a.Dispatcher)
	if a.Config.Sweep.Enabled {
		sup.Add(a.Sweeper)
	}
	sup.Add(NewHTTPService(server, a.Config.Server.ShutdownTimeout))
	return sup
}

func eventHook(logger zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		ev := logger.Warn()
		if e.Type() == suture.EventTypeResume {
			ev = logger.Info()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}
