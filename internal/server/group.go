package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Closer is a named shutdown hook run after the HTTP servers stop.
type Closer struct {
	Name  string
	Close func(ctx context.Context) error
}

// Group 统一管理多个 HTTP 监听及其关闭钩子
type Group struct {
	managers []*Manager
	closers  []Closer
	logger   *zap.Logger
}

// NewGroup creates a group of servers started and stopped together.
func NewGroup(logger *zap.Logger, managers ...*Manager) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		managers: managers,
		logger:   logger.With(zap.String("component", "server_group")),
	}
}

// OnShutdown registers a hook run after all servers stop, in registration
// order.
func (g *Group) OnShutdown(name string, fn func(ctx context.Context) error) {
	g.closers = append(g.closers, Closer{Name: name, Close: fn})
}

// Start starts every server. If one fails, those already started are shut
// down.
func (g *Group) Start() error {
	for i, m := range g.managers {
		if err := m.Start(); err != nil {
			for _, started := range g.managers[:i] {
				_ = started.Shutdown(context.Background())
			}
			return err
		}
	}
	return nil
}

// Wait blocks until SIGINT/SIGTERM, ctx cancellation, or a server failure.
// It returns the server error, if any.
func (g *Group) Wait(ctx context.Context) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	errCh := make(chan error, len(g.managers))
	done := make(chan struct{})
	defer close(done)
	for _, m := range g.managers {
		go func(m *Manager) {
			select {
			case err := <-m.Errors():
				errCh <- err
			case <-done:
			}
		}(m)
	}

	select {
	case sig := <-quit:
		g.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		return nil
	case <-ctx.Done():
		g.logger.Info("context cancelled, shutting down")
		return nil
	case err := <-errCh:
		g.logger.Error("server exited unexpectedly", zap.Error(err))
		return err
	}
}

// Shutdown stops all servers, then runs the shutdown hooks. Every step runs
// even if an earlier one fails; the errors are joined.
func (g *Group) Shutdown(ctx context.Context) error {
	var errs []error
	for _, m := range g.managers {
		if err := m.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range g.closers {
		if err := c.Close(ctx); err != nil {
			g.logger.Error("shutdown hook failed", zap.String("hook", c.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		g.logger.Debug("shutdown hook done", zap.String("hook", c.Name))
	}
	return errors.Join(errs...)
}
