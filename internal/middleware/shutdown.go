// Package middleware provides HTTP middleware for the service layer.
package middleware

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
)

// shutdownStep pairs a callback with the name logged around it, so an
// operator can tell which component a stalled or panicking shutdown is
// stuck in (the bus disconnect, the task manager drain, the rate limiter's
// cron stop, ...).
type shutdownStep struct {
	name string
	fn   func()
}

// GracefulShutdown drains the event fabric's components in registration
// order before closing the HTTP server: bus subscriptions, in-flight tasks,
// and any cron-driven background loops all get a chance to stop cleanly
// before the process exits.
type GracefulShutdown struct {
	mu           sync.Mutex
	server       *http.Server
	timeout      time.Duration
	shutdownChan chan struct{}
	steps        []shutdownStep
	logger       *logging.Logger
}

// NewGracefulShutdown creates a new graceful shutdown manager. logger may be
// nil, in which case shutdown proceeds silently.
func NewGracefulShutdown(server *http.Server, timeout time.Duration, logger *logging.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{
		server:       server,
		timeout:      timeout,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}
}

// OnShutdown registers a named callback to run during shutdown, in
// registration order. name appears in the shutdown log lines.
func (g *GracefulShutdown) OnShutdown(name string, callback func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.steps = append(g.steps, shutdownStep{name: name, fn: callback})
}

// ListenForSignals starts listening for shutdown signals.
func (g *GracefulShutdown) ListenForSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		g.log(nil, "received shutdown signal", map[string]interface{}{"signal": sig.String()})
		g.Shutdown()
	}()
}

// Shutdown drains every registered step, in order, then closes the HTTP
// server. A panicking step is recovered and logged so one misbehaving
// component can't block the others from draining.
func (g *GracefulShutdown) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, step := range g.steps {
		g.runStep(step)
	}

	if g.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		if err := g.server.Shutdown(ctx); err != nil {
			g.log(err, "http server shutdown failed", nil)
		}
	}

	close(g.shutdownChan)
}

func (g *GracefulShutdown) runStep(step shutdownStep) {
	defer func() {
		if r := recover(); r != nil {
			g.log(nil, "panic in shutdown step", map[string]interface{}{"step": step.name, "panic": r})
		}
	}()
	step.fn()
}

func (g *GracefulShutdown) log(err error, message string, fields map[string]interface{}) {
	if g.logger == nil {
		return
	}
	ctx := context.Background()
	if err != nil {
		g.logger.Error(ctx, message, err, fields)
		return
	}
	g.logger.Info(ctx, message, fields)
}

// Wait blocks until shutdown is complete.
func (g *GracefulShutdown) Wait() {
	<-g.shutdownChan
}
