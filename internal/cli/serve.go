package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpadapter "github.com/aretw0/marionette/pkg/adapters/http"
	mcpadapter "github.com/aretw0/marionette/pkg/adapters/mcp"
)

// ShutdownTimeout bounds the graceful shutdown of the HTTP server.
const ShutdownTimeout = 5 * time.Second

// NewHTTPHandler builds the inspection API with the factory's store, resolver and metrics.
func NewHTTPHandler(f *Factory) (http.Handler, error) {
	opts := []httpadapter.Option{httpadapter.WithLogger(f.Logger())}

	store, err := f.Store()
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, httpadapter.WithStore(store))
	}
	resolver, err := f.Resolver()
	if err != nil {
		return nil, err
	}
	opts = append(opts, httpadapter.WithResolver(resolver))

	_, reg, err := f.Metrics()
	if err != nil {
		return nil, err
	}
	if reg != nil {
		opts = append(opts, httpadapter.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}
	return httpadapter.NewHandler(f.Catalog(), opts...), nil
}

// Serve runs the inspection API on addr until ctx is done.
func Serve(ctx context.Context, f *Factory, addr string) error {
	handler, err := NewHTTPHandler(f)
	if err != nil {
		return err
	}
	logger := f.Logger()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "address", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", ShutdownTimeout, "err", err)
			return srv.Close()
		}
		logger.Info("http server stopped gracefully")
		return nil
	}
}

// Transports accepted by ServeMCP.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// NewMCPServer builds the MCP server with the factory's store and resolver.
func NewMCPServer(f *Factory) (*mcpadapter.Server, error) {
	opts := []mcpadapter.Option{mcpadapter.WithLogger(f.Logger())}
	store, err := f.Store()
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, mcpadapter.WithStore(store))
	}
	resolver, err := f.Resolver()
	if err != nil {
		return nil, err
	}
	opts = append(opts, mcpadapter.WithResolver(resolver))
	return mcpadapter.NewServer(f.Catalog(), opts...), nil
}

// ServeMCP runs the MCP server over stdio or SSE.
func ServeMCP(ctx context.Context, f *Factory, transport string, port int) error {
	srv, err := NewMCPServer(f)
	if err != nil {
		return err
	}
	switch transport {
	case TransportStdio:
		f.Logger().Info("starting mcp server (stdio)")
		return srv.ServeStdio()
	case TransportSSE:
		err := srv.ServeSSE(ctx, port)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unknown transport %q, supported: %s, %s", transport, TransportStdio, TransportSSE)
}
