package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"satwallet/internal/bridge"
)

// Router serves the bridge websocket at /bridge plus health and metrics.
// Every connection gets its own Channel; all of them share h.
func (w *Wire) Router(h bridge.Handler, m bridge.Migrator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = rw.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(w.Metrics, promhttp.HandlerOpts{}))
	r.Get("/bridge", func(rw http.ResponseWriter, req *http.Request) {
		t, err := bridge.AcceptWebSocket(rw, req, w.Config.AllowedOrigins)
		if err != nil {
			w.Log.Warn("bridge upgrade refused", zap.String("origin", req.Header.Get("Origin")), zap.Error(err))
			return
		}
		opts := []bridge.Option{bridge.WithLogger(w.Log.Named("bridge"))}
		if m != nil {
			opts = append(opts, bridge.WithMigrator(m))
		}
		ch := bridge.NewChannel(t, opts...)
		defer ch.Close()

		log := w.Log.With(zap.String("origin", ch.Origin()))
		log.Info("bridge connected")
		if err := ch.Serve(req.Context(), h); err != nil {
			log.Warn("bridge closed", zap.Error(err))
			return
		}
		log.Info("bridge disconnected")
	})
	return r
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully.
func (w *Wire) Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		w.Log.Info("starting bridge server", zap.String("addr", addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		w.Log.Error("bridge server shutdown", zap.Error(err))
		_ = srv.Close()
		return err
	}
	if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	w.Log.Info("bridge server stopped")
	return nil
}
