package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/api"
)

// Handler возвращает mux с /healthz, /metrics и API статуса.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	api.NewHandler(api.Config{
		Pipeline: r.Pipeline,
		Queues:   r.Backend.Queue,
		Stages:   r.Backend.State,
		Env:      r.Backend.State,
		Logger:   r.Logger,
	}).RegisterRoutes(mux)

	return mux
}

// ServeHTTP запускает HTTP-сервер и останавливает его при отмене ctx.
// Ошибка сервера вызывает onError (например, отмену процесса).
func (r *Runtime) ServeHTTP(ctx context.Context, addr string, onError func()) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		r.Logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.Logger.Error("http server error", "error", err)
			if onError != nil {
				onError()
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.Logger.Warn("http server shutdown", "error", err)
		}
	}()
}
