package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	mux.Handle("GET /api/v1/pipeline", chain(http.HandlerFunc(h.GetPipeline)))
	mux.Handle("GET /api/v1/stages", chain(http.HandlerFunc(h.ListStages)))
	mux.Handle("GET /api/v1/stages/{name}/failures", chain(http.HandlerFunc(h.ListFailures)))
	mux.Handle("GET /api/v1/queues", chain(http.HandlerFunc(h.ListQueues)))
	mux.Handle("GET /api/v1/environment", chain(http.HandlerFunc(h.GetEnvironment)))
}
