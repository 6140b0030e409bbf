package api

import (
	"errors"
	"net/http"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/queue"
)

// GetPipeline возвращает описание pipeline.
// GET /api/v1/pipeline
func (h *Handler) GetPipeline(w http.ResponseWriter, _ *http.Request) {
	Success(w, PipelineFromEngine(h.pipeline))
}

// ListStages возвращает статусы стадий в порядке pipeline.
// Стадии, которые ещё не запускались, имеют статус PENDING.
// GET /api/v1/stages
func (h *Handler) ListStages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	states, err := h.stages.StageStatuses(ctx)
	if HandleStoreError(w, h.logger, err, "") {
		return
	}
	byName := make(map[string]domain.StageState, len(states))
	for _, st := range states {
		byName[st.Name] = st
	}

	active, err := h.stages.ActiveStage(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		InternalError(w, h.logger, err)
		return
	}

	result := make([]StageResponse, len(h.pipeline.Stages))
	for i, def := range h.pipeline.Stages {
		resp := StageResponse{
			Name:     def.Name,
			Position: i,
			Status:   domain.StageStatusPending,
			Active:   def.Name == active,
		}
		if st, ok := byName[def.Name]; ok {
			resp.Status = st.Status
			updated := st.UpdatedAt
			resp.UpdatedAt = &updated
		}

		var depth queue.Depth
		for _, q := range def.QueueNames() {
			d, err := h.queues.Depth(ctx, q)
			if HandleStoreError(w, h.logger, err, "") {
				return
			}
			depth = depth.Add(d)
		}
		resp.Pending = depth.Pending
		resp.InFlight = depth.InFlight

		failures, err := h.queues.ListFailures(ctx, def.Name)
		if HandleStoreError(w, h.logger, err, "") {
			return
		}
		resp.Failures = len(failures)

		result[i] = resp
	}

	List(w, result, len(result))
}

// ListFailures возвращает failed-set стадии.
// GET /api/v1/stages/{name}/failures
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, _, err := h.pipeline.Stage(name); err != nil {
		NotFound(w, "stage not found")
		return
	}

	failures, err := h.queues.ListFailures(r.Context(), name)
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	result := make([]FailureResponse, len(failures))
	for i, f := range failures {
		result[i] = FailureFromDomain(f)
	}

	List(w, result, len(result))
}

// ListQueues возвращает состояние всех очередей pipeline.
// GET /api/v1/queues
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	var result []QueueResponse
	for _, def := range h.pipeline.Stages {
		for _, q := range def.Queues {
			d, err := h.queues.Depth(r.Context(), q.Name)
			if HandleStoreError(w, h.logger, err, "") {
				return
			}
			result = append(result, QueueResponse{
				Name:     q.Name,
				Stage:    def.Name,
				MaxWIP:   q.MaxWIP,
				Pending:  d.Pending,
				InFlight: d.InFlight,
			})
		}
	}

	List(w, result, len(result))
}

// GetEnvironment возвращает метаданные опубликованного snapshot окружения.
// GET /api/v1/environment
func (h *Handler) GetEnvironment(w http.ResponseWriter, r *http.Request) {
	snap, err := h.env.GetEnvironment(r.Context())
	if HandleStoreError(w, h.logger, err, "environment not published") {
		return
	}

	Success(w, EnvironmentResponse{
		RunID:    snap.RunID,
		PushedAt: snap.PushedAt,
		Keys:     sortedKeys(snap.Values),
	})
}
