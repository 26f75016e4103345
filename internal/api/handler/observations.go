package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/d9705996/clientpulse/internal/api/jsonapi"
	"github.com/d9705996/clientpulse/internal/api/middleware"
	"github.com/d9705996/clientpulse/internal/ingest"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/worker"
)

// ObservationHandler handles observation merges and series reads.
type ObservationHandler struct {
	rec    *ingest.Reconciler
	engine *policy.Engine
	queue  worker.Queue
	log    *slog.Logger
}

// NewObservationHandler creates an ObservationHandler. queue may be a no-op
// queue, in which case async merges are refused.
func NewObservationHandler(rec *ingest.Reconciler, engine *policy.Engine, queue worker.Queue, log *slog.Logger) *ObservationHandler {
	return &ObservationHandler{rec: rec, engine: engine, queue: queue, log: log}
}

type mergeBody struct {
	SourceID  string                  `json:"source_id"`
	SubSource string                  `json:"sub_source"`
	Rows      []ingest.RawObservation `json:"rows"`
}

// Merge handles POST /api/v1/tenants/{id}/observations. With ?async=true the
// batch is queued and 202 is returned with the job id.
func (h *ObservationHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var body mergeBody
	if err := jsonapi.Decode(r, &body); err != nil {
		renderError(w, r, h.log, err)
		return
	}
	ctx := r.Context()
	actor := middleware.PrincipalID(ctx)
	tenantID := r.PathValue("id")

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		// Fail fast on callers who could never run the job.
		if err := h.engine.Require(ctx, actor, &tenantID, policy.ActionWrite); err != nil {
			renderError(w, r, h.log, err)
			return
		}
		id, err := h.queue.EnqueueMerge(ctx, worker.MergeObservationsArgs{
			Actor: actor, TenantID: tenantID, SourceID: body.SourceID, SubSource: body.SubSource, Rows: body.Rows,
		})
		if err != nil {
			renderError(w, r, h.log, err)
			return
		}
		jsonapi.RenderOne(w, http.StatusAccepted, jsonapi.ResourceObject{
			Type:       "jobs",
			ID:         strconv.FormatInt(id, 10),
			Attributes: map[string]any{"kind": worker.MergeObservationsArgs{}.Kind(), "rows": len(body.Rows)},
		})
		return
	}

	res, err := h.rec.Merge(ctx, actor, tenantID,
		ingest.SourceDescriptor{SourceID: body.SourceID, SubSource: body.SubSource}, body.Rows)
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	if res.Rejected == nil {
		res.Rejected = []ingest.Rejection{}
	}
	if res.Superseded == nil {
		res.Superseded = []ingest.Rejection{}
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "merge_results",
		ID:         tenantID,
		Attributes: res,
	})
}

// Series handles GET /api/v1/tenants/{id}/series.
// Query: metric (repeatable or comma separated), category, kind, from, to.
func (h *ObservationHandler) Series(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sq := ingest.SeriesQuery{
		Category: q.Get("category"),
		From:     q.Get("from"),
		To:       q.Get("to"),
	}
	for _, m := range q["metric"] {
		for _, part := range strings.Split(m, ",") {
			if part = strings.TrimSpace(part); part != "" {
				sq.Metrics = append(sq.Metrics, part)
			}
		}
	}
	if k := q.Get("kind"); k != "" {
		kind, err := model.ParseValueKind(k)
		if err != nil {
			renderError(w, r, h.log, fmt.Errorf("%w: %v", ingest.ErrMalformedObservation, err))
			return
		}
		sq.Kind = kind
	}

	tenantID := r.PathValue("id")
	points, err := h.rec.Series(r.Context(), middleware.PrincipalID(r.Context()), tenantID, sq)
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	data := make([]any, 0, len(points))
	for _, p := range points {
		data = append(data, jsonapi.ResourceObject{
			Type:       "series_points",
			ID:         strings.Join([]string{p.Date, p.Category, p.Metric, string(p.Kind)}, "|"),
			Attributes: p,
		})
	}
	jsonapi.RenderList(w, http.StatusOK, data, &jsonapi.Pagination{Total: len(data)})
}
