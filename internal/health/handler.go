// Package health exposes the /api/v1/health and /api/v1/ready HTTP handlers.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/d9705996/clientpulse/internal/api/jsonapi"
	"github.com/d9705996/clientpulse/internal/version"
)

// Pinger is implemented by anything that can check a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one named readiness dependency.
type Check struct {
	Name   string
	Pinger Pinger
}

// Handler holds dependencies for the health and ready endpoints.
type Handler struct {
	checks    []Check
	startTime time.Time
}

// New creates a Handler. A check with a nil Pinger is treated as not yet
// initialised and fails /ready; with no checks at all /ready also fails.
func New(checks ...Check) *Handler {
	return &Handler{checks: checks, startTime: time.Now()}
}

// healthAttrs is the JSON:API attributes payload for the health response.
type healthAttrs struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ServeHealth handles GET /api/v1/health.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "health",
		ID:   "1",
		Attributes: healthAttrs{
			Status:        "ok",
			Version:       version.Version,
			Commit:        version.Commit,
			BuildDate:     version.Date,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		},
	})
}

// ServeReady handles GET /api/v1/ready.
// Returns 200 when every check answers; 503 with one error per failing
// dependency otherwise.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	if len(h.checks) == 0 {
		jsonapi.RenderError(w, http.StatusServiceUnavailable,
			"dependency_unavailable", "Service Unavailable",
			"no dependencies are initialised")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	var errs []jsonapi.ErrorObject
	for _, c := range h.checks {
		detail := ""
		switch {
		case c.Pinger == nil:
			detail = c.Name + " is not initialised"
		default:
			if err := c.Pinger.Ping(ctx); err != nil {
				detail = c.Name + " is unreachable: " + err.Error()
			}
		}
		if detail == "" {
			status[c.Name] = "ok"
			continue
		}
		status[c.Name] = "unavailable"
		errs = append(errs, jsonapi.ErrorObject{
			Status: http.StatusText(http.StatusServiceUnavailable),
			Code:   "dependency_unavailable",
			Title:  "Service Unavailable",
			Detail: detail,
			Source: &jsonapi.ErrorSource{Parameter: c.Name},
		})
	}
	if len(errs) > 0 {
		jsonapi.RenderErrors(w, http.StatusServiceUnavailable, errs)
		return
	}

	status["status"] = "ok"
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "ready",
		ID:         "1",
		Attributes: status,
	})
}
