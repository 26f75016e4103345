package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/d9705996/clientpulse/internal/api/jsonapi"
	"github.com/d9705996/clientpulse/internal/api/middleware"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/tenant"
)

// TenantHandler handles /api/v1/tenants/* routes.
type TenantHandler struct {
	dir *tenant.Directory
	log *slog.Logger
}

// NewTenantHandler creates a TenantHandler.
func NewTenantHandler(dir *tenant.Directory, log *slog.Logger) *TenantHandler {
	return &TenantHandler{dir: dir, log: log}
}

type feedBody struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Locator    string   `json:"locator"`
	SubSources []string `json:"sub_sources"`
}

func (b feedBody) spec() tenant.FeedSpec {
	return tenant.FeedSpec{
		Name:       b.Name,
		Kind:       model.FeedKind(strings.ToLower(strings.TrimSpace(b.Kind))),
		Locator:    b.Locator,
		SubSources: b.SubSources,
	}
}

type createTenantBody struct {
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	Kind         string     `json:"kind"`
	Categories   []string   `json:"categories"`
	LogoURL      string     `json:"logo_url"`
	PrimaryColor string     `json:"primary_color"`
	Feeds        []feedBody `json:"feeds"`
}

type patchTenantBody struct {
	Name         *string   `json:"name"`
	Slug         *string   `json:"slug"`
	Kind         *string   `json:"kind"`
	Categories   *[]string `json:"categories"`
	LogoURL      *string   `json:"logo_url"`
	PrimaryColor *string   `json:"primary_color"`
}

type patchFeedBody struct {
	Name       *string   `json:"name"`
	Locator    *string   `json:"locator"`
	SubSources *[]string `json:"sub_sources"`
}

type feedAttrs struct {
	Name         string     `json:"name"`
	Kind         string     `json:"kind"`
	Locator      string     `json:"locator"`
	SubSources   []string   `json:"sub_sources"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
}

type tenantAttrs struct {
	Name         string      `json:"name"`
	Slug         string      `json:"slug"`
	Kind         string      `json:"kind"`
	Categories   []string    `json:"categories"`
	LogoURL      string      `json:"logo_url,omitempty"`
	PrimaryColor string      `json:"primary_color,omitempty"`
	Feeds        []feedAttrs `json:"feeds"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func feedResource(f model.Feed) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{Type: "feeds", ID: f.ID, Attributes: toFeedAttrs(f)}
}

func toFeedAttrs(f model.Feed) feedAttrs {
	subs := []string(f.SubSources)
	if subs == nil {
		subs = []string{}
	}
	return feedAttrs{Name: f.Name, Kind: string(f.Kind), Locator: f.Locator, SubSources: subs, LastSyncedAt: f.LastSyncedAt}
}

func tenantResource(t model.Tenant) jsonapi.ResourceObject {
	feeds := make([]feedAttrs, 0, len(t.Feeds))
	for _, f := range t.Feeds {
		feeds = append(feeds, toFeedAttrs(f))
	}
	cats := []string(t.Categories)
	if cats == nil {
		cats = []string{}
	}
	return jsonapi.ResourceObject{
		Type: "tenants",
		ID:   t.ID,
		Attributes: tenantAttrs{
			Name:         t.Name,
			Slug:         t.Slug,
			Kind:         string(t.Kind),
			Categories:   cats,
			LogoURL:      t.LogoURL,
			PrimaryColor: t.PrimaryColor,
			Feeds:        feeds,
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
		},
		Links: &jsonapi.Links{Self: "/api/v1/tenants/" + t.ID},
	}
}

// List handles GET /api/v1/tenants.
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.dir.ListVisibleTo(r.Context(), middleware.PrincipalID(r.Context()))
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	data := make([]any, 0, len(tenants))
	for _, t := range tenants {
		data = append(data, tenantResource(t))
	}
	jsonapi.RenderList(w, http.StatusOK, data, &jsonapi.Pagination{Total: len(data)})
}

// Create handles POST /api/v1/tenants.
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createTenantBody
	if err := jsonapi.Decode(r, &body); err != nil {
		renderError(w, r, h.log, err)
		return
	}
	spec := tenant.Spec{
		Name:         body.Name,
		Slug:         body.Slug,
		Kind:         model.TenantKind(strings.ToLower(strings.TrimSpace(body.Kind))),
		Categories:   body.Categories,
		LogoURL:      body.LogoURL,
		PrimaryColor: body.PrimaryColor,
	}
	for _, f := range body.Feeds {
		spec.Feeds = append(spec.Feeds, f.spec())
	}
	t, err := h.dir.Create(r.Context(), middleware.PrincipalID(r.Context()), spec)
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, tenantResource(t))
}

// Get handles GET /api/v1/tenants/{id}.
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.dir.Get(r.Context(), middleware.PrincipalID(r.Context()), r.PathValue("id"))
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, tenantResource(t))
}

// Update handles PATCH /api/v1/tenants/{id}.
func (h *TenantHandler) Update(w http.ResponseWriter, r *http.Request) {
	var body patchTenantBody
	if err := jsonapi.Decode(r, &body); err != nil {
		renderError(w, r, h.log, err)
		return
	}
	p := tenant.Patch{
		Name:         body.Name,
		Slug:         body.Slug,
		Categories:   body.Categories,
		LogoURL:      body.LogoURL,
		PrimaryColor: body.PrimaryColor,
	}
	if body.Kind != nil {
		k := model.TenantKind(strings.ToLower(strings.TrimSpace(*body.Kind)))
		p.Kind = &k
	}
	t, err := h.dir.Update(r.Context(), middleware.PrincipalID(r.Context()), r.PathValue("id"), p)
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, tenantResource(t))
}

// Delete handles DELETE /api/v1/tenants/{id}.
func (h *TenantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.dir.Delete(r.Context(), middleware.PrincipalID(r.Context()), r.PathValue("id")); err != nil {
		renderError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddFeed handles POST /api/v1/tenants/{id}/feeds.
func (h *TenantHandler) AddFeed(w http.ResponseWriter, r *http.Request) {
	var body feedBody
	if err := jsonapi.Decode(r, &body); err != nil {
		renderError(w, r, h.log, err)
		return
	}
	f, err := h.dir.AddFeed(r.Context(), middleware.PrincipalID(r.Context()), r.PathValue("id"), body.spec())
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, feedResource(f))
}

// UpdateFeed handles PATCH /api/v1/tenants/{id}/feeds/{feedID}.
func (h *TenantHandler) UpdateFeed(w http.ResponseWriter, r *http.Request) {
	var body patchFeedBody
	if err := jsonapi.Decode(r, &body); err != nil {
		renderError(w, r, h.log, err)
		return
	}
	f, err := h.dir.UpdateFeed(r.Context(), middleware.PrincipalID(r.Context()), r.PathValue("id"), r.PathValue("feedID"),
		tenant.FeedPatch{Name: body.Name, Locator: body.Locator, SubSources: body.SubSources})
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, feedResource(f))
}

// RemoveFeed handles DELETE /api/v1/tenants/{id}/feeds/{feedID}.
func (h *TenantHandler) RemoveFeed(w http.ResponseWriter, r *http.Request) {
	if err := h.dir.RemoveFeed(r.Context(), middleware.PrincipalID(r.Context()), r.PathValue("id"), r.PathValue("feedID")); err != nil {
		renderError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
