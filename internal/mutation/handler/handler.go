package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pmhub/internal/mutation/service"
	"pmhub/internal/permission"
	platformmetrics "pmhub/internal/platform/metrics"
	"pmhub/internal/records/models"
	dErrors "pmhub/pkg/domain-errors"
	audit "pmhub/pkg/platform/audit"
	"pmhub/pkg/platform/httputil"
	"pmhub/pkg/platform/middleware/admin"
	authmw "pmhub/pkg/platform/middleware/auth"
	"pmhub/pkg/platform/middleware/metadata"
	request "pmhub/pkg/platform/middleware/request"
	"pmhub/pkg/platform/middleware/requesttime"
	"pmhub/pkg/requestcontext"
)

// Service defines the orchestrator operations exposed over HTTP.
type Service interface {
	Create(ctx context.Context, entityType models.EntityType, fields map[string]any, actor permission.Actor) (*models.Record, error)
	Update(ctx context.Context, entityType models.EntityType, id string, changes map[string]any, actor permission.Actor, expected *models.Version) (*models.Record, error)
	Delete(ctx context.Context, entityType models.EntityType, id string, actor permission.Actor, expected *models.Version) error
	Get(ctx context.Context, entityType models.EntityType, id string, actor permission.Actor, includeDeleted bool) (*models.Record, error)
	List(ctx context.Context, entityType models.EntityType, actor permission.Actor, opts models.ListOptions) ([]*models.Record, error)
	GetHistory(ctx context.Context, entityType models.EntityType, id string, actor permission.Actor) ([]audit.Entry, error)
	Transition(ctx context.Context, req service.TransitionRequest) (*models.Record, error)
	BulkTransition(ctx context.Context, req service.BulkTransitionRequest) (*service.BulkResult, error)
	Place(ctx context.Context, req service.PlaceRequest) (*service.PlaceResult, error)
}

// Handler wires the /v1 record endpoints to the mutation orchestrator.
type Handler struct {
	service      Service
	logger       *slog.Logger
	metrics      *platformmetrics.Metrics
	jwtValidator authmw.JWTValidator
	policy       *permission.Policy
	timeout      time.Duration
}

// Option configures the Handler.
type Option func(*Handler)

// WithTimeout bounds each request. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithPolicy exposes the effective policy at GET /v1/admin/policy.
func WithPolicy(p *permission.Policy) Option {
	return func(h *Handler) { h.policy = p }
}

// New constructs a handler. metrics may be nil.
func New(svc Service, logger *slog.Logger, metrics *platformmetrics.Metrics, jwtValidator authmw.JWTValidator, opts ...Option) *Handler {
	h := &Handler{
		service:      svc,
		logger:       logger,
		metrics:      metrics,
		jwtValidator: jwtValidator,
		timeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the /v1 routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(request.Recovery(h.logger))
		v1.Use(request.RequestID)
		v1.Use(metadata.ClientMetadata)
		v1.Use(requesttime.Middleware)
		v1.Use(request.Logger(h.logger))
		v1.Use(request.Timeout(h.timeout))
		v1.Use(request.ContentTypeJSON)
		v1.Use(request.Latency(h.latencyObserver()))
		v1.Use(authmw.RequireAuth(h.jwtValidator, h.logger, h.failureCounter()))

		if h.policy != nil {
			v1.With(admin.RequireAdmin(h.logger)).Get("/admin/policy", h.handleGetPolicy)
		}

		v1.Route("/{entity}", func(er chi.Router) {
			er.Post("/", h.handleCreate)
			er.Get("/", h.handleList)
			er.Post("/bulk/transitions", h.handleBulkTransition)
			er.Get("/{id}", h.handleGet)
			er.Patch("/{id}", h.handleUpdate)
			er.Delete("/{id}", h.handleDelete)
			er.Post("/{id}/transitions", h.handleTransition)
			er.Post("/{id}/place", h.handlePlace)
			er.Get("/{id}/history", h.handleHistory)
		})
	})
}

// A nil *Metrics must not become a non-nil interface.
func (h *Handler) latencyObserver() request.LatencyObserver {
	if h.metrics == nil {
		return nil
	}
	return h.metrics
}

func (h *Handler) failureCounter() authmw.FailureCounter {
	if h.metrics == nil {
		return nil
	}
	return h.metrics
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	et, actor, ok := h.resolve(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[FieldsRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	rec, err := h.service.Create(ctx, et, req.Fields, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/"+string(et)+"/"+rec.ID)
	writeRecord(w, http.StatusCreated, rec)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	et, actor, ok := h.resolve(w, r)
	if !ok {
		return
	}
	includeDeleted, err := boolQuery(r, "include_deleted")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	recs, err := h.service.List(r.Context(), et, actor, models.ListOptions{IncludeDeleted: includeDeleted})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Records: nonNil(recs), Count: len(recs)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	et, actor, ok := h.resolve(w, r)
	if !ok {
		return
	}
	includeDeleted, err := boolQuery(r, "include_deleted")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Get(r.Context(), et, chi.URLParam(r, "id"), actor, includeDeleted)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeRecord(w, http.StatusOK, rec)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	et, actor, ok := h.resolve(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[FieldsRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Update(ctx, et, chi.URLParam(r, "id"), req.Fields, actor, expected)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeRecord(w, http.StatusOK, rec)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	et, actor, ok := h.resolve(w, r)
	if !ok {
		return
	}
	expected, err := expectedVersion(r, nil)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), et, chi.URLParam(r, "id"), actor, expected); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	et, actor, ok := h.resolve(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[TransitionRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Transition(ctx, service.TransitionRequest{
		EntityType:      et,
		ID:              chi.URLParam(r, "id"),
		ToStatus:        req.ToStatus,
		Actor:           actor,
		ExpectedVersion: expected,
		Fields:          req.Fields,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeRecord(w, http.StatusOK, rec)
}

func (h *Handler) handleBulkTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	et, actor, ok := h.resolve(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[BulkTransitionRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.BulkTransition(ctx, service.BulkTransitionRequest{
		EntityType: et,
		IDs:        req.IDs,
		ToStatus:   req.ToStatus,
		Actor:      actor,
		Fields:     req.Fields,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if res.Failed > 0 {
		h.logger.InfoContext(ctx, "bulk transition partially applied",
			"request_id", request.GetRequestID(ctx),
			"entity_type", string(et),
			"succeeded", res.Succeeded,
			"failed", res.Failed,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, FromBulkResult(res))
}

func (h *Handler) handlePlace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	et, actor, ok := h.resolve(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[PlaceRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Place(ctx, service.PlaceRequest{
		EntityType:      et,
		ID:              chi.URLParam(r, "id"),
		BeforeID:        req.BeforeID,
		AfterID:         req.AfterID,
		Actor:           actor,
		ExpectedVersion: expected,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("ETag", etag(res.Record.Version))
	httputil.WriteJSON(w, http.StatusOK, PlaceResponse{Record: res.Record, Renumbered: res.Renumbered})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	et, actor, ok := h.resolve(w, r)
	if !ok {
		return
	}
	entries, err := h.service.GetHistory(r.Context(), et, chi.URLParam(r, "id"), actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Count: len(entries)})
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	body, err := h.policy.YAML()
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "render policy"))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// resolve parses the entity path segment and the authenticated principal.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (models.EntityType, permission.Actor, bool) {
	ctx := r.Context()
	actor, err := actorFrom(ctx)
	if err != nil {
		// RequireAuth rejects unknown roles before this point.
		h.logger.ErrorContext(ctx, "principal missing from context despite auth middleware",
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return "", permission.Actor{}, false
	}
	raw := chi.URLParam(r, "entity")
	et, ok := models.ParseEntityType(raw)
	if !ok {
		httputil.WriteError(w, dErrors.Validation("entity_type", "unknown entity type '"+raw+"'"))
		return "", permission.Actor{}, false
	}
	return et, actor, true
}

func actorFrom(ctx context.Context) (permission.Actor, error) {
	id := requestcontext.Actor(ctx)
	role, err := permission.ParseRole(requestcontext.Role(ctx))
	if id == "" || err != nil {
		return permission.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return permission.Actor{ID: id, Role: role}, nil
}

// expectedVersion reads If-Match and an optional body token; when both are
// present they must agree.
func expectedVersion(r *http.Request, body *int64) (*models.Version, error) {
	header, err := models.ParseVersion(strings.TrimPrefix(r.Header.Get("If-Match"), "W/"))
	if err != nil {
		return nil, dErrors.Validation("If-Match", err.Error())
	}
	if body == nil {
		return header, nil
	}
	if *body < 1 {
		return nil, dErrors.Validation("expected_version", "must be a positive integer")
	}
	v := models.Version(*body)
	if header != nil && *header != v {
		return nil, dErrors.Validation("expected_version", "does not match If-Match")
	}
	return &v, nil
}

func boolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dErrors.Validation(name, "must be true or false")
	}
	return v, nil
}

func etag(v models.Version) string {
	return `"` + v.String() + `"`
}

func writeRecord(w http.ResponseWriter, status int, rec *models.Record) {
	w.Header().Set("ETag", etag(rec.Version))
	httputil.WriteJSON(w, status, rec)
}

func nonNil(recs []*models.Record) []*models.Record {
	if recs == nil {
		return []*models.Record{}
	}
	return recs
}
