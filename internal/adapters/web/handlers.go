package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"factory-procurement/internal/core"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler holds the core services and the chi router.
type Handler struct {
	requests  core.RequestService
	lineItems core.LineItemService
	directory core.DirectoryService
	jwtSecret string
	log       *zap.Logger
}

// Deps are the collaborators of the HTTP adapter.
type Deps struct {
	Requests       core.RequestService
	LineItems      core.LineItemService
	Directory      core.DirectoryService
	JWTSecret      string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		requests:  d.Requests,
		lineItems: d.LineItems,
		directory: d.Directory,
		jwtSecret: d.JWTSecret,
		log:       log,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(d.AllowedOrigins))

	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB
		r.Use(h.RequireAuth)

		r.Get("/api/me", h.me)

		// ── Procurement requests ─────────────────────────────────────────────
		r.Get("/api/requests", h.listRequests)
		r.Post("/api/requests", h.createRequest)
		r.Get("/api/requests/{id}", h.getRequest)
		r.Patch("/api/requests/{id}", h.updateRequest)
		r.Delete("/api/requests/{id}", h.deleteRequest)
		r.Post("/api/requests/{id}/status", h.updateStatus)
		r.Post("/api/requests/{id}/assign", h.assignRequest)
		r.Post("/api/requests/{id}/approve", h.approveRequest)
		r.Put("/api/requests/{id}/approval", h.setApprovalFlag)

		// ── Line items and returns ───────────────────────────────────────────
		r.Get("/api/line-items/{id}", h.getLineItem)
		r.Post("/api/line-items/{id}/vendor", h.assignVendor)
		r.Post("/api/line-items/{id}/status", h.updateLineItemStatus)
		r.Post("/api/line-items/{id}/short-close", h.shortCloseLineItem)
		r.Post("/api/line-items/{id}/receive", h.receiveLineItem)
		r.Post("/api/line-items/{id}/returns", h.createReturn)
		r.Get("/api/returns", h.listReturns)
		r.Get("/api/returns/{id}", h.getReturn)
		r.Post("/api/returns/{id}/approve", h.approveReturn)

		// ── Directory ────────────────────────────────────────────────────────
		r.Get("/api/factories", h.listFactories)
		r.Post("/api/factories", h.createFactory)
		r.Put("/api/factories/{id}/active", h.setFactoryActive)
		r.Post("/api/users", h.createUser)
		r.Get("/api/users/{id}", h.getUser)
		r.Put("/api/users/{id}/active", h.setUserActive)
		r.Get("/api/vendors", h.listVendors)
		r.Post("/api/vendors", h.createVendor)
		r.Get("/api/materials", h.listMaterials)
		r.Post("/api/materials", h.createMaterial)
	})

	return r
}

// health reports liveness.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// actor returns the authenticated actor. RequireAuth guarantees presence.
func actor(r *http.Request) core.Actor {
	a, _ := actorFromContext(r.Context())
	return a
}

// pathID parses the {id} URL parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid id", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string) (*int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.New("invalid " + key)
	}
	return &v, nil
}

// queryInts parses a comma-separated list of integers.
func queryInts(r *http.Request, key string) ([]int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.New("invalid " + key)
		}
		out = append(out, v)
	}
	return out, nil
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
