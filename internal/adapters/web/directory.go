package web

import (
	"net/http"

	"factory-procurement/internal/core"
)

type activePayload struct {
	Active bool `json:"active"`
}

// listFactories handles GET /api/factories.
func (h *Handler) listFactories(w http.ResponseWriter, r *http.Request) {
	out, err := h.directory.ListFactories(r.Context(), actor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"factories": out})
}

// createFactory handles POST /api/factories.
func (h *Handler) createFactory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	f, err := h.directory.CreateFactory(r.Context(), actor(r), core.FactoryInput{Code: req.Code, Name: req.Name})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, f)
}

// setFactoryActive handles PUT /api/factories/{id}/active.
func (h *Handler) setFactoryActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req activePayload
	if !decodeJSON(w, r, &req) {
		return
	}
	f, err := h.directory.SetFactoryActive(r.Context(), actor(r), id, req.Active)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, f)
}

// createUser handles POST /api/users.
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string    `json:"username"`
		Email      string    `json:"email"`
		Role       core.Role `json:"role"`
		FactoryIDs []int     `json:"factory_ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.directory.CreateUser(r.Context(), actor(r), core.UserInput{
		Username:   req.Username,
		Email:      req.Email,
		Role:       req.Role,
		FactoryIDs: req.FactoryIDs,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, u)
}

// getUser handles GET /api/users/{id}.
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := h.directory.GetUser(r.Context(), actor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, u)
}

// setUserActive handles PUT /api/users/{id}/active.
func (h *Handler) setUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req activePayload
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.directory.SetUserActive(r.Context(), actor(r), id, req.Active)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, u)
}

// listVendors handles GET /api/vendors.
func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	out, err := h.directory.ListVendors(r.Context(), actor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"vendors": out})
}

// createVendor handles POST /api/vendors.
func (h *Handler) createVendor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code  string `json:"code"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := h.directory.CreateVendor(r.Context(), actor(r), core.VendorInput{
		Code: req.Code, Name: req.Name, Email: req.Email, Phone: req.Phone,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, v)
}

// listMaterials handles GET /api/materials.
func (h *Handler) listMaterials(w http.ResponseWriter, r *http.Request) {
	out, err := h.directory.ListMaterials(r.Context(), actor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"materials": out})
}

// createMaterial handles POST /api/materials.
func (h *Handler) createMaterial(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
		Unit string `json:"unit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.directory.CreateMaterial(r.Context(), actor(r), core.MaterialInput{Code: req.Code, Name: req.Name, Unit: req.Unit})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, m)
}
