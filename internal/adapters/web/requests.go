package web

import (
	"net/http"
	"time"

	"factory-procurement/internal/core"

	"github.com/shopspring/decimal"
)

type lineItemPayload struct {
	MaterialID int             `json:"material_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

func toLineItemInputs(in []lineItemPayload) []core.LineItemInput {
	out := make([]core.LineItemInput, len(in))
	for i, li := range in {
		out[i] = core.LineItemInput{MaterialID: li.MaterialID, Quantity: li.Quantity}
	}
	return out
}

// createRequest handles POST /api/requests.
func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FactoryID        int               `json:"factory_id"`
		Priority         core.Priority     `json:"priority"`
		RequiresApproval bool              `json:"requires_approval"`
		Notes            string            `json:"notes"`
		Items            []lineItemPayload `json:"items"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.requests.CreateRequest(r.Context(), actor(r), core.CreateRequestInput{
		FactoryID:        req.FactoryID,
		Priority:         req.Priority,
		RequiresApproval: req.RequiresApproval,
		Notes:            req.Notes,
		Items:            toLineItemInputs(req.Items),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// listRequests handles GET /api/requests.
func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	factoryIDs, err := queryInts(r, "factory_id")
	if err != nil {
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var filter core.RequestFilter
	filter.FactoryIDs = factoryIDs
	filter.Status = core.RequestStatus(r.URL.Query().Get("status"))
	for key, dst := range map[string]**int{"assigned_to": &filter.AssignedTo, "created_by": &filter.CreatedBy} {
		v, err := queryInt(r, key)
		if err != nil {
			writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		*dst = v
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v, err := queryInt(r, key)
		if err != nil {
			writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		if v != nil {
			*dst = *v
		}
	}

	reqs, err := h.requests.ListRequests(r.Context(), actor(r), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"requests": reqs, "count": len(reqs)})
}

// getRequest handles GET /api/requests/{id}.
func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := h.requests.GetRequest(r.Context(), actor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, req)
}

// updateRequest handles PATCH /api/requests/{id}. Only fields present in the
// body are applied.
func (h *Handler) updateRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		FactoryID        *int                `json:"factory_id"`
		Priority         *core.Priority      `json:"priority"`
		Notes            *string             `json:"notes"`
		RequiresApproval *bool               `json:"requires_approval"`
		AssignedTo       *int                `json:"assigned_to"`
		Status           *core.RequestStatus `json:"status"`
		Items            *[]lineItemPayload  `json:"items"`
		RequestNumber    *string             `json:"request_number"`
		ApprovedBy       *int                `json:"approved_by"`
		ApprovedAt       *time.Time          `json:"approved_at"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	input := core.UpdateRequestInput{
		FactoryID:        req.FactoryID,
		Priority:         req.Priority,
		Notes:            req.Notes,
		RequiresApproval: req.RequiresApproval,
		AssignedTo:       req.AssignedTo,
		Status:           req.Status,
		RequestNumber:    req.RequestNumber,
		ApprovedBy:       req.ApprovedBy,
		ApprovedAt:       req.ApprovedAt,
	}
	if req.Items != nil {
		items := toLineItemInputs(*req.Items)
		input.Items = &items
	}
	res, err := h.requests.UpdateRequest(r.Context(), actor(r), id, input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// deleteRequest handles DELETE /api/requests/{id}.
func (h *Handler) deleteRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.requests.DeleteRequest(r.Context(), actor(r), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateStatus handles POST /api/requests/{id}/status.
func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status core.RequestStatus `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.requests.UpdateStatus(r.Context(), actor(r), id, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// assignRequest handles POST /api/requests/{id}/assign.
func (h *Handler) assignRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID int `json:"user_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.requests.AssignToUser(r.Context(), actor(r), id, req.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// approveRequest handles POST /api/requests/{id}/approve.
func (h *Handler) approveRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.requests.ApproveRequest(r.Context(), actor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// setApprovalFlag handles PUT /api/requests/{id}/approval.
func (h *Handler) setApprovalFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Required bool `json:"required"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.requests.SetApprovalFlag(r.Context(), actor(r), id, req.Required)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
