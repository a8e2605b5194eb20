package web

import (
	"net/http"

	"factory-procurement/internal/core"

	"github.com/shopspring/decimal"
)

// getLineItem handles GET /api/line-items/{id}.
func (h *Handler) getLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	li, err := h.lineItems.GetLineItem(r.Context(), actor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, li)
}

// assignVendor handles POST /api/line-items/{id}/vendor.
func (h *Handler) assignVendor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		VendorID int             `json:"vendor_id"`
		Price    decimal.Decimal `json:"price"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.lineItems.AssignVendorAndPrice(r.Context(), actor(r), id, req.VendorID, req.Price)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// updateLineItemStatus handles POST /api/line-items/{id}/status.
func (h *Handler) updateLineItemStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status core.LineItemStatus `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.lineItems.UpdateLineItemStatus(r.Context(), actor(r), id, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// shortCloseLineItem handles POST /api/line-items/{id}/short-close.
func (h *Handler) shortCloseLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.lineItems.ShortCloseLineItem(r.Context(), actor(r), id, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// receiveLineItem handles POST /api/line-items/{id}/receive.
func (h *Handler) receiveLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		ActualQuantity decimal.Decimal `json:"actual_quantity"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.lineItems.ReceiveLineItem(r.Context(), actor(r), id, req.ActualQuantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// createReturn handles POST /api/line-items/{id}/returns.
func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantity decimal.Decimal `json:"quantity"`
		Reason   string          `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.lineItems.CreateReturnRequest(r.Context(), actor(r), id, req.Quantity, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// listReturns handles GET /api/returns.
func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	var filter core.ReturnFilter
	var err error
	if filter.FactoryIDs, err = queryInts(r, "factory_id"); err == nil {
		if filter.RequestID, err = queryInt(r, "request_id"); err == nil {
			filter.LineItemID, err = queryInt(r, "line_item_id")
		}
	}
	if err != nil {
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	filter.Status = core.ReturnStatus(r.URL.Query().Get("status"))

	out, err := h.lineItems.ListReturnRequests(r.Context(), actor(r), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"return_requests": out, "count": len(out)})
}

// getReturn handles GET /api/returns/{id}.
func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rr, err := h.lineItems.GetReturnRequest(r.Context(), actor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, rr)
}

// approveReturn handles POST /api/returns/{id}/approve.
func (h *Handler) approveReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.lineItems.ApproveReturnRequest(r.Context(), actor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
