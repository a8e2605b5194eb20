package core

import "slices"

// Sanitizer projects outbound data for an actor. It never mutates its input;
// every returned value is a deep copy safe to hand to the caller.
type Sanitizer struct {
	policy AccessPolicy
}

// Request returns a copy of r fit for actor.
func (s Sanitizer) Request(actor Actor, r *ProcurementRequest) *ProcurementRequest {
	if r == nil {
		return nil
	}
	out := cloneRequest(r)
	if !s.policy.CanSeeVendorData(actor) {
		for i := range out.Items {
			stripVendor(&out.Items[i])
		}
	}
	return out
}

// Requests sanitizes a slice of requests.
func (s Sanitizer) Requests(actor Actor, rs []ProcurementRequest) []ProcurementRequest {
	out := make([]ProcurementRequest, len(rs))
	for i := range rs {
		out[i] = *s.Request(actor, &rs[i])
	}
	return out
}

// LineItem returns a copy of li fit for actor.
func (s Sanitizer) LineItem(actor Actor, li *LineItem) *LineItem {
	if li == nil {
		return nil
	}
	out := cloneLineItem(li)
	if !s.policy.CanSeeVendorData(actor) {
		stripVendor(out)
	}
	return out
}

// Return returns a copy of rr, including its nested line item, fit for actor.
func (s Sanitizer) Return(actor Actor, rr *ReturnRequest) *ReturnRequest {
	if rr == nil {
		return nil
	}
	out := *rr
	out.ApprovedBy = clonePtr(rr.ApprovedBy)
	out.ApprovedAt = clonePtr(rr.ApprovedAt)
	out.LineItem = s.LineItem(actor, rr.LineItem)
	return &out
}

// Returns sanitizes a slice of return requests.
func (s Sanitizer) Returns(actor Actor, rrs []ReturnRequest) []ReturnRequest {
	out := make([]ReturnRequest, len(rrs))
	for i := range rrs {
		out[i] = *s.Return(actor, &rrs[i])
	}
	return out
}

func stripVendor(li *LineItem) {
	li.AssignedVendor = nil
	li.AssignedPrice = nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneLineItem(li *LineItem) *LineItem {
	out := *li
	out.AssignedVendor = clonePtr(li.AssignedVendor)
	out.AssignedPrice = clonePtr(li.AssignedPrice)
	out.ActualQuantity = clonePtr(li.ActualQuantity)
	out.ShortCloseReason = clonePtr(li.ShortCloseReason)
	out.ReceivedBy = clonePtr(li.ReceivedBy)
	out.ReceivedAt = clonePtr(li.ReceivedAt)
	return &out
}

func cloneRequest(r *ProcurementRequest) *ProcurementRequest {
	out := *r
	out.AssignedTo = clonePtr(r.AssignedTo)
	out.ApprovedBy = clonePtr(r.ApprovedBy)
	out.ApprovedAt = clonePtr(r.ApprovedAt)
	out.ShortCloseReason = clonePtr(r.ShortCloseReason)
	out.Notes = clonePtr(r.Notes)
	out.DeletedAt = clonePtr(r.DeletedAt)
	out.Items = slices.Clone(r.Items)
	for i := range out.Items {
		out.Items[i] = *cloneLineItem(&r.Items[i])
	}
	return &out
}

// CloneRequest returns a deep copy of r. Store implementations use it to keep
// stored state isolated from callers.
func CloneRequest(r *ProcurementRequest) *ProcurementRequest { return cloneRequest(r) }

// CloneLineItem returns a deep copy of li.
func CloneLineItem(li *LineItem) *LineItem { return cloneLineItem(li) }
