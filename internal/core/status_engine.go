package core

import (
	"slices"
	"time"
)

// requestFlow is the only legal order of request statuses. Transitions move
// exactly one step forward.
var requestFlow = []RequestStatus{
	RequestDraft,
	RequestSubmitted,
	RequestInProgress,
	RequestOrdered,
	RequestDispatched,
	RequestReceived,
	RequestClosed,
}

// IsValid reports whether s is a known request status.
func (s RequestStatus) IsValid() bool {
	return slices.Contains(requestFlow, s)
}

// Next returns the status that directly follows s.
func (s RequestStatus) Next() (RequestStatus, bool) {
	i := slices.Index(requestFlow, s)
	if i < 0 || i == len(requestFlow)-1 {
		return "", false
	}
	return requestFlow[i+1], true
}

// CanTransitionTo reports whether target is the adjacent successor of s.
func (s RequestStatus) CanTransitionTo(target RequestStatus) bool {
	next, ok := s.Next()
	return ok && next == target
}

// transitionGate lists who may move a request into a target status and the
// extra preconditions that apply.
type transitionGate struct {
	roles            []Role
	creatorOnly      bool
	factoryScoped    bool
	requireItems     bool
	noPendingReturns bool
}

var purchaseRoles = []Role{RolePurchaseTeam, RoleManagement, RoleAdmin}

var transitionGates = map[RequestStatus]transitionGate{
	RequestSubmitted:  {roles: []Role{RoleFactoryUser}, creatorOnly: true, factoryScoped: true, requireItems: true},
	RequestInProgress: {roles: purchaseRoles},
	RequestOrdered:    {roles: purchaseRoles},
	RequestDispatched: {roles: purchaseRoles},
	RequestReceived:   {roles: []Role{RoleFactoryUser}, factoryScoped: true},
	RequestClosed:     {roles: purchaseRoles, noPendingReturns: true},
}

// TransitionFacts carries the stored facts a transition check depends on.
type TransitionFacts struct {
	PendingReturns int
}

// TransitionEngine validates and applies explicit request status transitions.
type TransitionEngine struct {
	policy AccessPolicy
}

// Check returns nil when actor may move req to target.
func (e TransitionEngine) Check(actor Actor, req *ProcurementRequest, target RequestStatus, facts TransitionFacts) error {
	if !req.Status.CanTransitionTo(target) {
		return validationf(CodeInvalidTransition, "request %s cannot move from %s to %s", req.RequestNumber, req.Status, target)
	}
	gate := transitionGates[target]
	if !slices.Contains(gate.roles, actor.Role) {
		return forbiddenf(CodeRoleNotPermitted, "role %s cannot move a request to %s", actor.Role, target)
	}
	if gate.creatorOnly && actor.UserID != req.CreatedBy {
		return forbiddenf(CodeNotCreator, "only the creator of request %s can move it to %s", req.RequestNumber, target)
	}
	if gate.factoryScoped {
		if err := e.policy.RequireFactory(actor, req.FactoryID); err != nil {
			return err
		}
	}
	if gate.requireItems && len(req.Items) == 0 {
		return validationf(CodeNoLineItems, "request %s has no line items", req.RequestNumber)
	}
	if gate.noPendingReturns && facts.PendingReturns > 0 {
		return validationf(CodePendingReturns, "request %s has %d pending return request(s)", req.RequestNumber, facts.PendingReturns)
	}
	return nil
}

// Apply sets the status and cascades the IN_PROGRESS start to PENDING items.
// It returns the items it changed.
func (TransitionEngine) Apply(req *ProcurementRequest, target RequestStatus, now time.Time) []*LineItem {
	req.Status = target
	req.UpdatedAt = now
	var changed []*LineItem
	if target == RequestInProgress {
		for i := range req.Items {
			if req.Items[i].Status == LineItemPending {
				req.Items[i].Status = LineItemInProgress
				req.Items[i].UpdatedAt = now
				changed = append(changed, &req.Items[i])
			}
		}
	}
	return changed
}

// DeriveRequestStatus computes the request status implied by its line items.
// DRAFT, SUBMITTED and CLOSED are never overridden, and a request without
// items keeps its status. The result depends only on the multiset of item
// statuses, so recomputing is idempotent.
func DeriveRequestStatus(current RequestStatus, items []LineItemStatus) RequestStatus {
	switch current {
	case RequestDraft, RequestSubmitted, RequestClosed:
		return current
	}
	if len(items) == 0 {
		return current
	}
	allDone := true
	anyDispatched, anyOrdered := false, false
	for _, s := range items {
		switch s {
		case LineItemReceived, LineItemShortClosed:
		default:
			allDone = false
		}
		if s == LineItemDispatched {
			anyDispatched = true
		}
		if s == LineItemOrdered {
			anyOrdered = true
		}
	}
	switch {
	case allDone:
		return RequestReceived
	case anyDispatched:
		return RequestDispatched
	case anyOrdered:
		return RequestOrdered
	default:
		return RequestInProgress
	}
}

// itemStatuses lists the statuses of req's items in order.
func itemStatuses(req *ProcurementRequest) []LineItemStatus {
	out := make([]LineItemStatus, len(req.Items))
	for i := range req.Items {
		out[i] = req.Items[i].Status
	}
	return out
}

// deriveShortClose reports whether every item is short-closed and, if so, the
// reason of the last one.
func deriveShortClose(req *ProcurementRequest) (bool, *string) {
	if len(req.Items) == 0 {
		return false, nil
	}
	var reason *string
	for i := range req.Items {
		if req.Items[i].Status != LineItemShortClosed {
			return false, nil
		}
		reason = req.Items[i].ShortCloseReason
	}
	return true, reason
}
