package core_test

import (
	"testing"
	"time"

	"factory-procurement/internal/core"
)

var allRequestStatuses = []core.RequestStatus{
	core.RequestDraft, core.RequestSubmitted, core.RequestInProgress, core.RequestOrdered,
	core.RequestDispatched, core.RequestReceived, core.RequestClosed,
}

func TestRequestStatus_OnlyAdjacentTransitions(t *testing.T) {
	for i, from := range allRequestStatuses {
		for j, to := range allRequestStatuses {
			want := j == i+1
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}
	if _, ok := core.RequestClosed.Next(); ok {
		t.Error("CLOSED must have no successor")
	}
}

func TestTransitionEngine_Check(t *testing.T) {
	creator := core.Actor{UserID: 1, Role: core.RoleFactoryUser, FactoryIDs: []int{10}}
	colleague := core.Actor{UserID: 2, Role: core.RoleFactoryUser, FactoryIDs: []int{10}}
	outsider := core.Actor{UserID: 3, Role: core.RoleFactoryUser, FactoryIDs: []int{20}}
	buyer := core.Actor{UserID: 4, Role: core.RolePurchaseTeam}
	admin := core.Actor{UserID: 5, Role: core.RoleAdmin}

	withItems := func(status core.RequestStatus) *core.ProcurementRequest {
		return &core.ProcurementRequest{
			ID: 7, RequestNumber: "REQ-PN-2026-0007", FactoryID: 10, CreatedBy: 1, Status: status,
			Items: []core.LineItem{{ID: 70, Status: core.LineItemPending}},
		}
	}

	tests := []struct {
		name   string
		actor  core.Actor
		req    *core.ProcurementRequest
		target core.RequestStatus
		facts  core.TransitionFacts
		code   string
	}{
		{"creator submits", creator, withItems(core.RequestDraft), core.RequestSubmitted, core.TransitionFacts{}, ""},
		{"colleague cannot submit", colleague, withItems(core.RequestDraft), core.RequestSubmitted, core.TransitionFacts{}, core.CodeNotCreator},
		{"admin cannot submit", admin, withItems(core.RequestDraft), core.RequestSubmitted, core.TransitionFacts{}, core.CodeRoleNotPermitted},
		{"empty request cannot submit", creator, &core.ProcurementRequest{FactoryID: 10, CreatedBy: 1, Status: core.RequestDraft}, core.RequestSubmitted, core.TransitionFacts{}, core.CodeNoLineItems},
		{"buyer starts", buyer, withItems(core.RequestSubmitted), core.RequestInProgress, core.TransitionFacts{}, ""},
		{"factory cannot start", creator, withItems(core.RequestSubmitted), core.RequestInProgress, core.TransitionFacts{}, core.CodeRoleNotPermitted},
		{"buyer cannot receive", buyer, withItems(core.RequestDispatched), core.RequestReceived, core.TransitionFacts{}, core.CodeRoleNotPermitted},
		{"any scoped factory user receives", colleague, withItems(core.RequestDispatched), core.RequestReceived, core.TransitionFacts{}, ""},
		{"outsider cannot receive", outsider, withItems(core.RequestDispatched), core.RequestReceived, core.TransitionFacts{}, core.CodeFactoryAccessDenied},
		{"close with pending returns", admin, withItems(core.RequestReceived), core.RequestClosed, core.TransitionFacts{PendingReturns: 1}, core.CodePendingReturns},
		{"close", admin, withItems(core.RequestReceived), core.RequestClosed, core.TransitionFacts{}, ""},
		{"backwards", admin, withItems(core.RequestOrdered), core.RequestInProgress, core.TransitionFacts{}, core.CodeInvalidTransition},
		{"skip", buyer, withItems(core.RequestInProgress), core.RequestDispatched, core.TransitionFacts{}, core.CodeInvalidTransition},
	}

	var engine core.TransitionEngine
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Check(tt.actor, tt.req, tt.target, tt.facts)
			if tt.code == "" {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			wantCode(t, err, tt.code)
		})
	}
}

func TestTransitionEngine_ApplyCascadesPendingItems(t *testing.T) {
	req := &core.ProcurementRequest{
		Status: core.RequestSubmitted,
		Items: []core.LineItem{
			{ID: 1, Status: core.LineItemPending},
			{ID: 2, Status: core.LineItemShortClosed},
		},
	}
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	var engine core.TransitionEngine
	changed := engine.Apply(req, core.RequestInProgress, now)
	if len(changed) != 1 || changed[0].ID != 1 {
		t.Fatalf("Expected only item 1 to change, got %d", len(changed))
	}
	if req.Items[0].Status != core.LineItemInProgress || !req.Items[0].UpdatedAt.Equal(now) {
		t.Errorf("Item 1 not cascaded: %+v", req.Items[0])
	}
	if req.Items[1].Status != core.LineItemShortClosed {
		t.Errorf("Item 2 must keep SHORT_CLOSED, got %s", req.Items[1].Status)
	}
	if req.Status != core.RequestInProgress {
		t.Errorf("Expected IN_PROGRESS, got %s", req.Status)
	}
}

func TestDeriveRequestStatus(t *testing.T) {
	li := func(s ...core.LineItemStatus) []core.LineItemStatus { return s }

	tests := []struct {
		name    string
		current core.RequestStatus
		items   []core.LineItemStatus
		want    core.RequestStatus
	}{
		{"draft untouched", core.RequestDraft, li(core.LineItemReceived), core.RequestDraft},
		{"submitted untouched", core.RequestSubmitted, li(core.LineItemOrdered), core.RequestSubmitted},
		{"closed untouched", core.RequestClosed, li(core.LineItemPending), core.RequestClosed},
		{"no items keeps status", core.RequestOrdered, nil, core.RequestOrdered},
		{"all received", core.RequestDispatched, li(core.LineItemReceived, core.LineItemReceived), core.RequestReceived},
		{"received and short-closed", core.RequestOrdered, li(core.LineItemReceived, core.LineItemShortClosed), core.RequestReceived},
		{"all short-closed", core.RequestInProgress, li(core.LineItemShortClosed), core.RequestReceived},
		{"any dispatched", core.RequestOrdered, li(core.LineItemDispatched, core.LineItemPending), core.RequestDispatched},
		{"dispatched beats ordered", core.RequestInProgress, li(core.LineItemOrdered, core.LineItemDispatched), core.RequestDispatched},
		{"any ordered", core.RequestInProgress, li(core.LineItemOrdered, core.LineItemInProgress), core.RequestOrdered},
		{"nothing moved", core.RequestOrdered, li(core.LineItemInProgress, core.LineItemPending), core.RequestInProgress},
		{"received back to in progress", core.RequestReceived, li(core.LineItemReceived, core.LineItemPending), core.RequestInProgress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := core.DeriveRequestStatus(tt.current, tt.items)
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			if again := core.DeriveRequestStatus(got, tt.items); again != got {
				t.Errorf("not idempotent: %s then %s", got, again)
			}
		})
	}
}
