package core_test

import (
	"testing"
	"time"

	"factory-procurement/internal/core"

	"github.com/shopspring/decimal"
)

func TestRequestService_FullLifecycle(t *testing.T) {
	f := newFixture(t)

	// 1. Create: DRAFT with a generated number and PENDING items
	req := f.draft(t, false)
	if req.Status != core.RequestDraft {
		t.Fatalf("Expected DRAFT, got %s", req.Status)
	}
	if req.RequestNumber != "REQ-PN-2026-0001" {
		t.Errorf("Expected REQ-PN-2026-0001, got %s", req.RequestNumber)
	}
	if req.Priority != core.PriorityMedium {
		t.Errorf("Expected default priority MEDIUM, got %s", req.Priority)
	}
	if len(req.Items) != 1 || req.Items[0].Status != core.LineItemPending || req.Items[0].LineNumber != 1 {
		t.Fatalf("Unexpected items: %+v", req.Items)
	}
	itemID := req.Items[0].ID

	// 2. Submit by the creator
	res, err := f.requests.UpdateStatus(f.ctx, f.fuA, req.ID, core.RequestSubmitted)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if res.Request.Status != core.RequestSubmitted {
		t.Fatalf("Expected SUBMITTED, got %s", res.Request.Status)
	}

	// 3. Assignment starts work and cascades PENDING items
	res, err = f.requests.AssignToUser(f.ctx, f.buyer, req.ID, f.buyerUser.ID)
	if err != nil {
		t.Fatalf("AssignToUser failed: %v", err)
	}
	if res.Request.Status != core.RequestInProgress {
		t.Errorf("Expected IN_PROGRESS after assignment, got %s", res.Request.Status)
	}
	if res.Request.AssignedTo == nil || *res.Request.AssignedTo != f.buyerUser.ID {
		t.Errorf("Expected assignee %d, got %v", f.buyerUser.ID, res.Request.AssignedTo)
	}
	if res.Request.Items[0].Status != core.LineItemInProgress {
		t.Errorf("Expected item IN_PROGRESS, got %s", res.Request.Items[0].Status)
	}

	// 4. Vendor assignment orders the item and the request follows
	price := decimal.RequireFromString("125.50")
	liRes, err := f.lineItems.AssignVendorAndPrice(f.ctx, f.buyer, itemID, f.vendor.ID, price)
	if err != nil {
		t.Fatalf("AssignVendorAndPrice failed: %v", err)
	}
	if liRes.LineItem.Status != core.LineItemOrdered {
		t.Errorf("Expected item ORDERED, got %s", liRes.LineItem.Status)
	}
	if liRes.LineItem.AssignedVendor == nil || liRes.LineItem.AssignedVendor.ID != f.vendor.ID {
		t.Errorf("Expected vendor %d, got %+v", f.vendor.ID, liRes.LineItem.AssignedVendor)
	}
	if liRes.LineItem.AssignedPrice == nil || !liRes.LineItem.AssignedPrice.Equal(price) {
		t.Errorf("Expected price %s, got %v", price, liRes.LineItem.AssignedPrice)
	}
	if liRes.Request.Status != core.RequestOrdered {
		t.Errorf("Expected request ORDERED, got %s", liRes.Request.Status)
	}

	// 5. Dispatch
	liRes, err = f.lineItems.UpdateLineItemStatus(f.ctx, f.buyer, itemID, core.LineItemDispatched)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if liRes.Request.Status != core.RequestDispatched {
		t.Errorf("Expected request DISPATCHED, got %s", liRes.Request.Status)
	}

	// 6. Receive 8 of 10 at the factory
	liRes, err = f.lineItems.ReceiveLineItem(f.ctx, f.fuA, itemID, qty(8))
	if err != nil {
		t.Fatalf("ReceiveLineItem failed: %v", err)
	}
	if liRes.LineItem.Status != core.LineItemReceived {
		t.Errorf("Expected item RECEIVED, got %s", liRes.LineItem.Status)
	}
	if liRes.LineItem.ActualQuantity == nil || !liRes.LineItem.ActualQuantity.Equal(qty(8)) {
		t.Errorf("Expected actual quantity 8, got %v", liRes.LineItem.ActualQuantity)
	}
	if liRes.LineItem.ReceivedBy == nil || *liRes.LineItem.ReceivedBy != f.fuA.UserID {
		t.Errorf("Expected receivedBy %d, got %v", f.fuA.UserID, liRes.LineItem.ReceivedBy)
	}
	if liRes.LineItem.AssignedVendor != nil || liRes.LineItem.AssignedPrice != nil {
		t.Error("Factory user must not see vendor or price")
	}
	if liRes.Request.Status != core.RequestReceived {
		t.Errorf("Expected request RECEIVED, got %s", liRes.Request.Status)
	}

	// 7. Close
	res, err = f.requests.UpdateStatus(f.ctx, f.buyer, req.ID, core.RequestClosed)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if res.Request.Status != core.RequestClosed {
		t.Fatalf("Expected CLOSED, got %s", res.Request.Status)
	}

	// CLOSED is terminal
	_, err = f.requests.UpdateRequest(f.ctx, f.buyer, req.ID, core.UpdateRequestInput{Notes: ptr("late note")})
	wantCode(t, err, core.CodeRequestClosed)
	_, err = f.lineItems.ShortCloseLineItem(f.ctx, f.buyer, itemID, "too late")
	wantCode(t, err, core.CodeInvalidRequestStatus)

	// PRICE + VENDOR_MATERIAL on assignment, PURCHASE on receipt
	if got := len(f.store.History()); got != 3 {
		t.Errorf("Expected 3 history records, got %d", got)
	}
}

func TestRequestService_CreateRequest_Validation(t *testing.T) {
	f := newFixture(t)
	item := []core.LineItemInput{{MaterialID: f.material.ID, Quantity: qty(1)}}

	tests := []struct {
		name  string
		actor core.Actor
		input core.CreateRequestInput
		code  string
	}{
		{"purchase team cannot create", f.buyer, core.CreateRequestInput{FactoryID: f.factoryA.ID, Items: item}, core.CodeRoleNotPermitted},
		{"other factory", f.fuB, core.CreateRequestInput{FactoryID: f.factoryA.ID, Items: item}, core.CodeFactoryAccessDenied},
		{"no items", f.fuA, core.CreateRequestInput{FactoryID: f.factoryA.ID}, core.CodeNoLineItems},
		{"bad priority", f.fuA, core.CreateRequestInput{FactoryID: f.factoryA.ID, Priority: "SOON", Items: item}, core.CodeInvalidInput},
		{"zero quantity", f.fuA, core.CreateRequestInput{FactoryID: f.factoryA.ID, Items: []core.LineItemInput{{MaterialID: f.material.ID}}}, core.CodeInvalidQuantity},
		{"unknown material", f.fuA, core.CreateRequestInput{FactoryID: f.factoryA.ID, Items: []core.LineItemInput{{MaterialID: 9999, Quantity: qty(1)}}}, core.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.requests.CreateRequest(f.ctx, tt.actor, tt.input)
			wantCode(t, err, tt.code)
		})
	}

	if _, err := f.directory.SetFactoryActive(f.ctx, f.admin, f.factoryA.ID, false); err != nil {
		t.Fatalf("SetFactoryActive failed: %v", err)
	}
	_, err := f.requests.CreateRequest(f.ctx, f.fuA, core.CreateRequestInput{FactoryID: f.factoryA.ID, Items: item})
	wantCode(t, err, core.CodeInactiveFactory)
}

func TestRequestService_RequestNumbersArePerFactory(t *testing.T) {
	f := newFixture(t)
	first := f.draft(t, false)
	second := f.draft(t, false)
	if first.RequestNumber != "REQ-PN-2026-0001" || second.RequestNumber != "REQ-PN-2026-0002" {
		t.Errorf("Unexpected sequence: %s, %s", first.RequestNumber, second.RequestNumber)
	}

	res, err := f.requests.CreateRequest(f.ctx, f.fuB, core.CreateRequestInput{
		FactoryID: f.factoryB.ID,
		Items:     []core.LineItemInput{{MaterialID: f.material.ID, Quantity: qty(1)}},
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if res.Request.RequestNumber != "REQ-CH-2026-0001" {
		t.Errorf("Expected REQ-CH-2026-0001, got %s", res.Request.RequestNumber)
	}
}

func TestRequestService_UpdateRequest_EditMatrix(t *testing.T) {
	f := newFixture(t)
	req := f.draft(t, false)

	// Creator edits a DRAFT
	res, err := f.requests.UpdateRequest(f.ctx, f.fuA, req.ID, core.UpdateRequestInput{
		Priority: ptr(core.PriorityUrgent),
		Notes:    ptr("  for line 3  "),
		Items:    &[]core.LineItemInput{{MaterialID: f.material.ID, Quantity: qty(4)}, {MaterialID: f.material.ID, Quantity: qty(6)}},
	})
	if err != nil {
		t.Fatalf("UpdateRequest failed: %v", err)
	}
	if res.Request.Priority != core.PriorityUrgent {
		t.Errorf("Expected URGENT, got %s", res.Request.Priority)
	}
	if res.Request.Notes == nil || *res.Request.Notes != "for line 3" {
		t.Errorf("Expected trimmed notes, got %v", res.Request.Notes)
	}
	if len(res.Request.Items) != 2 || res.Request.Items[1].LineNumber != 2 {
		t.Fatalf("Expected 2 replaced items, got %+v", res.Request.Items)
	}

	// Another factory user of the same factory is not the creator
	_, err = f.requests.UpdateRequest(f.ctx, f.fuA2, req.ID, core.UpdateRequestInput{Notes: ptr("x")})
	wantCode(t, err, core.CodeNotCreator)

	// Status and assignee are not editable in DRAFT
	_, err = f.requests.UpdateRequest(f.ctx, f.fuA, req.ID, core.UpdateRequestInput{Status: ptr(core.RequestSubmitted)})
	wantCode(t, err, core.CodeFieldNotEditable)
	_, err = f.requests.UpdateRequest(f.ctx, f.fuA, req.ID, core.UpdateRequestInput{RequestNumber: ptr("REQ-X")})
	wantCode(t, err, core.CodeFieldNotEditable)

	_, err = f.requests.UpdateRequest(f.ctx, f.fuA, req.ID, core.UpdateRequestInput{})
	wantCode(t, err, core.CodeInvalidInput)

	// Moving to a factory outside the creator's scope
	_, err = f.requests.UpdateRequest(f.ctx, f.fuA, req.ID, core.UpdateRequestInput{FactoryID: &f.factoryB.ID})
	wantCode(t, err, core.CodeFactoryAccessDenied)

	// IN_PROGRESS: purchase team may only touch assignee, approval flag and status
	started := f.inProgress(t)
	_, err = f.requests.UpdateRequest(f.ctx, f.buyer, started.ID, core.UpdateRequestInput{Priority: ptr(core.PriorityLow)})
	wantCode(t, err, core.CodeFieldNotEditable)
	_, err = f.requests.UpdateRequest(f.ctx, f.fuA, started.ID, core.UpdateRequestInput{AssignedTo: &f.buyerUser.ID})
	wantCode(t, err, core.CodeRoleNotPermitted)

	// A status jump is rejected by the transition engine
	_, err = f.requests.UpdateRequest(f.ctx, f.buyer, started.ID, core.UpdateRequestInput{Status: ptr(core.RequestDispatched)})
	wantCode(t, err, core.CodeInvalidTransition)
}

func TestRequestService_UpdateStatus_Gates(t *testing.T) {
	f := newFixture(t)
	req := f.draft(t, false)

	// Only the creator submits
	_, err := f.requests.UpdateStatus(f.ctx, f.fuA2, req.ID, core.RequestSubmitted)
	wantCode(t, err, core.CodeNotCreator)
	_, err = f.requests.UpdateStatus(f.ctx, f.buyer, req.ID, core.RequestSubmitted)
	wantCode(t, err, core.CodeRoleNotPermitted)

	// Skipping a step is never allowed
	_, err = f.requests.UpdateStatus(f.ctx, f.fuA, req.ID, core.RequestInProgress)
	wantCode(t, err, core.CodeInvalidTransition)
	_, err = f.requests.UpdateStatus(f.ctx, f.fuA, req.ID, "ARCHIVED")
	wantCode(t, err, core.CodeInvalidTransition)

	// Outside the factory the request is invisible for mutation
	_, err = f.requests.UpdateStatus(f.ctx, f.fuB, req.ID, core.RequestSubmitted)
	wantKind(t, err, core.ErrForbidden)

	if _, err := f.requests.UpdateStatus(f.ctx, f.fuA, req.ID, core.RequestSubmitted); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	res, err := f.requests.UpdateStatus(f.ctx, f.mgmt, req.ID, core.RequestInProgress)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if res.Request.Items[0].Status != core.LineItemInProgress {
		t.Errorf("Expected cascade to IN_PROGRESS, got %s", res.Request.Items[0].Status)
	}
}

func TestRequestService_AssignToUser_RejectsBadAssignee(t *testing.T) {
	f := newFixture(t)
	req := f.draft(t, false)
	if _, err := f.requests.UpdateStatus(f.ctx, f.fuA, req.ID, core.RequestSubmitted); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	_, err := f.requests.AssignToUser(f.ctx, f.buyer, req.ID, f.mgmt.UserID)
	wantCode(t, err, core.CodeInvalidAssignee)

	if _, err := f.directory.SetUserActive(f.ctx, f.admin, f.buyerUser.ID, false); err != nil {
		t.Fatalf("SetUserActive failed: %v", err)
	}
	_, err = f.requests.AssignToUser(f.ctx, f.mgmt, req.ID, f.buyerUser.ID)
	wantCode(t, err, core.CodeInvalidAssignee)

	// Nothing was persisted by the failed attempts
	got, err := f.requests.GetRequest(f.ctx, f.mgmt, req.ID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if got.Status != core.RequestSubmitted || got.AssignedTo != nil {
		t.Errorf("Expected untouched SUBMITTED request, got %s assigned %v", got.Status, got.AssignedTo)
	}
}

func TestRequestService_ApproveRequest(t *testing.T) {
	f := newFixture(t)
	req := f.draft(t, true)

	// Pending approval blocks the creator
	_, err := f.requests.UpdateStatus(f.ctx, f.fuA, req.ID, core.RequestSubmitted)
	wantCode(t, err, core.CodeApprovalPending)
	_, err = f.requests.ApproveRequest(f.ctx, f.buyer, req.ID)
	wantCode(t, err, core.CodeRoleNotPermitted)

	res, err := f.requests.ApproveRequest(f.ctx, f.mgmt, req.ID)
	if err != nil {
		t.Fatalf("ApproveRequest failed: %v", err)
	}
	if res.Request.RequiresApproval {
		t.Error("Expected requiresApproval cleared")
	}
	if res.Request.ApprovedBy == nil || *res.Request.ApprovedBy != f.mgmt.UserID {
		t.Errorf("Expected approvedBy %d, got %v", f.mgmt.UserID, res.Request.ApprovedBy)
	}
	if res.Request.ApprovedAt == nil || !res.Request.ApprovedAt.Equal(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("Unexpected approvedAt %v", res.Request.ApprovedAt)
	}

	_, err = f.requests.ApproveRequest(f.ctx, f.mgmt, req.ID)
	wantCode(t, err, core.CodeAlreadyApproved)

	// The creator can proceed once approved
	if _, err := f.requests.UpdateStatus(f.ctx, f.fuA, req.ID, core.RequestSubmitted); err != nil {
		t.Fatalf("submit after approval failed: %v", err)
	}
}

func TestRequestService_ApproveRequest_NotAwaiting(t *testing.T) {
	f := newFixture(t)
	req := f.draft(t, false)
	_, err := f.requests.ApproveRequest(f.ctx, f.mgmt, req.ID)
	wantCode(t, err, core.CodeNotAwaitingApproval)
}

func TestRequestService_SetApprovalFlag(t *testing.T) {
	f := newFixture(t)
	req := f.inProgress(t)

	res, err := f.requests.SetApprovalFlag(f.ctx, f.buyer, req.ID, true)
	if err != nil {
		t.Fatalf("SetApprovalFlag failed: %v", err)
	}
	if !res.Request.RequiresApproval {
		t.Fatal("Expected requiresApproval set")
	}

	// The gate now blocks the buyer on the request and its items
	_, err = f.requests.SetApprovalFlag(f.ctx, f.buyer, req.ID, false)
	wantCode(t, err, core.CodeApprovalPending)
	_, err = f.lineItems.AssignVendorAndPrice(f.ctx, f.buyer, req.Items[0].ID, f.vendor.ID, qty(5))
	wantCode(t, err, core.CodeApprovalPending)

	// Management may clear it; setting the same value again is a no-op
	if _, err := f.requests.SetApprovalFlag(f.ctx, f.mgmt, req.ID, false); err != nil {
		t.Fatalf("clear flag failed: %v", err)
	}
	if _, err := f.requests.SetApprovalFlag(f.ctx, f.buyer, req.ID, false); err != nil {
		t.Fatalf("no-op SetApprovalFlag failed: %v", err)
	}
	if _, err := f.lineItems.AssignVendorAndPrice(f.ctx, f.buyer, req.Items[0].ID, f.vendor.ID, qty(5)); err != nil {
		t.Fatalf("AssignVendorAndPrice after clearing failed: %v", err)
	}
}

func TestRequestService_SetApprovalFlag_UnchangedValueStillChecksEdit(t *testing.T) {
	f := newFixture(t)

	draft := f.draft(t, false)
	_, err := f.requests.SetApprovalFlag(f.ctx, f.buyer, draft.ID, false)
	wantCode(t, err, core.CodeNotCreator)
	if _, err := f.requests.SetApprovalFlag(f.ctx, f.fuA, draft.ID, false); err != nil {
		t.Fatalf("creator no-op SetApprovalFlag failed: %v", err)
	}

	closed, _ := f.received(t)
	if _, err := f.requests.UpdateStatus(f.ctx, f.admin, closed.ID, core.RequestClosed); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	for _, actor := range []core.Actor{f.fuA, f.buyer, f.mgmt} {
		_, err := f.requests.SetApprovalFlag(f.ctx, actor, closed.ID, false)
		wantCode(t, err, core.CodeRequestClosed)
	}
}

func TestRequestService_DeleteRequest(t *testing.T) {
	f := newFixture(t)

	t.Run("draft by creator", func(t *testing.T) {
		req := f.draft(t, false)
		if err := f.requests.DeleteRequest(f.ctx, f.fuA, req.ID); err != nil {
			t.Fatalf("DeleteRequest failed: %v", err)
		}
		_, err := f.requests.GetRequest(f.ctx, f.fuA, req.ID)
		wantKind(t, err, core.ErrNotFound)
	})

	t.Run("draft by admin", func(t *testing.T) {
		req := f.draft(t, false)
		if err := f.requests.DeleteRequest(f.ctx, f.admin, req.ID); err != nil {
			t.Fatalf("DeleteRequest failed: %v", err)
		}
	})

	t.Run("not the creator", func(t *testing.T) {
		req := f.draft(t, false)
		wantCode(t, f.requests.DeleteRequest(f.ctx, f.fuA2, req.ID), core.CodeNotCreator)
		wantCode(t, f.requests.DeleteRequest(f.ctx, f.mgmt, req.ID), core.CodeNotCreator)
	})

	t.Run("submitted", func(t *testing.T) {
		req := f.draft(t, false)
		if _, err := f.requests.UpdateStatus(f.ctx, f.fuA, req.ID, core.RequestSubmitted); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		wantCode(t, f.requests.DeleteRequest(f.ctx, f.fuA, req.ID), core.CodeNotDeletable)
	})

	t.Run("unknown", func(t *testing.T) {
		wantKind(t, f.requests.DeleteRequest(f.ctx, f.admin, 424242), core.ErrNotFound)
	})
}

func TestRequestService_ScopedReads(t *testing.T) {
	f := newFixture(t)
	reqA := f.draft(t, false)
	resB, err := f.requests.CreateRequest(f.ctx, f.fuB, core.CreateRequestInput{
		FactoryID: f.factoryB.ID,
		Items:     []core.LineItemInput{{MaterialID: f.material.ID, Quantity: qty(2)}},
	})
	if err != nil {
		t.Fatalf("CreateRequest B failed: %v", err)
	}

	// Out-of-scope direct read is Forbidden, not NotFound
	_, err = f.requests.GetRequest(f.ctx, f.fuB, reqA.ID)
	wantCode(t, err, core.CodeFactoryAccessDenied)

	// Lists are narrowed silently
	list, err := f.requests.ListRequests(f.ctx, f.fuA, core.RequestFilter{})
	if err != nil {
		t.Fatalf("ListRequests failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != reqA.ID {
		t.Errorf("Expected only request %d, got %d requests", reqA.ID, len(list))
	}
	list, err = f.requests.ListRequests(f.ctx, f.fuA, core.RequestFilter{FactoryIDs: []int{f.factoryB.ID}})
	if err != nil {
		t.Fatalf("ListRequests failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected empty list for foreign factory filter, got %d", len(list))
	}

	list, err = f.requests.ListRequests(f.ctx, f.mgmt, core.RequestFilter{})
	if err != nil {
		t.Fatalf("ListRequests failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != resB.Request.ID {
		t.Errorf("Expected both requests newest first, got %d", len(list))
	}

	// A factory user without factories sees nothing
	orphan := core.Actor{UserID: 999, Role: core.RoleFactoryUser}
	list, err = f.requests.ListRequests(f.ctx, orphan, core.RequestFilter{})
	if err != nil {
		t.Fatalf("ListRequests failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected no requests for unassigned factory user, got %d", len(list))
	}
}

func ptr[T any](v T) *T { return &v }
