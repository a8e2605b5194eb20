package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"factory-procurement/internal/core"
	"factory-procurement/internal/store/memory"

	"github.com/shopspring/decimal"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fixture is a small directory over a memory store: two factories, one user per
// role, one vendor and one material.
type fixture struct {
	ctx       context.Context
	store     *memory.Store
	requests  core.RequestService
	lineItems core.LineItemService
	directory core.DirectoryService

	factoryA, factoryB *core.Factory
	admin              core.Actor
	fuA, fuA2, fuB     core.Actor
	buyer, mgmt        core.Actor
	buyerUser          *core.User
	vendor             *core.Vendor
	material           *core.Material
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	opts := core.Options{
		Clock:    fixedClock{t: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)},
		Location: time.UTC,
	}

	admin := &core.User{Username: "admin", Email: "admin@test.local", Role: core.RoleAdmin, IsActive: true}
	if err := store.InTx(ctx, func(tx core.Tx) error { return tx.InsertUser(ctx, admin) }); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}

	f := &fixture{
		ctx:       ctx,
		store:     store,
		requests:  core.NewRequestService(store, opts),
		lineItems: core.NewLineItemService(store, opts),
		directory: core.NewDirectoryService(store, opts),
		admin:     admin.Actor(),
	}

	var err error
	if f.factoryA, err = f.directory.CreateFactory(ctx, f.admin, core.FactoryInput{Code: "pn", Name: "Pune Plant"}); err != nil {
		t.Fatalf("CreateFactory A: %v", err)
	}
	if f.factoryB, err = f.directory.CreateFactory(ctx, f.admin, core.FactoryInput{Code: "CH", Name: "Chennai Plant"}); err != nil {
		t.Fatalf("CreateFactory B: %v", err)
	}

	mkUser := func(name string, role core.Role, factories ...int) *core.User {
		u, err := f.directory.CreateUser(ctx, f.admin, core.UserInput{
			Username:   name,
			Email:      name + "@test.local",
			Role:       role,
			FactoryIDs: factories,
		})
		if err != nil {
			t.Fatalf("CreateUser %s: %v", name, err)
		}
		return u
	}
	f.fuA = mkUser("pune.stores", core.RoleFactoryUser, f.factoryA.ID).Actor()
	f.fuA2 = mkUser("pune.stores2", core.RoleFactoryUser, f.factoryA.ID).Actor()
	f.fuB = mkUser("chennai.stores", core.RoleFactoryUser, f.factoryB.ID).Actor()
	f.buyerUser = mkUser("buyer", core.RolePurchaseTeam)
	f.buyer = f.buyerUser.Actor()
	f.mgmt = mkUser("plant.head", core.RoleManagement).Actor()

	if f.vendor, err = f.directory.CreateVendor(ctx, f.buyer, core.VendorInput{Code: "v-steel", Name: "Deccan Steel"}); err != nil {
		t.Fatalf("CreateVendor: %v", err)
	}
	if f.material, err = f.directory.CreateMaterial(ctx, f.buyer, core.MaterialInput{Code: "MS-PLATE", Name: "MS Plate 6mm", Unit: "KG"}); err != nil {
		t.Fatalf("CreateMaterial: %v", err)
	}
	return f
}

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// draft creates a DRAFT request in factory A with one line item of 10 units.
func (f *fixture) draft(t *testing.T, requiresApproval bool) *core.ProcurementRequest {
	t.Helper()
	res, err := f.requests.CreateRequest(f.ctx, f.fuA, core.CreateRequestInput{
		FactoryID:        f.factoryA.ID,
		RequiresApproval: requiresApproval,
		Items:            []core.LineItemInput{{MaterialID: f.material.ID, Quantity: qty(10)}},
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	return res.Request
}

// inProgress submits a fresh draft and assigns it to the buyer.
func (f *fixture) inProgress(t *testing.T) *core.ProcurementRequest {
	t.Helper()
	req := f.draft(t, false)
	if _, err := f.requests.UpdateStatus(f.ctx, f.fuA, req.ID, core.RequestSubmitted); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	res, err := f.requests.AssignToUser(f.ctx, f.buyer, req.ID, f.buyerUser.ID)
	if err != nil {
		t.Fatalf("AssignToUser failed: %v", err)
	}
	return res.Request
}

// dispatched drives a fresh request until its only item is DISPATCHED.
func (f *fixture) dispatched(t *testing.T) (*core.ProcurementRequest, int) {
	t.Helper()
	req := f.inProgress(t)
	itemID := req.Items[0].ID
	if _, err := f.lineItems.AssignVendorAndPrice(f.ctx, f.buyer, itemID, f.vendor.ID, decimal.RequireFromString("125.50")); err != nil {
		t.Fatalf("AssignVendorAndPrice failed: %v", err)
	}
	res, err := f.lineItems.UpdateLineItemStatus(f.ctx, f.buyer, itemID, core.LineItemDispatched)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	return res.Request, itemID
}

// received drives a fresh request until its only item is RECEIVED with 8 of
// the 10 requested units.
func (f *fixture) received(t *testing.T) (*core.ProcurementRequest, int) {
	t.Helper()
	_, itemID := f.dispatched(t)
	res, err := f.lineItems.ReceiveLineItem(f.ctx, f.fuA, itemID, qty(8))
	if err != nil {
		t.Fatalf("ReceiveLineItem failed: %v", err)
	}
	return res.Request, itemID
}

// wantCode fails the test unless err is a core error with the given code.
func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	ce, ok := core.AsError(err)
	if !ok {
		t.Fatalf("expected core error %s, got %T: %v", code, err, err)
	}
	if ce.Code != code {
		t.Fatalf("expected code %s, got %s (%v)", code, ce.Code, err)
	}
}

func wantKind(t *testing.T, err error, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}
