package db_test

import (
	"context"
	"os"
	"testing"

	"factory-procurement/internal/core"
	"factory-procurement/internal/db"
	"factory-procurement/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database; the tables below are truncated.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := db.Migrate(ctx, pool, migrations.FS, zap.NewNop()); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE procurement_history, return_requests, request_line_items, procurement_requests,
			request_sequences, materials, vendors, user_factories, users, factories RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}
	return pool
}

func TestStore_ProcurementLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := db.NewStore(pool)
	dir := core.NewDirectoryService(store, core.Options{})
	requests := core.NewRequestService(store, core.Options{})
	lineItems := core.NewLineItemService(store, core.Options{})

	admin := &core.User{Username: "admin", Email: "admin@test.local", Role: core.RoleAdmin, IsActive: true}
	if err := store.InTx(ctx, func(tx core.Tx) error { return tx.InsertUser(ctx, admin) }); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	factory, err := dir.CreateFactory(ctx, admin.Actor(), core.FactoryInput{Code: "PN", Name: "Pune Plant"})
	if err != nil {
		t.Fatalf("CreateFactory failed: %v", err)
	}
	if _, err := dir.CreateFactory(ctx, admin.Actor(), core.FactoryInput{Code: "PN", Name: "Pune Two"}); err == nil {
		t.Error("Expected duplicate factory code to fail")
	}
	fuUser, err := dir.CreateUser(ctx, admin.Actor(), core.UserInput{Username: "pune", Email: "pune@test.local", Role: core.RoleFactoryUser, FactoryIDs: []int{factory.ID}})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	buyerUser, err := dir.CreateUser(ctx, admin.Actor(), core.UserInput{Username: "buyer", Email: "buyer@test.local", Role: core.RolePurchaseTeam})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	fu, buyer := fuUser.Actor(), buyerUser.Actor()

	reread, err := dir.GetUser(ctx, fu, fu.UserID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if len(reread.FactoryIDs) != 1 || reread.FactoryIDs[0] != factory.ID {
		t.Errorf("Expected factory assignment to round-trip, got %v", reread.FactoryIDs)
	}

	vendor, err := dir.CreateVendor(ctx, buyer, core.VendorInput{Code: "V1", Name: "Deccan Steel"})
	if err != nil {
		t.Fatalf("CreateVendor failed: %v", err)
	}
	material, err := dir.CreateMaterial(ctx, buyer, core.MaterialInput{Code: "MS", Name: "MS Plate", Unit: "KG"})
	if err != nil {
		t.Fatalf("CreateMaterial failed: %v", err)
	}

	created, err := requests.CreateRequest(ctx, fu, core.CreateRequestInput{
		FactoryID: factory.ID,
		Items:     []core.LineItemInput{{MaterialID: material.ID, Quantity: decimal.RequireFromString("10.5")}},
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	reqID := created.Request.ID
	itemID := created.Request.Items[0].ID

	if _, err := requests.UpdateStatus(ctx, fu, reqID, core.RequestSubmitted); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := requests.AssignToUser(ctx, buyer, reqID, buyerUser.ID); err != nil {
		t.Fatalf("AssignToUser failed: %v", err)
	}
	res, err := lineItems.AssignVendorAndPrice(ctx, buyer, itemID, vendor.ID, decimal.RequireFromString("99.75"))
	if err != nil {
		t.Fatalf("AssignVendorAndPrice failed: %v", err)
	}
	if len(res.SoftFailures) != 0 {
		t.Errorf("Unexpected soft failures: %+v", res.SoftFailures)
	}
	if _, err := lineItems.UpdateLineItemStatus(ctx, buyer, itemID, core.LineItemDispatched); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if _, err := lineItems.ReceiveLineItem(ctx, fu, itemID, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("ReceiveLineItem failed: %v", err)
	}

	rr, err := lineItems.CreateReturnRequest(ctx, fu, itemID, decimal.NewFromInt(2), "bent edges")
	if err != nil {
		t.Fatalf("CreateReturnRequest failed: %v", err)
	}
	if _, err := requests.UpdateStatus(ctx, buyer, reqID, core.RequestClosed); err == nil {
		t.Fatal("Expected close to fail while a return is pending")
	}
	approved, err := lineItems.ApproveReturnRequest(ctx, buyer, rr.Return.ID)
	if err != nil {
		t.Fatalf("ApproveReturnRequest failed: %v", err)
	}
	if !approved.Return.LineItem.TotalReturnedQuantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected 2 returned, got %s", approved.Return.LineItem.TotalReturnedQuantity)
	}

	closed, err := requests.UpdateStatus(ctx, buyer, reqID, core.RequestClosed)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Request.Status != core.RequestClosed {
		t.Errorf("Expected CLOSED, got %s", closed.Request.Status)
	}
	li := closed.Request.Items[0]
	if li.AssignedVendor == nil || li.AssignedVendor.Code != "V1" || !li.AssignedPrice.Equal(decimal.RequireFromString("99.75")) {
		t.Errorf("Vendor data did not round-trip: %+v", li)
	}

	var history int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM procurement_history WHERE request_id = $1`, reqID).Scan(&history); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if history != 3 {
		t.Errorf("Expected 3 history rows, got %d", history)
	}
}
