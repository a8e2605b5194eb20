package core

import (
	"context"
	"time"
)

// Store is the persistence collaborator of the core. All reads and writes go
// through a Tx obtained from InTx; fn's error rolls the transaction back.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is one atomic unit of work. Implementations must make LockRequest block
// concurrent lockers of the same request until the transaction ends.
type Tx interface {
	GetFactory(ctx context.Context, id int) (*Factory, error)
	// ListFactories returns factories with the given IDs, or all when ids is nil.
	ListFactories(ctx context.Context, ids []int) ([]Factory, error)
	InsertFactory(ctx context.Context, f *Factory) error
	UpdateFactory(ctx context.Context, f *Factory) error

	GetUser(ctx context.Context, id int) (*User, error)
	InsertUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error

	GetVendor(ctx context.Context, id int) (*Vendor, error)
	ListVendors(ctx context.Context) ([]Vendor, error)
	InsertVendor(ctx context.Context, v *Vendor) error

	GetMaterial(ctx context.Context, id int) (*Material, error)
	ListMaterials(ctx context.Context) ([]Material, error)
	InsertMaterial(ctx context.Context, m *Material) error

	// NextRequestSequence returns the next request sequence for factory and year.
	NextRequestSequence(ctx context.Context, factoryID, year int) (int, error)
	// InsertRequest stores r and its items, assigning IDs in place.
	InsertRequest(ctx context.Context, r *ProcurementRequest) error
	// GetRequest loads a non-deleted request with its items.
	GetRequest(ctx context.Context, id int) (*ProcurementRequest, error)
	// LockRequest is GetRequest plus an exclusive per-request lock held until
	// the transaction ends.
	LockRequest(ctx context.Context, id int) (*ProcurementRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]ProcurementRequest, error)
	// UpdateRequest persists the header fields of r.
	UpdateRequest(ctx context.Context, r *ProcurementRequest) error
	// ReplaceLineItems deletes the items of r and inserts r.Items, assigning IDs.
	ReplaceLineItems(ctx context.Context, r *ProcurementRequest) error
	UpdateLineItem(ctx context.Context, li *LineItem) error
	SoftDeleteRequest(ctx context.Context, id int, at time.Time) error
	// LineItemRequestID resolves the parent request of a line item.
	LineItemRequestID(ctx context.Context, lineItemID int) (int, error)

	InsertReturnRequest(ctx context.Context, rr *ReturnRequest) error
	GetReturnRequest(ctx context.Context, id int) (*ReturnRequest, error)
	UpdateReturnRequest(ctx context.Context, rr *ReturnRequest) error
	ReturnsForLineItem(ctx context.Context, lineItemID int) ([]ReturnRequest, error)
	ListReturnRequests(ctx context.Context, filter ReturnFilter) ([]ReturnRequest, error)
	CountPendingReturns(ctx context.Context, requestID int) (int, error)

	EmitHistoryRecord(ctx context.Context, rec HistoryRecord) error

	// BestEffort runs fn so that its failure leaves the surrounding
	// transaction usable (a savepoint in SQL stores).
	BestEffort(ctx context.Context, fn func(tx Tx) error) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
