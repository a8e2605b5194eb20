package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus is the lifecycle state of a procurement request.
type RequestStatus string

const (
	RequestDraft      RequestStatus = "DRAFT"
	RequestSubmitted  RequestStatus = "SUBMITTED"
	RequestInProgress RequestStatus = "IN_PROGRESS"
	RequestOrdered    RequestStatus = "ORDERED"
	RequestDispatched RequestStatus = "DISPATCHED"
	RequestReceived   RequestStatus = "RECEIVED"
	RequestClosed     RequestStatus = "CLOSED"
)

// LineItemStatus is the lifecycle state of a single line item.
type LineItemStatus string

const (
	LineItemPending     LineItemStatus = "PENDING"
	LineItemInProgress  LineItemStatus = "IN_PROGRESS"
	LineItemOrdered     LineItemStatus = "ORDERED"
	LineItemDispatched  LineItemStatus = "DISPATCHED"
	LineItemReceived    LineItemStatus = "RECEIVED"
	LineItemShortClosed LineItemStatus = "SHORT_CLOSED"
)

// IsValid reports whether s is a known line item status.
func (s LineItemStatus) IsValid() bool {
	switch s {
	case LineItemPending, LineItemInProgress, LineItemOrdered, LineItemDispatched,
		LineItemReceived, LineItemShortClosed:
		return true
	}
	return false
}

// ReturnStatus is the state of a return request.
type ReturnStatus string

const (
	ReturnRequested ReturnStatus = "REQUESTED"
	ReturnApproved  ReturnStatus = "APPROVED"
)

// Priority of a procurement request.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ProcurementRequest is a factory's request for materials.
type ProcurementRequest struct {
	ID               int           `json:"id"`
	RequestNumber    string        `json:"request_number"`
	FactoryID        int           `json:"factory_id"`
	FactoryCode      string        `json:"factory_code"`
	CreatedBy        int           `json:"created_by"`
	AssignedTo       *int          `json:"assigned_to,omitempty"`
	Status           RequestStatus `json:"status"`
	Priority         Priority      `json:"priority"`
	RequiresApproval bool          `json:"requires_approval"`
	ApprovedBy       *int          `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	ShortClosed      bool          `json:"short_closed"`
	ShortCloseReason *string       `json:"short_close_reason,omitempty"`
	Notes            *string       `json:"notes,omitempty"`
	DeletedAt        *time.Time    `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Items            []LineItem    `json:"items"`
}

// Item returns the line item with the given ID, or nil.
func (r *ProcurementRequest) Item(id int) *LineItem {
	for i := range r.Items {
		if r.Items[i].ID == id {
			return &r.Items[i]
		}
	}
	return nil
}

// VendorRef is the vendor reference nested in line items.
type VendorRef struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// LineItem is one material/quantity entry of a procurement request.
// AssignedVendor and AssignedPrice are set together or not at all.
type LineItem struct {
	ID                    int              `json:"id"`
	RequestID             int              `json:"request_id"`
	LineNumber            int              `json:"line_number"`
	MaterialID            int              `json:"material_id"`
	MaterialCode          string           `json:"material_code"`
	MaterialName          string           `json:"material_name"`
	Unit                  string           `json:"unit"`
	RequestedQuantity     decimal.Decimal  `json:"requested_quantity"`
	AssignedVendor        *VendorRef       `json:"assigned_vendor"`
	AssignedPrice         *decimal.Decimal `json:"assigned_price"`
	ActualQuantity        *decimal.Decimal `json:"actual_quantity,omitempty"`
	Status                LineItemStatus   `json:"status"`
	ShortClosed           bool             `json:"short_closed"`
	ShortCloseReason      *string          `json:"short_close_reason,omitempty"`
	TotalReturnedQuantity decimal.Decimal  `json:"total_returned_quantity"`
	HasReturns            bool             `json:"has_returns"`
	ReceivedBy            *int             `json:"received_by,omitempty"`
	ReceivedAt            *time.Time       `json:"received_at,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// ReturnRequest is a factory's claim to send back received quantity.
type ReturnRequest struct {
	ID          int             `json:"id"`
	LineItemID  int             `json:"line_item_id"`
	RequestID   int             `json:"request_id"`
	FactoryID   int             `json:"factory_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      string          `json:"reason"`
	Status      ReturnStatus    `json:"status"`
	RequestedBy int             `json:"requested_by"`
	ApprovedBy  *int            `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	LineItem    *LineItem       `json:"line_item,omitempty"`
}

// HistoryKind names an append-only history stream.
type HistoryKind string

const (
	HistoryPrice          HistoryKind = "PRICE"
	HistoryVendorMaterial HistoryKind = "VENDOR_MATERIAL"
	HistoryPurchase       HistoryKind = "PURCHASE"
)

// HistoryRecord is a side-effect row emitted by the workflow. It is never read
// back by the state machine.
type HistoryRecord struct {
	Kind       HistoryKind
	RequestID  int
	LineItemID int
	FactoryID  int
	MaterialID int
	VendorID   *int
	Price      *decimal.Decimal
	Quantity   decimal.Decimal
	RecordedBy int
	RecordedAt time.Time
}

// LineItemInput holds the fields required to create a line item.
type LineItemInput struct {
	MaterialID int
	Quantity   decimal.Decimal
}

// CreateRequestInput holds the fields required to create a DRAFT request.
type CreateRequestInput struct {
	FactoryID        int
	Priority         Priority
	RequiresApproval bool
	Notes            string
	Items            []LineItemInput
}

// UpdateRequestInput is a partial update; nil fields are left untouched.
// Each non-nil field is checked against the edit matrix for the current status.
type UpdateRequestInput struct {
	FactoryID        *int
	Priority         *Priority
	Notes            *string
	RequiresApproval *bool
	AssignedTo       *int
	Status           *RequestStatus
	Items            *[]LineItemInput

	// Fields that are never editable through updates; present so callers that
	// echo a full representation are rejected rather than silently ignored.
	RequestNumber *string
	ApprovedBy    *int
	ApprovedAt    *time.Time
}

// RequestFilter narrows ListRequests. Zero values mean "any".
type RequestFilter struct {
	FactoryIDs []int
	Status     RequestStatus
	AssignedTo *int
	CreatedBy  *int
	Limit      int
	Offset     int
}

// ReturnFilter narrows ListReturnRequests.
type ReturnFilter struct {
	FactoryIDs []int
	RequestID  *int
	LineItemID *int
	Status     ReturnStatus
}

// SoftFailure reports a best-effort side effect that failed without failing
// the primary operation.
type SoftFailure struct {
	Effect  string `json:"effect"`
	Message string `json:"message"`
}

// RequestResult is returned by request mutations.
type RequestResult struct {
	Request      *ProcurementRequest `json:"request"`
	SoftFailures []SoftFailure       `json:"soft_failures,omitempty"`
}

// LineItemResult is returned by line item mutations. Request carries the parent
// after the derived status recompute.
type LineItemResult struct {
	LineItem     *LineItem           `json:"line_item"`
	Request      *ProcurementRequest `json:"request"`
	SoftFailures []SoftFailure       `json:"soft_failures,omitempty"`
}

// ReturnResult is returned by return request mutations.
type ReturnResult struct {
	Return       *ReturnRequest `json:"return_request"`
	SoftFailures []SoftFailure  `json:"soft_failures,omitempty"`
}

// RequestService provides procurement request lifecycle operations. Every
// operation takes the acting user explicitly and returns sanitized data.
type RequestService interface {
	// CreateRequest creates a DRAFT request with a generated request number.
	// FACTORY_USER only, scoped to the target factory.
	CreateRequest(ctx context.Context, actor Actor, input CreateRequestInput) (*RequestResult, error)

	// UpdateRequest applies a partial update gated by the edit matrix.
	UpdateRequest(ctx context.Context, actor Actor, requestID int, input UpdateRequestInput) (*RequestResult, error)

	// UpdateStatus performs one explicit adjacent status transition.
	UpdateStatus(ctx context.Context, actor Actor, requestID int, target RequestStatus) (*RequestResult, error)

	// AssignToUser assigns the request to an active PURCHASE_TEAM user.
	// A SUBMITTED request moves to IN_PROGRESS on assignment.
	AssignToUser(ctx context.Context, actor Actor, requestID, assigneeID int) (*RequestResult, error)

	// ApproveRequest grants approval to a request awaiting it.
	ApproveRequest(ctx context.Context, actor Actor, requestID int) (*RequestResult, error)

	// SetApprovalFlag sets or clears the requires-approval flag.
	SetApprovalFlag(ctx context.Context, actor Actor, requestID int, required bool) (*RequestResult, error)

	// DeleteRequest soft-deletes an untouched DRAFT request.
	DeleteRequest(ctx context.Context, actor Actor, requestID int) error

	// GetRequest returns one request; factory scope denial is Forbidden.
	GetRequest(ctx context.Context, actor Actor, requestID int) (*ProcurementRequest, error)

	// ListRequests returns requests narrowed silently to the actor's factory scope.
	ListRequests(ctx context.Context, actor Actor, filter RequestFilter) ([]ProcurementRequest, error)
}

// LineItemService provides the line item and return sub-workflows.
type LineItemService interface {
	// AssignVendorAndPrice sets vendor and price together and marks the item ORDERED.
	AssignVendorAndPrice(ctx context.Context, actor Actor, lineItemID, vendorID int, price decimal.Decimal) (*LineItemResult, error)

	// UpdateLineItemStatus moves an item to ORDERED, DISPATCHED or RECEIVED.
	UpdateLineItemStatus(ctx context.Context, actor Actor, lineItemID int, target LineItemStatus) (*LineItemResult, error)

	// ShortCloseLineItem terminates an item without full fulfilment.
	ShortCloseLineItem(ctx context.Context, actor Actor, lineItemID int, reason string) (*LineItemResult, error)

	// ReceiveLineItem records the received quantity of a DISPATCHED item.
	ReceiveLineItem(ctx context.Context, actor Actor, lineItemID int, actualQuantity decimal.Decimal) (*LineItemResult, error)

	// GetLineItem returns one line item; factory scope denial is Forbidden.
	GetLineItem(ctx context.Context, actor Actor, lineItemID int) (*LineItem, error)

	// CreateReturnRequest opens the single return allowed for a received item.
	CreateReturnRequest(ctx context.Context, actor Actor, lineItemID int, quantity decimal.Decimal, reason string) (*ReturnResult, error)

	// ApproveReturnRequest approves a REQUESTED return after re-validating quantity.
	ApproveReturnRequest(ctx context.Context, actor Actor, returnID int) (*ReturnResult, error)

	// GetReturnRequest returns one return request with its nested line item.
	GetReturnRequest(ctx context.Context, actor Actor, returnID int) (*ReturnRequest, error)

	// ListReturnRequests returns returns narrowed silently to the actor's factory scope.
	ListReturnRequests(ctx context.Context, actor Actor, filter ReturnFilter) ([]ReturnRequest, error)
}
