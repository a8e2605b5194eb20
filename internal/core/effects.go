package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Options configures the procurement services.
type Options struct {
	Logger *zap.Logger
	Clock  Clock
	// Location is the business timezone used for approval and receipt stamps.
	Location *time.Location
}

// procurementService implements RequestService and LineItemService over one
// Store. Policies are stateless values shared by both.
type procurementService struct {
	store       Store
	policy      AccessPolicy
	validator   PermissionValidator
	transitions TransitionEngine
	sanitizer   Sanitizer
	log         *zap.Logger
	clock       Clock
	loc         *time.Location
}

func newProcurementService(store Store, opts Options) *procurementService {
	policy := AccessPolicy{}
	s := &procurementService{
		store:       store,
		policy:      policy,
		validator:   PermissionValidator{policy: policy},
		transitions: TransitionEngine{policy: policy},
		sanitizer:   Sanitizer{policy: policy},
		log:         opts.Logger,
		clock:       opts.Clock,
		loc:         opts.Location,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// NewRequestService constructs a RequestService backed by store.
func NewRequestService(store Store, opts Options) RequestService {
	return newProcurementService(store, opts)
}

// NewLineItemService constructs a LineItemService backed by store.
func NewLineItemService(store Store, opts Options) LineItemService {
	return newProcurementService(store, opts)
}

func (s *procurementService) now() time.Time {
	return s.clock.Now().In(s.loc)
}

// effects collects the soft failures of best-effort side effects.
type effects struct {
	log      *zap.Logger
	failures []SoftFailure
}

func (s *procurementService) newEffects() *effects {
	return &effects{log: s.log}
}

// run executes fn as a best-effort effect. A failure is logged and recorded,
// never returned.
func (e *effects) run(ctx context.Context, tx Tx, name string, fn func(tx Tx) error, fields ...zap.Field) {
	if err := tx.BestEffort(ctx, fn); err != nil {
		e.log.Warn("best-effort effect failed", append(fields, zap.String("effect", name), zap.Error(err))...)
		e.failures = append(e.failures, SoftFailure{Effect: name, Message: err.Error()})
	}
}

// onLineItemChanged is the single post-step of every line item mutation. It
// recomputes the derived request status and short-close flag under the
// request lock already held by the caller.
func (s *procurementService) onLineItemChanged(ctx context.Context, tx Tx, req *ProcurementRequest, fx *effects) {
	fx.run(ctx, tx, "recompute_request_status", func(tx Tx) error {
		return s.recomputeRequestStatus(ctx, tx, req)
	}, zap.Int("request_id", req.ID))
}

// recomputeRequestStatus applies DeriveRequestStatus to req and persists the
// header when anything changed. Running it twice is a no-op.
func (s *procurementService) recomputeRequestStatus(ctx context.Context, tx Tx, req *ProcurementRequest) error {
	derived := DeriveRequestStatus(req.Status, itemStatuses(req))
	shortClosed, reason := deriveShortClose(req)
	if derived == req.Status && shortClosed == req.ShortClosed {
		return nil
	}
	prevStatus, prevShort, prevReason := req.Status, req.ShortClosed, req.ShortCloseReason
	req.Status = derived
	req.ShortClosed = shortClosed
	req.ShortCloseReason = reason
	req.UpdatedAt = s.now()
	if err := tx.UpdateRequest(ctx, req); err != nil {
		req.Status, req.ShortClosed, req.ShortCloseReason = prevStatus, prevShort, prevReason
		return err
	}
	if derived != prevStatus {
		s.log.Info("request status derived from line items",
			zap.Int("request_id", req.ID),
			zap.String("from", string(prevStatus)),
			zap.String("to", string(derived)),
		)
	}
	return nil
}
