package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// CreateRequest creates a DRAFT request with a generated request number.
func (s *procurementService) CreateRequest(ctx context.Context, actor Actor, input CreateRequestInput) (*RequestResult, error) {
	if actor.Role != RoleFactoryUser {
		return nil, forbiddenf(CodeRoleNotPermitted, "role %s cannot create procurement requests", actor.Role)
	}
	if err := s.policy.RequireFactory(actor, input.FactoryID); err != nil {
		return nil, err
	}
	priority := input.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.IsValid() {
		return nil, validationf(CodeInvalidInput, "unknown priority %q", priority)
	}
	if len(input.Items) == 0 {
		return nil, validationf(CodeNoLineItems, "a procurement request needs at least one line item")
	}

	var created *ProcurementRequest
	err := s.store.InTx(ctx, func(tx Tx) error {
		factory, err := tx.GetFactory(ctx, input.FactoryID)
		if err != nil {
			return err
		}
		if !factory.IsActive {
			return validationf(CodeInactiveFactory, "factory %s is inactive", factory.Code)
		}

		now := s.now()
		items, err := s.buildLineItems(ctx, tx, input.Items, now)
		if err != nil {
			return err
		}

		seq, err := tx.NextRequestSequence(ctx, factory.ID, now.Year())
		if err != nil {
			return fmt.Errorf("next request sequence: %w", err)
		}

		req := &ProcurementRequest{
			RequestNumber:    FormatRequestNumber(factory.Code, now.Year(), seq),
			FactoryID:        factory.ID,
			FactoryCode:      factory.Code,
			CreatedBy:        actor.UserID,
			Status:           RequestDraft,
			Priority:         priority,
			RequiresApproval: input.RequiresApproval,
			Notes:            optionalString(input.Notes),
			CreatedAt:        now,
			UpdatedAt:        now,
			Items:            items,
		}
		if err := tx.InsertRequest(ctx, req); err != nil {
			return fmt.Errorf("insert procurement request: %w", err)
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("procurement request created",
		zap.Int("request_id", created.ID),
		zap.String("request_number", created.RequestNumber),
		zap.Int("user_id", actor.UserID),
		zap.Int("items", len(created.Items)),
	)
	return &RequestResult{Request: s.sanitizer.Request(actor, created)}, nil
}

// FormatRequestNumber renders REQ-<factoryCode>-<year>-<seq>.
func FormatRequestNumber(factoryCode string, year, seq int) string {
	return fmt.Sprintf("REQ-%s-%d-%04d", factoryCode, year, seq)
}

func (s *procurementService) buildLineItems(ctx context.Context, tx Tx, inputs []LineItemInput, now time.Time) ([]LineItem, error) {
	if len(inputs) == 0 {
		return nil, validationf(CodeNoLineItems, "a procurement request needs at least one line item")
	}
	items := make([]LineItem, 0, len(inputs))
	for i, in := range inputs {
		if !in.Quantity.IsPositive() {
			return nil, validationf(CodeInvalidQuantity, "line %d: quantity must be positive", i+1)
		}
		m, err := tx.GetMaterial(ctx, in.MaterialID)
		if err != nil {
			return nil, err
		}
		if !m.IsActive {
			return nil, validationf(CodeInactiveMaterial, "line %d: material %s is inactive", i+1, m.Code)
		}
		items = append(items, LineItem{
			LineNumber:            i + 1,
			MaterialID:            m.ID,
			MaterialCode:          m.Code,
			MaterialName:          m.Name,
			Unit:                  m.Unit,
			RequestedQuantity:     in.Quantity,
			Status:                LineItemPending,
			TotalReturnedQuantity: decimal.Zero,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
	}
	return items, nil
}

// touchedFields lists the fields an update would change.
func (in UpdateRequestInput) touchedFields() []Field {
	var fields []Field
	add := func(set bool, f Field) {
		if set {
			fields = append(fields, f)
		}
	}
	add(in.FactoryID != nil, FieldFactory)
	add(in.Priority != nil, FieldPriority)
	add(in.Notes != nil, FieldNotes)
	add(in.Items != nil, FieldItems)
	add(in.RequiresApproval != nil, FieldRequiresApproval)
	add(in.AssignedTo != nil, FieldAssignedTo)
	add(in.Status != nil, FieldStatus)
	add(in.RequestNumber != nil, FieldRequestNumber)
	add(in.ApprovedBy != nil, FieldApprovedBy)
	add(in.ApprovedAt != nil, FieldApprovedDate)
	return fields
}

// UpdateRequest applies a partial update gated by the edit matrix.
func (s *procurementService) UpdateRequest(ctx context.Context, actor Actor, requestID int, input UpdateRequestInput) (*RequestResult, error) {
	fields := input.touchedFields()
	if len(fields) == 0 {
		return nil, validationf(CodeInvalidInput, "no fields to update")
	}

	var updated *ProcurementRequest
	err := s.store.InTx(ctx, func(tx Tx) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := s.policy.RequireFactory(actor, req.FactoryID); err != nil {
			return err
		}
		if err := s.validator.CheckEdit(actor, req, fields); err != nil {
			return err
		}

		now := s.now()
		if input.FactoryID != nil && *input.FactoryID != req.FactoryID {
			if err := s.policy.RequireFactory(actor, *input.FactoryID); err != nil {
				return err
			}
			factory, err := tx.GetFactory(ctx, *input.FactoryID)
			if err != nil {
				return err
			}
			if !factory.IsActive {
				return validationf(CodeInactiveFactory, "factory %s is inactive", factory.Code)
			}
			req.FactoryID = factory.ID
			req.FactoryCode = factory.Code
		}
		if input.Priority != nil {
			if !input.Priority.IsValid() {
				return validationf(CodeInvalidInput, "unknown priority %q", *input.Priority)
			}
			req.Priority = *input.Priority
		}
		if input.Notes != nil {
			req.Notes = optionalString(*input.Notes)
		}
		if input.RequiresApproval != nil {
			applyApprovalFlag(req, *input.RequiresApproval)
		}
		if input.Items != nil {
			items, err := s.buildLineItems(ctx, tx, *input.Items, now)
			if err != nil {
				return err
			}
			req.Items = items
			if err := tx.ReplaceLineItems(ctx, req); err != nil {
				return fmt.Errorf("replace line items: %w", err)
			}
		}
		if input.AssignedTo != nil {
			if err := s.assign(ctx, tx, req, *input.AssignedTo); err != nil {
				return err
			}
		}
		if input.Status != nil && *input.Status != req.Status {
			if err := s.transition(ctx, tx, actor, req, *input.Status); err != nil {
				return err
			}
		}

		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("update procurement request %d: %w", req.ID, err)
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("procurement request updated",
		zap.Int("request_id", updated.ID),
		zap.Int("user_id", actor.UserID),
		zap.Int("fields", len(fields)),
	)
	return &RequestResult{Request: s.sanitizer.Request(actor, updated)}, nil
}

// transition checks and applies one explicit status change, persisting the
// line items the change cascades to. The request header is left to the caller.
func (s *procurementService) transition(ctx context.Context, tx Tx, actor Actor, req *ProcurementRequest, target RequestStatus) error {
	var facts TransitionFacts
	if target == RequestClosed {
		n, err := tx.CountPendingReturns(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("count pending returns: %w", err)
		}
		facts.PendingReturns = n
	}
	if err := s.transitions.Check(actor, req, target, facts); err != nil {
		return err
	}
	from := req.Status
	for _, li := range s.transitions.Apply(req, target, s.now()) {
		if err := tx.UpdateLineItem(ctx, li); err != nil {
			return fmt.Errorf("update line item %d: %w", li.ID, err)
		}
	}
	s.log.Info("request status changed",
		zap.Int("request_id", req.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.Int("user_id", actor.UserID),
	)
	return nil
}

// assign sets the assignee after validating the target user. Assigning a
// SUBMITTED request starts work on it.
func (s *procurementService) assign(ctx context.Context, tx Tx, req *ProcurementRequest, assigneeID int) error {
	user, err := tx.GetUser(ctx, assigneeID)
	if err != nil {
		return err
	}
	if err := s.validator.CheckAssignee(user); err != nil {
		return err
	}
	req.AssignedTo = &user.ID
	if req.Status == RequestSubmitted {
		for _, li := range s.transitions.Apply(req, RequestInProgress, s.now()) {
			if err := tx.UpdateLineItem(ctx, li); err != nil {
				return fmt.Errorf("update line item %d: %w", li.ID, err)
			}
		}
	}
	return nil
}

// applyApprovalFlag sets or clears the requires-approval flag. Raising it
// starts a fresh approval round.
func applyApprovalFlag(req *ProcurementRequest, required bool) {
	req.RequiresApproval = required
	if required {
		req.ApprovedBy = nil
		req.ApprovedAt = nil
	}
}

// UpdateStatus performs one explicit adjacent status transition.
func (s *procurementService) UpdateStatus(ctx context.Context, actor Actor, requestID int, target RequestStatus) (*RequestResult, error) {
	if !target.IsValid() {
		return nil, validationf(CodeInvalidTransition, "unknown request status %q", target)
	}
	return s.mutateRequest(ctx, actor, requestID, func(tx Tx, req *ProcurementRequest) error {
		if err := s.validator.CheckApprovalGate(actor, req); err != nil {
			return err
		}
		return s.transition(ctx, tx, actor, req, target)
	})
}

// AssignToUser assigns the request to an active PURCHASE_TEAM user.
func (s *procurementService) AssignToUser(ctx context.Context, actor Actor, requestID, assigneeID int) (*RequestResult, error) {
	return s.mutateRequest(ctx, actor, requestID, func(tx Tx, req *ProcurementRequest) error {
		if err := s.validator.CheckEdit(actor, req, []Field{FieldAssignedTo}); err != nil {
			return err
		}
		if err := s.assign(ctx, tx, req, assigneeID); err != nil {
			return err
		}
		s.log.Info("request assigned",
			zap.Int("request_id", req.ID),
			zap.Int("assignee_id", assigneeID),
			zap.Int("user_id", actor.UserID),
		)
		return nil
	})
}

// ApproveRequest grants approval to a request awaiting it.
func (s *procurementService) ApproveRequest(ctx context.Context, actor Actor, requestID int) (*RequestResult, error) {
	return s.mutateRequest(ctx, actor, requestID, func(tx Tx, req *ProcurementRequest) error {
		if err := s.validator.CheckApprove(actor, req); err != nil {
			return err
		}
		now := s.now()
		approver := actor.UserID
		req.ApprovedBy = &approver
		req.ApprovedAt = &now
		req.RequiresApproval = false
		s.log.Info("request approved", zap.Int("request_id", req.ID), zap.Int("user_id", actor.UserID))
		return nil
	})
}

// SetApprovalFlag sets or clears the requires-approval flag.
func (s *procurementService) SetApprovalFlag(ctx context.Context, actor Actor, requestID int, required bool) (*RequestResult, error) {
	return s.mutateRequest(ctx, actor, requestID, func(tx Tx, req *ProcurementRequest) error {
		if err := s.validator.CheckEdit(actor, req, []Field{FieldRequiresApproval}); err != nil {
			return err
		}
		if req.RequiresApproval == required {
			return errUnchanged
		}
		applyApprovalFlag(req, required)
		return nil
	})
}

// errUnchanged tells mutateRequest that fn succeeded without touching req.
var errUnchanged = errors.New("request unchanged")

// mutateRequest locks the request, applies the factory scope, runs fn and
// persists the header.
func (s *procurementService) mutateRequest(ctx context.Context, actor Actor, requestID int, fn func(tx Tx, req *ProcurementRequest) error) (*RequestResult, error) {
	var updated *ProcurementRequest
	err := s.store.InTx(ctx, func(tx Tx) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := s.policy.RequireFactory(actor, req.FactoryID); err != nil {
			return err
		}
		if err := fn(tx, req); err != nil {
			if errors.Is(err, errUnchanged) {
				updated = req
				return nil
			}
			return err
		}
		req.UpdatedAt = s.now()
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("update procurement request %d: %w", req.ID, err)
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &RequestResult{Request: s.sanitizer.Request(actor, updated)}, nil
}

// DeleteRequest soft-deletes an untouched DRAFT request.
func (s *procurementService) DeleteRequest(ctx context.Context, actor Actor, requestID int) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := s.policy.RequireFactory(actor, req.FactoryID); err != nil {
			return err
		}
		if err := s.validator.CheckDelete(actor, req); err != nil {
			return err
		}
		return tx.SoftDeleteRequest(ctx, req.ID, s.now())
	})
	if err != nil {
		return err
	}
	s.log.Info("procurement request deleted", zap.Int("request_id", requestID), zap.Int("user_id", actor.UserID))
	return nil
}

// GetRequest returns one request; factory scope denial is Forbidden.
func (s *procurementService) GetRequest(ctx context.Context, actor Actor, requestID int) (*ProcurementRequest, error) {
	var req *ProcurementRequest
	err := s.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := s.policy.RequireFactory(actor, r.FactoryID); err != nil {
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.sanitizer.Request(actor, req), nil
}

// ListRequests returns requests narrowed silently to the actor's factory scope.
func (s *procurementService) ListRequests(ctx context.Context, actor Actor, filter RequestFilter) ([]ProcurementRequest, error) {
	ids, ok := s.policy.Scope(actor).Narrow(filter.FactoryIDs)
	if !ok {
		return []ProcurementRequest{}, nil
	}
	filter.FactoryIDs = ids
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var reqs []ProcurementRequest
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		reqs, err = tx.ListRequests(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list procurement requests: %w", err)
	}
	return s.sanitizer.Requests(actor, reqs), nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
