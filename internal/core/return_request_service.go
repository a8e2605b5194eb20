package core

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxReturnReason = 1000

// maxReturnable is the quantity still eligible for return: the requested
// quantity less everything already approved.
func maxReturnable(item *LineItem, returns []ReturnRequest) decimal.Decimal {
	return item.RequestedQuantity.Sub(approvedReturnTotal(returns))
}

func approvedReturnTotal(returns []ReturnRequest) decimal.Decimal {
	total := decimal.Zero
	for _, rr := range returns {
		if rr.Status == ReturnApproved {
			total = total.Add(rr.Quantity)
		}
	}
	return total
}

// CreateReturnRequest opens the single return allowed for a received item.
func (s *procurementService) CreateReturnRequest(ctx context.Context, actor Actor, lineItemID int, quantity decimal.Decimal, reason string) (*ReturnResult, error) {
	if actor.Role != RoleFactoryUser {
		return nil, forbiddenf(CodeRoleNotPermitted, "role %s cannot create return requests", actor.Role)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf(CodeReasonRequired, "a return reason is required")
	}
	if utf8.RuneCountInString(reason) > maxReturnReason {
		return nil, validationf(CodeReasonTooLong, "return reason exceeds %d characters", maxReturnReason)
	}
	if !quantity.IsPositive() {
		return nil, validationf(CodeInvalidQuantity, "return quantity must be greater than zero")
	}

	var created *ReturnRequest
	err := s.store.InTx(ctx, func(tx Tx) error {
		req, item, err := s.lockedItem(ctx, tx, lineItemID)
		if err != nil {
			return err
		}
		if err := s.validator.CheckFactoryUser(actor, req.FactoryID, "create return requests"); err != nil {
			return err
		}
		if req.Status == RequestClosed {
			return validationf(CodeRequestClosed, "request %s is closed", req.RequestNumber)
		}
		if item.Status != LineItemReceived {
			return validationf(CodeInvalidLineItemStatus, "line item %d is %s; only RECEIVED items can be returned", item.ID, item.Status)
		}
		if item.ActualQuantity == nil || !item.ActualQuantity.IsPositive() {
			return validationf(CodeInvalidQuantity, "line item %d has no received quantity to return", item.ID)
		}

		existing, err := tx.ReturnsForLineItem(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("load returns for line item %d: %w", item.ID, err)
		}
		if len(existing) > 0 {
			return validationf(CodeReturnExists, "line item %d already has a return request", item.ID)
		}
		if limit := maxReturnable(item, existing); quantity.GreaterThan(limit) {
			return validationf(CodeInvalidQuantity, "return quantity %s exceeds returnable %s", quantity, limit)
		}

		rr := &ReturnRequest{
			LineItemID:  item.ID,
			RequestID:   req.ID,
			FactoryID:   req.FactoryID,
			Quantity:    quantity,
			Reason:      reason,
			Status:      ReturnRequested,
			RequestedBy: actor.UserID,
			CreatedAt:   s.now(),
		}
		if err := tx.InsertReturnRequest(ctx, rr); err != nil {
			return fmt.Errorf("insert return request: %w", err)
		}
		rr.LineItem = cloneLineItem(item)
		created = rr
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("return request created",
		zap.Int("return_id", created.ID),
		zap.Int("line_item_id", lineItemID),
		zap.String("quantity", quantity.String()),
		zap.Int("user_id", actor.UserID),
	)
	return &ReturnResult{Return: s.sanitizer.Return(actor, created)}, nil
}

// ApproveReturnRequest approves a REQUESTED return after re-validating quantity.
func (s *procurementService) ApproveReturnRequest(ctx context.Context, actor Actor, returnID int) (*ReturnResult, error) {
	if err := s.validator.CheckPurchaseRole(actor, "approve return requests"); err != nil {
		return nil, err
	}

	fx := s.newEffects()
	var approved *ReturnRequest
	err := s.store.InTx(ctx, func(tx Tx) error {
		pending, err := tx.GetReturnRequest(ctx, returnID)
		if err != nil {
			return err
		}
		req, item, err := s.lockedItem(ctx, tx, pending.LineItemID)
		if err != nil {
			return err
		}
		// Re-read under the request lock; a concurrent approver may have won.
		rr, err := tx.GetReturnRequest(ctx, returnID)
		if err != nil {
			return err
		}
		if rr.Status != ReturnRequested {
			return validationf(CodeReturnNotRequested, "return request %d is %s", rr.ID, rr.Status)
		}
		if item.Status != LineItemReceived {
			return validationf(CodeInvalidLineItemStatus, "line item %d is %s; returns need a RECEIVED item", item.ID, item.Status)
		}

		returns, err := tx.ReturnsForLineItem(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("load returns for line item %d: %w", item.ID, err)
		}
		if limit := maxReturnable(item, returns); rr.Quantity.GreaterThan(limit) {
			return validationf(CodeInvalidQuantity, "return quantity %s exceeds returnable %s", rr.Quantity, limit)
		}

		now := s.now()
		approver := actor.UserID
		rr.Status = ReturnApproved
		rr.ApprovedBy = &approver
		rr.ApprovedAt = &now
		if err := tx.UpdateReturnRequest(ctx, rr); err != nil {
			return fmt.Errorf("update return request %d: %w", rr.ID, err)
		}

		item.TotalReturnedQuantity = approvedReturnTotal(returns).Add(rr.Quantity)
		item.HasReturns = true
		item.UpdatedAt = now
		if err := tx.UpdateLineItem(ctx, item); err != nil {
			return fmt.Errorf("update line item %d: %w", item.ID, err)
		}
		s.onLineItemChanged(ctx, tx, req, fx)

		rr.LineItem = cloneLineItem(item)
		approved = rr
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("return request approved", zap.Int("return_id", returnID), zap.Int("user_id", actor.UserID))
	return &ReturnResult{Return: s.sanitizer.Return(actor, approved), SoftFailures: fx.failures}, nil
}

// GetReturnRequest returns one return request with its nested line item.
func (s *procurementService) GetReturnRequest(ctx context.Context, actor Actor, returnID int) (*ReturnRequest, error) {
	var rr *ReturnRequest
	err := s.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.GetReturnRequest(ctx, returnID)
		if err != nil {
			return err
		}
		if err := s.policy.RequireFactory(actor, r.FactoryID); err != nil {
			return err
		}
		rr = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.sanitizer.Return(actor, rr), nil
}

// ListReturnRequests returns returns narrowed silently to the actor's factory scope.
func (s *procurementService) ListReturnRequests(ctx context.Context, actor Actor, filter ReturnFilter) ([]ReturnRequest, error) {
	ids, ok := s.policy.Scope(actor).Narrow(filter.FactoryIDs)
	if !ok {
		return []ReturnRequest{}, nil
	}
	filter.FactoryIDs = ids

	var out []ReturnRequest
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListReturnRequests(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list return requests: %w", err)
	}
	return s.sanitizer.Returns(actor, out), nil
}
