package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxShortCloseReason = 500

// vendorAssignableStatuses are the item states in which a vendor and price may
// be (re)assigned.
var vendorAssignableStatuses = []LineItemStatus{LineItemPending, LineItemInProgress, LineItemOrdered}

// shortClosableStatuses are the item states that can still be short-closed.
var shortClosableStatuses = []LineItemStatus{LineItemPending, LineItemInProgress, LineItemOrdered}

// lockedItem loads a line item with its parent request locked for the rest of
// the transaction.
func (s *procurementService) lockedItem(ctx context.Context, tx Tx, lineItemID int) (*ProcurementRequest, *LineItem, error) {
	requestID, err := tx.LineItemRequestID(ctx, lineItemID)
	if err != nil {
		return nil, nil, err
	}
	req, err := tx.LockRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	item := req.Item(lineItemID)
	if item == nil {
		return nil, nil, notFound("line item", lineItemID)
	}
	return req, item, nil
}

// mutateLineItem runs fn on a locked line item, persists it and fires the
// line item change hook.
func (s *procurementService) mutateLineItem(ctx context.Context, actor Actor, lineItemID int, fn func(tx Tx, req *ProcurementRequest, item *LineItem, fx *effects) error) (*LineItemResult, error) {
	fx := s.newEffects()
	var (
		req  *ProcurementRequest
		item *LineItem
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		req, item, err = s.lockedItem(ctx, tx, lineItemID)
		if err != nil {
			return err
		}
		if err := s.policy.RequireFactory(actor, req.FactoryID); err != nil {
			return err
		}
		if err := fn(tx, req, item, fx); err != nil {
			return err
		}
		item.UpdatedAt = s.now()
		if err := tx.UpdateLineItem(ctx, item); err != nil {
			return fmt.Errorf("update line item %d: %w", item.ID, err)
		}
		s.onLineItemChanged(ctx, tx, req, fx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &LineItemResult{
		LineItem:     s.sanitizer.LineItem(actor, item),
		Request:      s.sanitizer.Request(actor, req),
		SoftFailures: fx.failures,
	}, nil
}

// AssignVendorAndPrice sets vendor and price together and marks the item ORDERED.
func (s *procurementService) AssignVendorAndPrice(ctx context.Context, actor Actor, lineItemID, vendorID int, price decimal.Decimal) (*LineItemResult, error) {
	if !price.IsPositive() {
		return nil, validationf(CodeInvalidPrice, "price must be greater than zero")
	}
	if err := s.validator.CheckPurchaseRole(actor, "assign vendors"); err != nil {
		return nil, err
	}
	res, err := s.mutateLineItem(ctx, actor, lineItemID, func(tx Tx, req *ProcurementRequest, item *LineItem, fx *effects) error {
		if err := s.validator.CheckLineItemMutation(actor, req); err != nil {
			return err
		}
		if !slices.Contains(vendorAssignableStatuses, item.Status) {
			return validationf(CodeInvalidLineItemStatus, "line item %d is %s; vendor cannot be assigned", item.ID, item.Status)
		}
		vendor, err := tx.GetVendor(ctx, vendorID)
		if err != nil {
			return err
		}
		if !vendor.IsActive {
			return validationf(CodeInactiveVendor, "vendor %s is inactive", vendor.Code)
		}

		item.AssignedVendor = vendor.Ref()
		item.AssignedPrice = &price
		item.Status = LineItemOrdered

		now := s.now()
		for _, kind := range []HistoryKind{HistoryPrice, HistoryVendorMaterial} {
			rec := HistoryRecord{
				Kind:       kind,
				RequestID:  req.ID,
				LineItemID: item.ID,
				FactoryID:  req.FactoryID,
				MaterialID: item.MaterialID,
				VendorID:   &vendor.ID,
				Price:      &price,
				Quantity:   item.RequestedQuantity,
				RecordedBy: actor.UserID,
				RecordedAt: now,
			}
			fx.run(ctx, tx, "history_"+strings.ToLower(string(kind)), func(tx Tx) error {
				return tx.EmitHistoryRecord(ctx, rec)
			}, zap.Int("line_item_id", item.ID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("vendor assigned to line item",
		zap.Int("line_item_id", lineItemID),
		zap.Int("vendor_id", vendorID),
		zap.String("price", price.String()),
		zap.Int("user_id", actor.UserID),
	)
	return res, nil
}

// UpdateLineItemStatus moves an item to ORDERED, DISPATCHED or RECEIVED.
func (s *procurementService) UpdateLineItemStatus(ctx context.Context, actor Actor, lineItemID int, target LineItemStatus) (*LineItemResult, error) {
	if !target.IsValid() {
		return nil, validationf(CodeInvalidTransition, "unknown line item status %q", target)
	}
	res, err := s.mutateLineItem(ctx, actor, lineItemID, func(tx Tx, req *ProcurementRequest, item *LineItem, fx *effects) error {
		if err := s.validator.CheckLineItemMutation(actor, req); err != nil {
			return err
		}
		if err := s.validator.CheckLineItemTransition(actor, req, item, target); err != nil {
			return err
		}
		if target == LineItemReceived {
			s.markReceived(ctx, tx, actor, req, item, item.RequestedQuantity, fx)
		}
		item.Status = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("line item status changed",
		zap.Int("line_item_id", lineItemID),
		zap.String("to", string(target)),
		zap.Int("user_id", actor.UserID),
	)
	return res, nil
}

// markReceived stamps receipt data on item and records the purchase.
func (s *procurementService) markReceived(ctx context.Context, tx Tx, actor Actor, req *ProcurementRequest, item *LineItem, qty decimal.Decimal, fx *effects) {
	now := s.now()
	receiver := actor.UserID
	item.Status = LineItemReceived
	item.ActualQuantity = &qty
	item.ReceivedBy = &receiver
	item.ReceivedAt = &now

	rec := HistoryRecord{
		Kind:       HistoryPurchase,
		RequestID:  req.ID,
		LineItemID: item.ID,
		FactoryID:  req.FactoryID,
		MaterialID: item.MaterialID,
		Price:      clonePtr(item.AssignedPrice),
		Quantity:   qty,
		RecordedBy: actor.UserID,
		RecordedAt: now,
	}
	if item.AssignedVendor != nil {
		vendorID := item.AssignedVendor.ID
		rec.VendorID = &vendorID
	}
	fx.run(ctx, tx, "history_purchase", func(tx Tx) error {
		return tx.EmitHistoryRecord(ctx, rec)
	}, zap.Int("line_item_id", item.ID))
}

// ShortCloseLineItem terminates an item without full fulfilment.
func (s *procurementService) ShortCloseLineItem(ctx context.Context, actor Actor, lineItemID int, reason string) (*LineItemResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf(CodeReasonRequired, "a short-close reason is required")
	}
	if utf8.RuneCountInString(reason) > maxShortCloseReason {
		return nil, validationf(CodeReasonTooLong, "short-close reason exceeds %d characters", maxShortCloseReason)
	}
	if err := s.validator.CheckPurchaseRole(actor, "short-close line items"); err != nil {
		return nil, err
	}
	res, err := s.mutateLineItem(ctx, actor, lineItemID, func(tx Tx, req *ProcurementRequest, item *LineItem, fx *effects) error {
		if err := s.validator.CheckLineItemMutation(actor, req); err != nil {
			return err
		}
		if item.Status == LineItemShortClosed || item.ShortClosed {
			return validationf(CodeInvalidLineItemStatus, "line item %d is already short-closed", item.ID)
		}
		if !slices.Contains(shortClosableStatuses, item.Status) {
			return validationf(CodeInvalidLineItemStatus, "line item %d is %s and cannot be short-closed", item.ID, item.Status)
		}
		zero := decimal.Zero
		item.ActualQuantity = &zero
		item.Status = LineItemShortClosed
		item.ShortClosed = true
		item.ShortCloseReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("line item short-closed", zap.Int("line_item_id", lineItemID), zap.Int("user_id", actor.UserID))
	return res, nil
}

// ReceiveLineItem records the received quantity of a DISPATCHED item.
func (s *procurementService) ReceiveLineItem(ctx context.Context, actor Actor, lineItemID int, actualQuantity decimal.Decimal) (*LineItemResult, error) {
	if actor.Role != RoleFactoryUser {
		return nil, forbiddenf(CodeRoleNotPermitted, "role %s cannot receive line items", actor.Role)
	}
	if actualQuantity.IsNegative() {
		return nil, validationf(CodeInvalidQuantity, "received quantity cannot be negative")
	}
	res, err := s.mutateLineItem(ctx, actor, lineItemID, func(tx Tx, req *ProcurementRequest, item *LineItem, fx *effects) error {
		if err := s.validator.CheckFactoryUser(actor, req.FactoryID, "receive line items"); err != nil {
			return err
		}
		if err := s.validator.CheckLineItemMutation(actor, req); err != nil {
			return err
		}
		if item.Status != LineItemDispatched || item.ReceivedAt != nil {
			return validationf(CodeInvalidLineItemStatus, "line item %d is %s; only DISPATCHED items can be received", item.ID, item.Status)
		}
		if actualQuantity.GreaterThan(item.RequestedQuantity) {
			return validationf(CodeInvalidQuantity, "received quantity %s exceeds requested %s", actualQuantity, item.RequestedQuantity)
		}
		s.markReceived(ctx, tx, actor, req, item, actualQuantity, fx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("line item received",
		zap.Int("line_item_id", lineItemID),
		zap.String("quantity", actualQuantity.String()),
		zap.Int("user_id", actor.UserID),
	)
	return res, nil
}

// GetLineItem returns one line item; factory scope denial is Forbidden.
func (s *procurementService) GetLineItem(ctx context.Context, actor Actor, lineItemID int) (*LineItem, error) {
	var item *LineItem
	err := s.store.InTx(ctx, func(tx Tx) error {
		requestID, err := tx.LineItemRequestID(ctx, lineItemID)
		if err != nil {
			return err
		}
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := s.policy.RequireFactory(actor, req.FactoryID); err != nil {
			return err
		}
		item = req.Item(lineItemID)
		if item == nil {
			return notFound("line item", lineItemID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.sanitizer.LineItem(actor, item), nil
}
