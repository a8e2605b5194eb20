package core

import "slices"

// Field names a request attribute governed by the edit matrix.
type Field string

const (
	FieldFactory          Field = "factory"
	FieldPriority         Field = "priority"
	FieldNotes            Field = "notes"
	FieldItems            Field = "items"
	FieldRequiresApproval Field = "requiresApproval"
	FieldAssignedTo       Field = "assignedTo"
	FieldStatus           Field = "status"
	FieldRequestNumber    Field = "requestNumber"
	FieldApprovedBy       Field = "approvedBy"
	FieldApprovedDate     Field = "approvedDate"
)

var allFields = []Field{
	FieldFactory, FieldPriority, FieldNotes, FieldItems, FieldRequiresApproval,
	FieldAssignedTo, FieldStatus, FieldRequestNumber, FieldApprovedBy, FieldApprovedDate,
}

func fieldsExcept(excluded ...Field) []Field {
	var out []Field
	for _, f := range allFields {
		if !slices.Contains(excluded, f) {
			out = append(out, f)
		}
	}
	return out
}

// editor identifies who may edit a request in a given status.
type editor int

const (
	editorNobody editor = iota
	editorCreator
	editorPurchase
	editorScopedFactoryUser
)

type editRule struct {
	editor editor
	fields []Field
}

// editMatrix is the single source of truth for request edits.
var editMatrix = map[RequestStatus]editRule{
	RequestDraft: {
		editor: editorCreator,
		fields: fieldsExcept(FieldRequestNumber, FieldStatus, FieldAssignedTo, FieldApprovedBy, FieldApprovedDate),
	},
	RequestSubmitted:  {editor: editorPurchase, fields: []Field{FieldAssignedTo}},
	RequestInProgress: {editor: editorPurchase, fields: []Field{FieldAssignedTo, FieldRequiresApproval, FieldStatus}},
	RequestOrdered:    {editor: editorPurchase, fields: []Field{FieldStatus}},
	RequestDispatched: {editor: editorPurchase, fields: []Field{FieldStatus}},
	RequestReceived:   {editor: editorScopedFactoryUser, fields: []Field{FieldStatus}},
	RequestClosed:     {editor: editorNobody},
}

// lineItemRule gates an explicit line item status change.
type lineItemRule struct {
	roles         []Role
	from          []LineItemStatus
	factoryScoped bool
}

var lineItemTransitions = map[LineItemStatus]lineItemRule{
	LineItemOrdered:    {roles: purchaseRoles, from: []LineItemStatus{LineItemPending, LineItemInProgress}},
	LineItemDispatched: {roles: purchaseRoles, from: []LineItemStatus{LineItemOrdered}},
	LineItemReceived:   {roles: []Role{RoleFactoryUser}, from: []LineItemStatus{LineItemDispatched}, factoryScoped: true},
}

// activeRequestStatuses are the request states in which line items may change.
var activeRequestStatuses = []RequestStatus{RequestInProgress, RequestOrdered, RequestDispatched, RequestReceived}

// PermissionValidator answers field, role and status authorization questions.
type PermissionValidator struct {
	policy AccessPolicy
}

// CheckApprovalGate blocks every mutation while approval is pending and the
// actor cannot grant it.
func (v PermissionValidator) CheckApprovalGate(actor Actor, req *ProcurementRequest) error {
	if req.RequiresApproval && !actor.Role.CanApprove() {
		return validationf(CodeApprovalPending, "request %s is awaiting management approval", req.RequestNumber)
	}
	return nil
}

// CheckEdit verifies that actor may change every field in fields given the
// current status of req.
func (v PermissionValidator) CheckEdit(actor Actor, req *ProcurementRequest, fields []Field) error {
	if req.Status == RequestClosed {
		return validationf(CodeRequestClosed, "request %s is closed", req.RequestNumber)
	}
	if err := v.CheckApprovalGate(actor, req); err != nil {
		return err
	}
	rule, ok := editMatrix[req.Status]
	if !ok || rule.editor == editorNobody {
		return validationf(CodeFieldNotEditable, "request %s cannot be edited in status %s", req.RequestNumber, req.Status)
	}
	if err := v.checkEditor(actor, req, rule.editor); err != nil {
		return err
	}
	for _, f := range fields {
		if !slices.Contains(rule.fields, f) {
			return validationf(CodeFieldNotEditable, "field %s is not editable in status %s", f, req.Status)
		}
	}
	return nil
}

func (v PermissionValidator) checkEditor(actor Actor, req *ProcurementRequest, e editor) error {
	switch e {
	case editorCreator:
		if actor.UserID != req.CreatedBy {
			return forbiddenf(CodeNotCreator, "only the creator can edit request %s in status %s", req.RequestNumber, req.Status)
		}
		return v.policy.RequireFactory(actor, req.FactoryID)
	case editorPurchase:
		if !actor.Role.IsPurchaseOrAbove() {
			return forbiddenf(CodeRoleNotPermitted, "role %s cannot edit request %s in status %s", actor.Role, req.RequestNumber, req.Status)
		}
		return nil
	case editorScopedFactoryUser:
		if actor.Role != RoleFactoryUser {
			return forbiddenf(CodeRoleNotPermitted, "role %s cannot edit request %s in status %s", actor.Role, req.RequestNumber, req.Status)
		}
		return v.policy.RequireFactory(actor, req.FactoryID)
	}
	return forbiddenf(CodeRoleNotPermitted, "request %s cannot be edited", req.RequestNumber)
}

// CheckApprove verifies that actor may approve req now.
func (v PermissionValidator) CheckApprove(actor Actor, req *ProcurementRequest) error {
	if !actor.Role.CanApprove() {
		return forbiddenf(CodeRoleNotPermitted, "role %s cannot approve requests", actor.Role)
	}
	if req.Status == RequestClosed {
		return validationf(CodeRequestClosed, "request %s is closed", req.RequestNumber)
	}
	if req.ApprovedBy != nil {
		return validationf(CodeAlreadyApproved, "request %s is already approved", req.RequestNumber)
	}
	if !req.RequiresApproval {
		return validationf(CodeNotAwaitingApproval, "request %s does not require approval", req.RequestNumber)
	}
	return nil
}

// CheckAssignee verifies that target can own a request.
func (PermissionValidator) CheckAssignee(target *User) error {
	if target.Role != RolePurchaseTeam {
		return validationf(CodeInvalidAssignee, "user %d is not a purchase team member", target.ID)
	}
	if !target.IsActive {
		return validationf(CodeInvalidAssignee, "user %d is inactive", target.ID)
	}
	return nil
}

// CheckDelete verifies that actor may delete req. Only untouched DRAFT requests
// can be deleted, by their creator or an ADMIN.
func (v PermissionValidator) CheckDelete(actor Actor, req *ProcurementRequest) error {
	if req.Status != RequestDraft {
		return validationf(CodeNotDeletable, "request %s is %s; only DRAFT requests can be deleted", req.RequestNumber, req.Status)
	}
	if actor.UserID != req.CreatedBy && actor.Role != RoleAdmin {
		return forbiddenf(CodeNotCreator, "only the creator or an admin can delete request %s", req.RequestNumber)
	}
	if actor.Role != RoleAdmin {
		if err := v.policy.RequireFactory(actor, req.FactoryID); err != nil {
			return err
		}
	}
	for _, li := range req.Items {
		if li.AssignedVendor != nil || li.AssignedPrice != nil || li.Status != LineItemPending {
			return validationf(CodeNotDeletable, "request %s has line item %d already in progress", req.RequestNumber, li.ID)
		}
	}
	return nil
}

// CheckPurchaseRole verifies that actor is PURCHASE_TEAM, MANAGEMENT or ADMIN.
func (PermissionValidator) CheckPurchaseRole(actor Actor, action string) error {
	if !actor.Role.IsPurchaseOrAbove() {
		return forbiddenf(CodeRoleNotPermitted, "role %s cannot %s", actor.Role, action)
	}
	return nil
}

// CheckFactoryUser verifies that actor is a FACTORY_USER scoped to factoryID.
func (v PermissionValidator) CheckFactoryUser(actor Actor, factoryID int, action string) error {
	if actor.Role != RoleFactoryUser {
		return forbiddenf(CodeRoleNotPermitted, "role %s cannot %s", actor.Role, action)
	}
	return v.policy.RequireFactory(actor, factoryID)
}

// CheckLineItemMutation verifies that the parent request accepts line item
// changes from actor.
func (v PermissionValidator) CheckLineItemMutation(actor Actor, req *ProcurementRequest) error {
	if !slices.Contains(activeRequestStatuses, req.Status) {
		return validationf(CodeInvalidRequestStatus, "request %s is %s; line items cannot change", req.RequestNumber, req.Status)
	}
	return v.CheckApprovalGate(actor, req)
}

// CheckLineItemTransition verifies an explicit line item status change.
func (v PermissionValidator) CheckLineItemTransition(actor Actor, req *ProcurementRequest, item *LineItem, target LineItemStatus) error {
	rule, ok := lineItemTransitions[target]
	if !ok {
		return validationf(CodeInvalidTransition, "line item status %s cannot be set directly", target)
	}
	if !slices.Contains(rule.roles, actor.Role) {
		return forbiddenf(CodeRoleNotPermitted, "role %s cannot mark line items %s", actor.Role, target)
	}
	if rule.factoryScoped {
		if err := v.policy.RequireFactory(actor, req.FactoryID); err != nil {
			return err
		}
	}
	if !slices.Contains(rule.from, item.Status) {
		return validationf(CodeInvalidTransition, "line item %d cannot move from %s to %s", item.ID, item.Status, target)
	}
	return nil
}
