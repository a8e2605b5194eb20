package core

import "slices"

// AccessPolicy decides which factories and which vendor data an actor may see.
type AccessPolicy struct{}

// FactoryScope is the set of factories an actor may act upon. All is true for
// every role except FACTORY_USER.
type FactoryScope struct {
	All bool
	IDs []int
}

// Scope returns the factory scope of actor.
func (AccessPolicy) Scope(actor Actor) FactoryScope {
	if actor.Role != RoleFactoryUser {
		return FactoryScope{All: true}
	}
	return FactoryScope{IDs: slices.Clone(actor.FactoryIDs)}
}

// Allows reports whether factoryID is inside the scope.
func (s FactoryScope) Allows(factoryID int) bool {
	return s.All || slices.Contains(s.IDs, factoryID)
}

// Narrow intersects requested factory IDs with the scope. ok is false when the
// intersection is empty and the caller must return an empty result. A nil
// result with ok true means "no factory restriction".
func (s FactoryScope) Narrow(requested []int) (ids []int, ok bool) {
	if s.All {
		return requested, true
	}
	if len(s.IDs) == 0 {
		return nil, false
	}
	if len(requested) == 0 {
		return slices.Clone(s.IDs), true
	}
	for _, id := range requested {
		if slices.Contains(s.IDs, id) {
			ids = append(ids, id)
		}
	}
	return ids, len(ids) > 0
}

// CanAccessFactory reports whether actor may read or act on factoryID.
// A FACTORY_USER with no assigned factories is denied everything.
func (p AccessPolicy) CanAccessFactory(actor Actor, factoryID int) bool {
	return p.Scope(actor).Allows(factoryID)
}

// RequireFactory returns a Forbidden error when actor is outside factoryID.
func (p AccessPolicy) RequireFactory(actor Actor, factoryID int) error {
	if !p.CanAccessFactory(actor, factoryID) {
		return forbiddenf(CodeFactoryAccessDenied, "user %d has no access to factory %d", actor.UserID, factoryID)
	}
	return nil
}

// CanSeeVendorData reports whether actor may see assigned vendors and prices.
func (AccessPolicy) CanSeeVendorData(actor Actor) bool {
	return actor.Role != RoleFactoryUser
}
