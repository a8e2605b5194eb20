package core

import (
	"slices"
	"time"
)

// Role is the single role held by a user.
type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RoleFactoryUser  Role = "FACTORY_USER"
	RolePurchaseTeam Role = "PURCHASE_TEAM"
	RoleManagement   Role = "MANAGEMENT"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleFactoryUser, RolePurchaseTeam, RoleManagement:
		return true
	}
	return false
}

// IsPurchaseOrAbove reports whether r is PURCHASE_TEAM, MANAGEMENT or ADMIN.
func (r Role) IsPurchaseOrAbove() bool {
	return r == RolePurchaseTeam || r == RoleManagement || r == RoleAdmin
}

// CanApprove reports whether r may grant request approval.
func (r Role) CanApprove() bool {
	return r == RoleManagement || r == RoleAdmin
}

// User is a system user. FactoryIDs is only meaningful for FACTORY_USER.
type User struct {
	ID         int       `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	FactoryIDs []int     `json:"factory_ids"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Actor returns the caller identity for u.
func (u *User) Actor() Actor {
	return Actor{UserID: u.ID, Role: u.Role, FactoryIDs: slices.Clone(u.FactoryIDs)}
}

// Actor is the identity of the caller of a core operation. It is always passed
// explicitly; the core never looks up an ambient current user.
type Actor struct {
	UserID     int
	Role       Role
	FactoryIDs []int
}

// Factory is a manufacturing facility and the unit of data isolation.
type Factory struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
