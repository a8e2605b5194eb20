package core

import (
	"context"
	"time"
)

// Vendor represents a supplier that line items can be assigned to.
type Vendor struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the reference embedded in line items.
func (v *Vendor) Ref() *VendorRef {
	return &VendorRef{ID: v.ID, Code: v.Code, Name: v.Name}
}

// Material is a catalogue item that line items request.
type Material struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// FactoryInput holds the fields required to create a factory.
type FactoryInput struct {
	Code string
	Name string
}

// UserInput holds the fields required to create a user.
type UserInput struct {
	Username   string
	Email      string
	Role       Role
	FactoryIDs []int
}

// VendorInput holds the fields required to create a vendor.
type VendorInput struct {
	Code  string
	Name  string
	Email string
	Phone string
}

// MaterialInput holds the fields required to create a material.
type MaterialInput struct {
	Code string
	Name string
	Unit string
}

// DirectoryService manages the reference data the procurement workflow reads:
// factories, users, vendors and materials.
type DirectoryService interface {
	// CreateFactory registers a factory. Code must be exactly two letters or digits
	// and unique; duplicates fail with a Conflict error. ADMIN only.
	CreateFactory(ctx context.Context, actor Actor, input FactoryInput) (*Factory, error)

	// ListFactories returns the factories visible to actor.
	ListFactories(ctx context.Context, actor Actor) ([]Factory, error)

	// SetFactoryActive activates or deactivates a factory. ADMIN only.
	SetFactoryActive(ctx context.Context, actor Actor, factoryID int, active bool) (*Factory, error)

	// CreateUser registers a user. Username and email must be unique. ADMIN only.
	CreateUser(ctx context.Context, actor Actor, input UserInput) (*User, error)

	// GetUser returns a user by ID. Users may read themselves; others need ADMIN.
	GetUser(ctx context.Context, actor Actor, userID int) (*User, error)

	// SetUserActive activates or deactivates a user. ADMIN only.
	SetUserActive(ctx context.Context, actor Actor, userID int, active bool) (*User, error)

	// CreateVendor registers a vendor. Purchase team or above.
	CreateVendor(ctx context.Context, actor Actor, input VendorInput) (*Vendor, error)

	// ListVendors returns active vendors. Hidden from FACTORY_USER callers.
	ListVendors(ctx context.Context, actor Actor) ([]Vendor, error)

	// CreateMaterial registers a material. Purchase team or above.
	CreateMaterial(ctx context.Context, actor Actor, input MaterialInput) (*Material, error)

	// ListMaterials returns active materials.
	ListMaterials(ctx context.Context, actor Actor) ([]Material, error)
}
