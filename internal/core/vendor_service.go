package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CreateVendor registers a vendor.
func (s *directoryService) CreateVendor(ctx context.Context, actor Actor, input VendorInput) (*Vendor, error) {
	if !actor.Role.IsPurchaseOrAbove() {
		return nil, forbiddenf(CodeRoleNotPermitted, "role %s cannot create vendors", actor.Role)
	}
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return nil, validationf(CodeInvalidInput, "vendor code and name are required")
	}

	v := &Vendor{
		Code:      code,
		Name:      name,
		Email:     optionalString(input.Email),
		Phone:     optionalString(input.Phone),
		IsActive:  true,
		CreatedAt: s.clock.Now(),
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertVendor(ctx, v)
	})
	if err != nil {
		return nil, fmt.Errorf("create vendor %q: %w", code, err)
	}
	s.log.Info("vendor created", zap.Int("vendor_id", v.ID), zap.String("code", v.Code))
	return v, nil
}

// ListVendors returns active vendors ordered by code.
func (s *directoryService) ListVendors(ctx context.Context, actor Actor) ([]Vendor, error) {
	if !s.policy.CanSeeVendorData(actor) {
		return nil, forbiddenf(CodeRoleNotPermitted, "role %s cannot list vendors", actor.Role)
	}
	var out []Vendor
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListVendors(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	return out, nil
}

// CreateMaterial registers a material.
func (s *directoryService) CreateMaterial(ctx context.Context, actor Actor, input MaterialInput) (*Material, error) {
	if !actor.Role.IsPurchaseOrAbove() {
		return nil, forbiddenf(CodeRoleNotPermitted, "role %s cannot create materials", actor.Role)
	}
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	name := strings.TrimSpace(input.Name)
	unit := strings.TrimSpace(input.Unit)
	if code == "" || name == "" || unit == "" {
		return nil, validationf(CodeInvalidInput, "material code, name and unit are required")
	}

	m := &Material{Code: code, Name: name, Unit: unit, IsActive: true, CreatedAt: s.clock.Now()}
	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertMaterial(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("create material %q: %w", code, err)
	}
	s.log.Info("material created", zap.Int("material_id", m.ID), zap.String("code", m.Code))
	return m, nil
}

// ListMaterials returns active materials ordered by code.
func (s *directoryService) ListMaterials(ctx context.Context, actor Actor) ([]Material, error) {
	var out []Material
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListMaterials(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	return out, nil
}
