package core

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

type directoryService struct {
	store  Store
	policy AccessPolicy
	log    *zap.Logger
	clock  Clock
}

// NewDirectoryService constructs a DirectoryService backed by store.
func NewDirectoryService(store Store, opts Options) DirectoryService {
	s := &directoryService{store: store, log: opts.Logger, clock: opts.Clock}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	return s
}

func requireAdmin(actor Actor, action string) error {
	if actor.Role != RoleAdmin {
		return forbiddenf(CodeRoleNotPermitted, "role %s cannot %s", actor.Role, action)
	}
	return nil
}

// normalizeFactoryCode upper-cases code and checks it is two letters or digits.
func normalizeFactoryCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return "", validationf(CodeInvalidInput, "factory code must be exactly 2 characters")
	}
	for _, r := range code {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", validationf(CodeInvalidInput, "factory code must contain only letters and digits")
		}
	}
	return code, nil
}

// CreateFactory registers a factory.
func (s *directoryService) CreateFactory(ctx context.Context, actor Actor, input FactoryInput) (*Factory, error) {
	if err := requireAdmin(actor, "create factories"); err != nil {
		return nil, err
	}
	code, err := normalizeFactoryCode(input.Code)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationf(CodeInvalidInput, "factory name is required")
	}

	f := &Factory{Code: code, Name: name, IsActive: true, CreatedAt: s.clock.Now()}
	err = s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertFactory(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("create factory %q: %w", code, err)
	}
	s.log.Info("factory created", zap.Int("factory_id", f.ID), zap.String("code", f.Code))
	return f, nil
}

// ListFactories returns all factories, or only the assigned ones for a
// FACTORY_USER.
func (s *directoryService) ListFactories(ctx context.Context, actor Actor) ([]Factory, error) {
	scope := s.policy.Scope(actor)
	if !scope.All && len(scope.IDs) == 0 {
		return []Factory{}, nil
	}
	var ids []int
	if !scope.All {
		ids = scope.IDs
	}
	var out []Factory
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListFactories(ctx, ids)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list factories: %w", err)
	}
	return out, nil
}

// SetFactoryActive activates or deactivates a factory.
func (s *directoryService) SetFactoryActive(ctx context.Context, actor Actor, factoryID int, active bool) (*Factory, error) {
	if err := requireAdmin(actor, "change factories"); err != nil {
		return nil, err
	}
	var f *Factory
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		f, err = tx.GetFactory(ctx, factoryID)
		if err != nil {
			return err
		}
		if f.IsActive == active {
			return nil
		}
		f.IsActive = active
		return tx.UpdateFactory(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("factory activation changed", zap.Int("factory_id", factoryID), zap.Bool("active", active))
	return f, nil
}

// CreateUser registers a user.
func (s *directoryService) CreateUser(ctx context.Context, actor Actor, input UserInput) (*User, error) {
	if err := requireAdmin(actor, "create users"); err != nil {
		return nil, err
	}
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, validationf(CodeInvalidInput, "username is required")
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, validationf(CodeInvalidInput, "email %q is not valid", input.Email)
	}
	if !input.Role.IsValid() {
		return nil, validationf(CodeInvalidInput, "unknown role %q", input.Role)
	}

	u := &User{
		Username:  username,
		Email:     email,
		Role:      input.Role,
		IsActive:  true,
		CreatedAt: s.clock.Now(),
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		if input.Role == RoleFactoryUser {
			for _, id := range input.FactoryIDs {
				if _, err := tx.GetFactory(ctx, id); err != nil {
					return err
				}
			}
			u.FactoryIDs = append([]int(nil), input.FactoryIDs...)
		}
		return tx.InsertUser(ctx, u)
	})
	if err != nil {
		return nil, fmt.Errorf("create user %q: %w", username, err)
	}
	s.log.Info("user created", zap.Int("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

// GetUser returns a user by ID.
func (s *directoryService) GetUser(ctx context.Context, actor Actor, userID int) (*User, error) {
	if actor.UserID != userID {
		if err := requireAdmin(actor, "read other users"); err != nil {
			return nil, err
		}
	}
	var u *User
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		u, err = tx.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SetUserActive activates or deactivates a user.
func (s *directoryService) SetUserActive(ctx context.Context, actor Actor, userID int, active bool) (*User, error) {
	if err := requireAdmin(actor, "change users"); err != nil {
		return nil, err
	}
	var u *User
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		u, err = tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.IsActive == active {
			return nil
		}
		u.IsActive = active
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user activation changed", zap.Int("user_id", userID), zap.Bool("active", active))
	return u, nil
}
