// seed is a one-shot tool that loads demo reference data into an empty
// database: factories, one user per role, vendors and materials. With
// -tokens it also prints a signed bearer token per seeded user for local use.
//
// Usage: go run ./cmd/seed [-tokens]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"factory-procurement/internal/config"
	"factory-procurement/internal/core"
	"factory-procurement/internal/db"
	"factory-procurement/internal/logging"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func main() {
	printTokens := flag.Bool("tokens", false, "print a 24h bearer token for every seeded user")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	store := db.NewStore(pool)
	users, err := seed(ctx, store, logger)
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			logger.Fatal("database already holds seed data", zap.Error(err))
		}
		logger.Fatal("seed", zap.Error(err))
	}
	logger.Info("seed data loaded", zap.Int("users", len(users)))

	if !*printTokens {
		return
	}
	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET is required to print tokens")
	}
	for _, u := range users {
		token, err := signToken(cfg.JWT.Secret, u.ID, 24*time.Hour)
		if err != nil {
			logger.Fatal("sign token", zap.Error(err))
		}
		fmt.Printf("%-16s %-14s %s\n", u.Username, u.Role, token)
	}
}

// seed bootstraps the first ADMIN directly through the store and creates the
// rest through the directory service as that admin.
func seed(ctx context.Context, store core.Store, logger *zap.Logger) ([]*core.User, error) {
	admin := &core.User{
		Username:  "admin",
		Email:     "admin@procurement.local",
		Role:      core.RoleAdmin,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := store.InTx(ctx, func(tx core.Tx) error { return tx.InsertUser(ctx, admin) }); err != nil {
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	dir := core.NewDirectoryService(store, core.Options{Logger: logger})
	as := admin.Actor()

	var factoryIDs []int
	for _, in := range []core.FactoryInput{
		{Code: "PN", Name: "Pune Plant"},
		{Code: "CH", Name: "Chennai Plant"},
	} {
		f, err := dir.CreateFactory(ctx, as, in)
		if err != nil {
			return nil, err
		}
		factoryIDs = append(factoryIDs, f.ID)
	}

	users := []*core.User{admin}
	for _, in := range []core.UserInput{
		{Username: "pune.stores", Email: "pune.stores@procurement.local", Role: core.RoleFactoryUser, FactoryIDs: factoryIDs[:1]},
		{Username: "chennai.stores", Email: "chennai.stores@procurement.local", Role: core.RoleFactoryUser, FactoryIDs: factoryIDs[1:]},
		{Username: "buyer", Email: "buyer@procurement.local", Role: core.RolePurchaseTeam},
		{Username: "plant.head", Email: "plant.head@procurement.local", Role: core.RoleManagement},
	} {
		u, err := dir.CreateUser(ctx, as, in)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	for _, in := range []core.VendorInput{
		{Code: "V-STEEL", Name: "Deccan Steel Traders", Email: "sales@deccansteel.example"},
		{Code: "V-BEAR", Name: "Coastal Bearings", Phone: "+91-44-5550100"},
	} {
		if _, err := dir.CreateVendor(ctx, as, in); err != nil {
			return nil, err
		}
	}
	for _, in := range []core.MaterialInput{
		{Code: "MS-PLATE-6", Name: "MS Plate 6mm", Unit: "KG"},
		{Code: "BRG-6204", Name: "Ball Bearing 6204", Unit: "NOS"},
		{Code: "OIL-68", Name: "Hydraulic Oil ISO 68", Unit: "LTR"},
	} {
		if _, err := dir.CreateMaterial(ctx, as, in); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func signToken(secret string, userID int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
