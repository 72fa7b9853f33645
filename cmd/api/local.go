package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/config"
	"github.com/imrishuroy/storefront-orderflow/internal/middleware"
)

const devTokenTTL = 24 * time.Hour

type productWriter interface {
	Put(ctx context.Context, p catalog.Product) error
}

// bootstrapLocal prepares a RUN_LOCAL instance: it seeds the catalog and logs
// session cookies so the order routes can be called without the auth service.
func bootstrapLocal(ctx context.Context, cfg *config.Config, products productWriter, logger *zap.Logger) {
	if cfg.SeedProductsFile != "" {
		n, err := seedProducts(ctx, cfg.SeedProductsFile, products)
		if err != nil {
			logger.Fatal("failed to seed products", zap.String("file", cfg.SeedProductsFile), zap.Error(err))
		}
		logger.Info("seeded products", zap.Int("count", n))
	}

	tokens, err := devTokens([]byte(cfg.JWTSecret), cfg.DevUserID, cfg.SellerEmail, time.Now())
	if err != nil {
		logger.Fatal("failed to sign dev tokens", zap.Error(err))
	}
	for cookie, tok := range tokens {
		logger.Info("dev session", zap.String("cookie", cookie), zap.String("token", tok))
	}
}

// seedProducts writes every product in the JSON array at path.
func seedProducts(ctx context.Context, path string, w productWriter) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var products []catalog.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return 0, fmt.Errorf("decode seed file: %w", err)
	}
	for i, p := range products {
		if p.ProductID == "" {
			return i, fmt.Errorf("product %d has no _id", i)
		}
		if err := w.Put(ctx, p); err != nil {
			return i, err
		}
	}
	return len(products), nil
}

// devTokens signs a user and a seller token keyed by cookie name. Empty
// inputs are skipped.
func devTokens(secret []byte, userID, sellerEmail string, now time.Time) (map[string]string, error) {
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(devTokenTTL)),
	}
	out := map[string]string{}
	if userID != "" {
		tok, err := middleware.SignUserToken(secret, userID, claims)
		if err != nil {
			return nil, err
		}
		out[middleware.UserCookie] = tok
	}
	if sellerEmail != "" {
		tok, err := middleware.SignSellerToken(secret, sellerEmail, claims)
		if err != nil {
			return nil, err
		}
		out[middleware.SellerCookie] = tok
	}
	return out, nil
}
