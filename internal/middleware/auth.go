package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by the auth middleware.
const (
	ContextUserID      = "userID"
	ContextSellerEmail = "sellerEmail"
)

// Cookie names issued by the storefront's login endpoints.
const (
	UserCookie   = "token"
	SellerCookie = "sellerToken"
)

// UserClaims is the payload of the customer session token.
type UserClaims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// SellerClaims is the payload of the seller session token.
type SellerClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AuthUser requires a valid customer token and stores its id under
// ContextUserID. The token is read from the "token" cookie, falling back to
// an Authorization bearer header.
func AuthUser(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		var claims UserClaims
		if err := parseToken(c, UserCookie, secret, &claims); err != nil || claims.ID == "" {
			unauthorized(c)
			return
		}
		c.Set(ContextUserID, claims.ID)
		c.Next()
	}
}

// AuthSeller requires a seller token whose email matches sellerEmail.
func AuthSeller(secret []byte, sellerEmail string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var claims SellerClaims
		if err := parseToken(c, SellerCookie, secret, &claims); err != nil ||
			sellerEmail == "" || !strings.EqualFold(claims.Email, sellerEmail) {
			unauthorized(c)
			return
		}
		c.Set(ContextSellerEmail, claims.Email)
		c.Next()
	}
}

// SignUserToken issues a customer token. Login lives in another service, so
// this side only signs tokens for local runs.
func SignUserToken(secret []byte, userID string, claims jwt.RegisteredClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, UserClaims{ID: userID, RegisteredClaims: claims}).SignedString(secret)
}

// SignSellerToken issues a seller token.
func SignSellerToken(secret []byte, email string, claims jwt.RegisteredClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, SellerClaims{Email: email, RegisteredClaims: claims}).SignedString(secret)
}

func parseToken(c *gin.Context, cookie string, secret []byte, claims jwt.Claims) error {
	raw, err := c.Cookie(cookie)
	if err != nil || raw == "" {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			return errors.New("no token")
		}
		raw = strings.TrimPrefix(h, "Bearer ")
	}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	return nil
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Not Authorized"})
}
