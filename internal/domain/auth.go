package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — клеймы операторского токена. Токены выпускает внешний
// IdP; консоль только валидирует подпись RS256.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "approvals.decide": true, "sagas.read": true
	jwt.RegisteredClaims
}
