package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ServiceRole is the role claim required on service tokens
const ServiceRole = "service_role"

// ServiceClaims are the claims of a service token
type ServiceClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RequireServiceRole accepts HS256 bearer tokens carrying role=service_role.
// With an empty secret every request passes.
func RequireServiceRole(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if secret == "" {
			return next
		}
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return writeError(c, http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.SplitN(authHeader, " ", 2)
			if len(tokenParts) != 2 || !strings.EqualFold(tokenParts[0], "Bearer") {
				return writeError(c, http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := ParseServiceToken(secret, tokenParts[1])
			if err != nil {
				return writeError(c, http.StatusUnauthorized, "Invalid or expired token")
			}
			if claims.Role != ServiceRole {
				return writeError(c, http.StatusForbidden, "service role required")
			}
			return next(c)
		}
	}
}

// ParseServiceToken validates a token signed with secret
func ParseServiceToken(secret, tokenString string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// NewServiceToken signs a service token valid for ttl; zero ttl never expires
func NewServiceToken(secret string, ttl time.Duration) (string, error) {
	claims := ServiceClaims{
		Role: ServiceRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "inbox-bridge",
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
