package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/buttermb/menulink/pkg/response"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Context keys for the admin identity extracted from the JWT
const (
	ContextKeyUserID   = "user_id"
	ContextKeyEmail    = "email"
	ContextKeyRole     = "role"
	ContextKeyTenantID = "tenant_id"
)

// JWTConfig holds configuration for JWT middleware
type JWTConfig struct {
	// Secret key for validating JWT tokens
	Secret string
	// SkipPaths is a list of paths that should skip JWT validation
	SkipPaths []string
}

// adminIdentity is what a valid admin token resolves to. Only the user
// id is mandatory; tenant scoping is enforced downstream by handlers
// that require it.
type adminIdentity struct {
	UserID   string
	Email    string
	Role     string
	TenantID string
}

// JWTMiddleware authenticates the admin surface. The customer-facing
// menu routes never go through here; their credential is the menu
// token itself.
func JWTMiddleware(config *JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, path := range config.SkipPaths {
			if c.Request.URL.Path == path {
				c.Next()
				return
			}
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "MISSING_TOKEN", "Authorization header is required")
			return
		}

		tokenString, isBearer := strings.CutPrefix(authHeader, "Bearer ")
		if !isBearer || tokenString == "" {
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid authorization header format")
			return
		}

		identity, err := parseAdminToken(tokenString, config.Secret)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				abortUnauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
				return
			}
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid access token")
			return
		}

		c.Set(ContextKeyUserID, identity.UserID)
		c.Set(ContextKeyEmail, identity.Email)
		c.Set(ContextKeyRole, identity.Role)
		c.Set(ContextKeyTenantID, identity.TenantID)

		c.Next()
	}
}

// parseAdminToken validates the signature and shape of an admin token
func parseAdminToken(tokenString, secret string) (*adminIdentity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, ErrInvalidToken
	}

	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	tenantID, _ := claims["tenant_id"].(string)

	return &adminIdentity{
		UserID:   userID,
		Email:    email,
		Role:     role,
		TenantID: tenantID,
	}, nil
}

func abortUnauthorized(c *gin.Context, code, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(code, msg))
}

// RequireRole gates a route group to the named roles. Runs after
// JWTMiddleware, so a missing role means no authentication happened.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetRole(c)
		if !ok {
			abortUnauthorized(c, "UNAUTHORIZED", "User not authenticated")
			return
		}

		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, response.Error("FORBIDDEN", "Insufficient permissions"))
	}
}

func contextString(c *gin.Context, key string) (string, bool) {
	value, exists := c.Get(key)
	if !exists {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// GetUserID extracts user ID from gin context
func GetUserID(c *gin.Context) (string, bool) {
	return contextString(c, ContextKeyUserID)
}

// GetEmail extracts email from gin context
func GetEmail(c *gin.Context) (string, bool) {
	return contextString(c, ContextKeyEmail)
}

// GetRole extracts role from gin context
func GetRole(c *gin.Context) (string, bool) {
	return contextString(c, ContextKeyRole)
}

// GetTenantID extracts tenant ID from gin context
func GetTenantID(c *gin.Context) (string, bool) {
	return contextString(c, ContextKeyTenantID)
}
