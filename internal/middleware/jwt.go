package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lightningtalk/backend/internal/auth"
	"github.com/lightningtalk/backend/internal/models"
	"github.com/lightningtalk/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
	// ContextIdentity is the key for the verified *models.Identity.
	ContextIdentity = "identity"
)

func bearer(c *gin.Context) (token string, present bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", true
	}
	return parts[1], true
}

func setIdentity(c *gin.Context, id *models.Identity) {
	c.Set(ContextIdentity, id)
	c.Set(ContextUserID, id.UserID)
	c.Set(ContextUserRole, string(id.Role))
	c.Set(ContextUserEmail, id.Email)
}

// JWT returns a middleware that verifies the bearer token and sets the identity in context.
func JWT(verifier auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present := bearer(c)
		if !present {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		if token == "" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		id, err := verifier.Verify(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

// OptionalJWT sets the identity when a valid bearer token is present and otherwise lets the
// request through anonymously. A present but invalid token is rejected.
func OptionalJWT(verifier auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present := bearer(c)
		if !present {
			c.Next()
			return
		}
		id, err := verifier.Verify(token)
		if token == "" || err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

// Identity returns the verified identity, or nil for anonymous requests.
func Identity(c *gin.Context) *models.Identity {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return nil
	}
	id, _ := v.(*models.Identity)
	return id
}
