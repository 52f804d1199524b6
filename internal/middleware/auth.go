// internal/middleware/auth.go
package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/drivelend/onboarding-backend/internal/utils"
)

// RefreshedTokenHeader carries a newly minted access token back to the
// client when an expired token was transparently refreshed.
const RefreshedTokenHeader = "X-Refreshed-Access-Token"

// AuthRequired validates the bearer token. An expired access token gets one
// transparent refresh attempt using the refresh token the client sends
// alongside it; when that fails the request is rejected with the
// auth-expired code, which signs the client out.
func AuthRequired(accessTTLHours int) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.UnauthorizedResponse(c, "Authentication required.")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.UnauthorizedResponse(c, "Invalid authorization header.")
			c.Abort()
			return
		}

		claims, err := utils.ValidateJWT(parts[1])
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) && claims != nil {
				if refreshed := tryRefresh(c, claims, accessTTLHours); refreshed {
					return
				}
			}
			utils.ErrorResponse(c, 401, "AUTH_EXPIRED", "Your session has expired. Please sign in again.", nil)
			c.Abort()
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// tryRefresh performs the single transparent refresh-and-continue. The new
// access token travels back in a response header so the client can replace
// its stored copy.
func tryRefresh(c *gin.Context, expired *utils.JWTClaims, accessTTLHours int) bool {
	refreshToken := c.GetHeader("X-Refresh-Token")
	if refreshToken == "" {
		return false
	}

	subject, err := utils.ValidateRefreshToken(refreshToken)
	if err != nil || subject != expired.UserID {
		return false
	}

	userID, err := uuid.Parse(subject)
	if err != nil {
		return false
	}

	access, err := utils.GenerateJWT(userID, expired.Email, accessTTLHours)
	if err != nil {
		return false
	}

	c.Header(RefreshedTokenHeader, access)
	setIdentity(c, expired)
	c.Next()
	return true
}

func setIdentity(c *gin.Context, claims *utils.JWTClaims) {
	c.Set("user_id", claims.UserID)
	c.Set("email", claims.Email)
}

// CurrentUserID extracts the authenticated user's id from the context.
func CurrentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, false
	}
	str, ok := raw.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
