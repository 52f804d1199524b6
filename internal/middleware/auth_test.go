// internal/middleware/auth_test.go
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivelend/onboarding-backend/internal/utils"
)

func newAuthTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", AuthRequired(24), func(c *gin.Context) {
		userID, _ := CurrentUserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID.String()})
	})
	return r
}

func doRequest(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/protected", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequiredAcceptsValidToken(t *testing.T) {
	r := newAuthTestRouter()
	userID := uuid.New()
	token, err := utils.GenerateJWT(userID, "ada@example.com", 1)
	require.NoError(t, err)

	w := doRequest(r, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
	assert.Empty(t, w.Header().Get(RefreshedTokenHeader))
}

func TestAuthRequiredRejectsMissingOrMalformedHeader(t *testing.T) {
	r := newAuthTestRouter()

	assert.Equal(t, http.StatusUnauthorized, doRequest(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, map[string]string{"Authorization": "nope"}).Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, map[string]string{"Authorization": "Bearer garbage"}).Code)
}

func TestExpiredTokenWithoutRefreshSignsOut(t *testing.T) {
	r := newAuthTestRouter()
	token, err := utils.GenerateJWT(uuid.New(), "ada@example.com", -1)
	require.NoError(t, err)

	w := doRequest(r, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_EXPIRED")
}

func TestExpiredTokenIsTransparentlyRefreshedOnce(t *testing.T) {
	r := newAuthTestRouter()
	userID := uuid.New()

	expired, err := utils.GenerateJWT(userID, "ada@example.com", -1)
	require.NoError(t, err)
	refresh, err := utils.GenerateRefreshToken(userID, 24)
	require.NoError(t, err)

	w := doRequest(r, map[string]string{
		"Authorization":   "Bearer " + expired,
		"X-Refresh-Token": refresh,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())

	// The replacement access token comes back in the response header and is
	// immediately usable.
	minted := w.Header().Get(RefreshedTokenHeader)
	require.NotEmpty(t, minted)
	claims, err := utils.ValidateJWT(minted)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
}

func TestRefreshTokenForAnotherUserIsRejected(t *testing.T) {
	r := newAuthTestRouter()

	expired, err := utils.GenerateJWT(uuid.New(), "ada@example.com", -1)
	require.NoError(t, err)
	refresh, err := utils.GenerateRefreshToken(uuid.New(), 24)
	require.NoError(t, err)

	w := doRequest(r, map[string]string{
		"Authorization":   "Bearer " + expired,
		"X-Refresh-Token": refresh,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
