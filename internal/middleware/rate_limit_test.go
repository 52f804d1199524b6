// internal/middleware/rate_limit_test.go
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func limitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/upload",
		func(c *gin.Context) {
			if id := c.GetHeader("X-Test-User"); id != "" {
				c.Set("user_id", id)
			}
			c.Next()
		},
		rl.Middleware(),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)
	return r
}

func hit(r *gin.Engine, userID string) int {
	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestUploadLimitIsPerUserNotPerIP(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Minute), 2, byUser, "Upload limit reached.")
	router := limitedRouter(rl)

	userA := uuid.New().String()
	userB := uuid.New().String()

	// Both requests share the same client IP; buckets split by user.
	assert.Equal(t, http.StatusOK, hit(router, userA))
	assert.Equal(t, http.StatusOK, hit(router, userA))
	assert.Equal(t, http.StatusTooManyRequests, hit(router, userA))

	assert.Equal(t, http.StatusOK, hit(router, userB))
}

func TestUploadLimitFallsBackToIPForAnonymousRequests(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Minute), 1, byUser, "Upload limit reached.")
	router := limitedRouter(rl)

	assert.Equal(t, http.StatusOK, hit(router, ""))
	assert.Equal(t, http.StatusTooManyRequests, hit(router, ""))
}

func TestExhaustedBucketRespondsWithTheConfiguredMessage(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Minute), 1, byClientIP, "Too many requests. Please slow down.")
	router := limitedRouter(rl)

	assert.Equal(t, http.StatusOK, hit(router, ""))

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Too many requests")
}
