// internal/middleware/rate_limit.go
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc derives the bucket key for a request. Uploads are limited per
// authenticated user so applicants behind a shared NAT do not starve each
// other; anonymous traffic falls back to the client IP.
type keyFunc func(*gin.Context) string

func byClientIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

func byUser(c *gin.Context) string {
	if id, ok := CurrentUserID(c); ok {
		return "user:" + id.String()
	}
	return byClientIP(c)
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	mtx     sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	key     keyFunc
	message string
}

func NewRateLimiter(r rate.Limit, burst int, key keyFunc, message string) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    r,
		burst:   burst,
		key:     key,
		message: message,
	}

	go rl.evictStale()

	return rl
}

// evictStale drops buckets idle for longer than three minutes.
func (rl *RateLimiter) evictStale() {
	for {
		time.Sleep(time.Minute)
		rl.mtx.Lock()
		for key, b := range rl.buckets {
			if time.Since(b.lastSeen) > 3*time.Minute {
				delete(rl.buckets, key)
			}
		}
		rl.mtx.Unlock()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mtx.Lock()
	defer rl.mtx.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()

	return b.limiter.Allow()
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(rl.key(c)) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": rl.message,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

var (
	// 20 requests per second per IP across the API.
	generalLimiter = NewRateLimiter(rate.Every(time.Second), 20, byClientIP,
		"Too many requests. Please slow down.")
	// 5 auth attempts per minute per IP.
	authLimiter = NewRateLimiter(rate.Every(time.Minute), 5, byClientIP,
		"Too many sign-in attempts. Please try again later.")
	// 15 uploads per minute per applicant.
	uploadLimiter = NewRateLimiter(rate.Every(time.Minute), 15, byUser,
		"Upload limit reached. Please wait before sending more files.")
)

func GeneralRateLimit() gin.HandlerFunc {
	return generalLimiter.Middleware()
}

func AuthRateLimit() gin.HandlerFunc {
	return authLimiter.Middleware()
}

// UploadRateLimit must run after AuthRequired so the user identity is set.
func UploadRateLimit() gin.HandlerFunc {
	return uploadLimiter.Middleware()
}
