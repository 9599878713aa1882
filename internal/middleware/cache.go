package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/watchplan-api/pkg/response"
)

const (
	requestStartKey = "request_start"
	cacheHitKey     = "cache_hit"
	processingKey   = "processing_time_ms"
)

// WithResponseMeta prepares per-request response metadata.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		c.Next()
	}
}

// SetCacheHit records whether the response was served from cache, along with the time spent so far.
func SetCacheHit(c *gin.Context, hit bool) {
	response.SetMeta(c, cacheHitKey, hit)
	if v, ok := c.Get(requestStartKey); ok {
		if start, ok := v.(time.Time); ok {
			response.SetMeta(c, processingKey, time.Since(start).Milliseconds())
		}
	}
}
