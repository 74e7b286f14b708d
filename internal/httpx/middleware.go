package httpx

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("rid", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		rid, _ := c.Get("rid")
		log.Printf("[http] rid=%v %s %s status=%d dur=%s",
			rid, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// UserID requires the authenticated user id injected by the auth layer
// upstream. Session issuance lives outside this service.
func UserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader("X-User-ID")
		if uid == "" {
			c.AbortWithStatusJSON(401, gin.H{"message": "authentication required"})
			return
		}
		c.Set("uid", uid)
		c.Next()
	}
}

// AdminOnly requires the admin role asserted by the auth layer upstream.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-User-Role") != "admin" {
			c.AbortWithStatusJSON(403, gin.H{"message": "admin access required"})
			return
		}
		c.Next()
	}
}

// User returns the authenticated user id set by UserID.
func User(c *gin.Context) string {
	uid, _ := c.Get("uid")
	s, _ := uid.(string)
	return s
}
