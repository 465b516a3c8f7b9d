package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore keeps scores and integrity records out of browser and proxy caches.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
