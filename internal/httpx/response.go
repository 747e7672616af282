package httpx

import (
	"github.com/gin-gonic/gin"

	"github.com/ageniuscoder/codecollab/backend/internal/apperr"
)

func OK(c *gin.Context, v any) {
	c.JSON(200, v)
}

func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

// FromError writes err using the status and code of its apperr sentinel.
func FromError(c *gin.Context, err error) {
	c.JSON(apperr.Status(err), gin.H{"error": err.Error(), "code": apperr.Code(err)})
}
