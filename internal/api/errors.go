package api

import (
	"errors"

	"github.com/edgemesh/coordinator/internal/apierrors"
	"github.com/gin-gonic/gin"
)

// respondError translates a store/lifecycle error into the HTTP status
// spec §7's table names, falling back to 500 for anything untyped.
func respondError(c *gin.Context, err error) {
	var apiErr *apierrors.Error
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.HTTPStatus(), gin.H{"error": apiErr.Message, "kind": apiErr.Kind})
		return
	}
	c.JSON(500, gin.H{"error": "internal error"})
}
