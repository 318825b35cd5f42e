package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// tenantFromContext resolves the tenant scope for a request. Claims win over
// the query parameter so an operator can never act across tenants.
func tenantFromContext(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil && claims.TenantID != "" {
		return claims.TenantID
	}
	return c.Query("tenantId")
}
