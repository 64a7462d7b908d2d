package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ContextKeyClaims = "operator_claims"

// Middleware rejects requests without a valid bearer token
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   ErrUnauthorized.Code,
				"message": "missing authorization header",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   ErrUnauthorized.Code,
				"message": "invalid authorization header format",
			})
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			authErr, ok := err.(AuthError)
			if !ok {
				authErr = ErrInvalidToken
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireOperator allows only operator-role tokens through. With auth off
// there are no claims and every caller is treated as an operator.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims != nil && !claims.CanOperate() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   ErrForbidden.Code,
				"message": "operator role required",
			})
			return
		}
		c.Next()
	}
}

// GetClaims extracts the operator claims from the Gin context
func GetClaims(c *gin.Context) *OperatorClaims {
	if claims, exists := c.Get(ContextKeyClaims); exists {
		return claims.(*OperatorClaims)
	}
	return nil
}

// GetOperator returns the calling operator's name, or "anonymous"
func GetOperator(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return claims.Operator
	}
	return "anonymous"
}
