package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"inkwell/api/utils"
)

// AdminCookieName holds the admin JWT. Shared with the ingestion filter so
// operator traffic can be excluded from analytics.
const AdminCookieName = "jwt_token"

// AuthRequired guards the dashboard and admin endpoints with a JWT from
// either the admin cookie or an Authorization header.
func AuthRequired(jwtManager *utils.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := AdminClaims(jwtManager, c.Request)
		if err != nil {
			log.Printf("AuthRequired: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or missing token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Next()
	}
}

// AdminClaims extracts and validates the admin identity from a request,
// without aborting. Used both by AuthRequired and by the analytics filter.
func AdminClaims(jwtManager *utils.JWTManager, r *http.Request) (*utils.Claims, error) {
	tokenString := ""
	if cookie, err := r.Cookie(AdminCookieName); err == nil {
		tokenString = cookie.Value
	}
	if tokenString == "" {
		tokenString = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if tokenString == "" {
		return nil, http.ErrNoCookie
	}
	return jwtManager.ValidateToken(tokenString)
}

// IsAdminRequest reports whether a request carries a valid admin token.
func IsAdminRequest(jwtManager *utils.JWTManager, r *http.Request) bool {
	_, err := AdminClaims(jwtManager, r)
	return err == nil
}
