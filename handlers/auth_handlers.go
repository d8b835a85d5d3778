package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"inkwell/api/middleware"
	"inkwell/api/models"
	"inkwell/api/store"
	"inkwell/api/utils"
)

type AuthHandlers struct {
	UserStore  *store.UserStore
	JWT        *utils.JWTManager
	Production bool
}

func NewAuthHandlers(userStore *store.UserStore, jwtManager *utils.JWTManager, production bool) *AuthHandlers {
	return &AuthHandlers{UserStore: userStore, JWT: jwtManager, Production: production}
}

// Signup registers an administrator account. In production this is a
// first-run bootstrap only: once any account exists, further signups are
// refused (the blog has a single operator, maybe two).
func (h *AuthHandlers) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if h.Production {
		count, err := h.UserStore.CountUsers(c.Request.Context())
		if err != nil {
			log.Printf("ERROR: Failed to count users during signup: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
			return
		}
		if count > 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Signup is disabled"})
			return
		}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("ERROR: Failed to hash password for %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user, err := h.UserStore.CreateUser(c.Request.Context(), req.Email, hashedPassword)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
			return
		}
		log.Printf("ERROR: Failed to create user for email %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return
	}

	log.Printf("Admin registered: ID=%d, Email=%s", user.ID, user.Email)
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user_email": user.Email})
}

// Login authenticates an admin and sets the JWT cookie.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := h.UserStore.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		log.Printf("Login failed for email %s: %v", req.Email, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(req.Password)); err != nil {
		log.Printf("Login failed for email %s: password mismatch", req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := h.JWT.GenerateToken(user)
	if err != nil {
		log.Printf("ERROR: Failed to generate JWT for user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetCookie(
		middleware.AdminCookieName,
		tokenString,
		int(24*time.Hour/time.Second),
		"/",
		"",
		h.Production,
		true,
	)

	log.Printf("Admin logged in: ID=%d, Email=%s", user.ID, user.Email)
	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"user_email": user.Email,
	})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetCookie(
		middleware.AdminCookieName,
		"",
		-1,
		"/",
		"",
		h.Production,
		true,
	)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
