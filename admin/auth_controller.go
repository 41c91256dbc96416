package admin

import (
	"log"
	"net/http"
	"time"

	"stock_data_backend/middleware"
	"stock_data_backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const tokenTTL = 24 * time.Hour

// AuthController handles admin authentication
type AuthController struct {
	db        *gorm.DB
	jwtSecret string
}

// NewAuthController creates a new auth controller
func NewAuthController(db *gorm.DB, jwtSecret string) *AuthController {
	return &AuthController{db: db, jwtSecret: jwtSecret}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies credentials and issues an admin API token
// POST /admin/login
func (ac *AuthController) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	var admin models.AdminUser
	if err := ac.db.Where("username = ? AND is_active = ?", req.Username, true).First(&admin).Error; err != nil {
		log.Printf("Admin login failed for user %s: user not found", req.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	if !admin.CheckPassword(req.Password) {
		log.Printf("Admin login failed for user %s: invalid password", req.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := middleware.IssueToken(ac.jwtSecret, admin.Username, admin.Role, tokenTTL)
	if err != nil {
		log.Printf("Failed to issue token for %s: %v", admin.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	now := time.Now()
	ac.db.Model(&admin).Update("last_login_at", now)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": now.Add(tokenTTL).Format(time.RFC3339),
		"role":       admin.Role,
	})
}
