package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vaultdrop/backend/internal/middleware"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/internal/services"
	"github.com/vaultdrop/backend/pkg/logger"
	"github.com/vaultdrop/backend/pkg/utils"
	"gorm.io/gorm"
)

type AuthHandler struct {
	DB         *gorm.DB
	Audit      *services.AuditService
	RefreshTTL time.Duration
}

func NewAuthHandler(db *gorm.DB, audit *services.AuditService, refreshTTL time.Duration) *AuthHandler {
	return &AuthHandler{DB: db, Audit: audit, RefreshTTL: refreshTTL}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" || req.Email == "" || len(req.Password) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "username, email and a password of at least 8 characters are required")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed processing password")
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         models.UserRoleUser,
	}

	if err := h.DB.Create(&user).Error; err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint") {
			return serviceError(c, services.ErrDuplicateIdentity)
		}
		logger.Error("register_failed", err, map[string]interface{}{"username": req.Username})
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	accessToken, refreshToken, err := issueTokenPair(h.DB, &user, h.RefreshTTL)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed issuing tokens")
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &user.ID,
		Action:       services.AuditUserRegistered,
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"user":         user,
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login checks the password and, when MFA is enabled, withholds the token
// pair behind a short-lived challenge token that the mfa login endpoint
// redeems.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var user models.User
	err := h.DB.First(&user, "username = ?", strings.TrimSpace(req.Username)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !utils.CheckPassword(req.Password, user.PasswordHash)) {
		h.Audit.Record(services.AuditEntry{
			Action:       services.AuditUserLoginFailed,
			ResourceType: "user",
			Details:      map[string]interface{}{"username": req.Username},
			IPAddress:    c.IP(),
		})
		return serviceError(c, services.ErrInvalidCredentials)
	}
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading user")
	}

	if user.MFAEnabled {
		mfaToken, err := utils.GenerateMFAToken(user.ID, user.Username)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed issuing mfa challenge")
		}
		return utils.Success(c, fiber.StatusOK, fiber.Map{
			"mfaRequired": true,
			"mfaToken":    mfaToken,
		})
	}

	accessToken, refreshToken, err := issueTokenPair(h.DB, &user, h.RefreshTTL)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed issuing tokens")
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &user.ID,
		Action:       services.AuditUserLogin,
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"user":         user,
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh rotates the refresh token: the presented token is invalidated and
// a new pair is issued.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return utils.Error(c, fiber.StatusBadRequest, "refreshToken is required")
	}

	var row models.RefreshToken
	err := h.DB.Preload("User").First(&row, "token = ?", req.RefreshToken).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return serviceError(c, services.ErrInvalidToken)
	}
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading token")
	}

	if time.Now().After(row.ExpiresAt) {
		h.DB.Delete(&row)
		return serviceError(c, services.ErrInvalidToken)
	}

	if err := h.DB.Delete(&row).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed rotating token")
	}

	accessToken, refreshToken, err := issueTokenPair(h.DB, &row.User, h.RefreshTTL)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed issuing tokens")
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &row.UserID,
		Action:       services.AuditTokenRefreshed,
		ResourceType: "user",
		ResourceID:   &row.UserID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req logoutRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return utils.Error(c, fiber.StatusBadRequest, "refreshToken is required")
	}

	h.DB.Where("token = ? AND user_id = ?", req.RefreshToken, currentUser.ID).
		Delete(&models.RefreshToken{})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"loggedOut": true})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, currentUser)
}

type updateMeRequest struct {
	Email *string `json:"email"`
}

func (h *AuthHandler) UpdateMe(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req updateMeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email == "" {
			return utils.Error(c, fiber.StatusBadRequest, "email must not be empty")
		}
		// Changing address drops verification until re-proven.
		err := h.DB.Model(currentUser).Updates(map[string]interface{}{
			"email":          email,
			"email_verified": false,
		}).Error
		if err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint") {
				return serviceError(c, services.ErrDuplicateIdentity)
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed updating profile")
		}
		currentUser.Email = email
		currentUser.EmailVerified = false
	}

	return utils.Success(c, fiber.StatusOK, currentUser)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword rotates the credential and revokes every outstanding
// refresh token so stolen sessions die with the old password.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if !utils.CheckPassword(req.CurrentPassword, currentUser.PasswordHash) {
		return utils.Error(c, fiber.StatusUnauthorized, "current password is incorrect")
	}
	if len(req.NewPassword) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed processing password")
	}

	if err := h.DB.Model(currentUser).Update("password_hash", hash).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating password")
	}

	h.DB.Where("user_id = ?", currentUser.ID).Delete(&models.RefreshToken{})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"updated": true})
}
