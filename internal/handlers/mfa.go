package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vaultdrop/backend/internal/middleware"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/internal/services"
	"github.com/vaultdrop/backend/pkg/utils"
	"gorm.io/gorm"
)

type MFAHandler struct {
	DB         *gorm.DB
	MFA        *services.MFAService
	Audit      *services.AuditService
	RefreshTTL time.Duration
}

func NewMFAHandler(db *gorm.DB, mfa *services.MFAService, audit *services.AuditService, refreshTTL time.Duration) *MFAHandler {
	return &MFAHandler{DB: db, MFA: mfa, Audit: audit, RefreshTTL: refreshTTL}
}

func (h *MFAHandler) Setup(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	secret, otpauthURL, err := h.MFA.BeginEnrollment(c.Context(), currentUser)
	if err != nil {
		return serviceError(c, err)
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       services.AuditMFAEnrollStarted,
		ResourceType: "user",
		ResourceID:   &currentUser.ID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"secret":     secret,
		"otpauthUrl": otpauthURL,
	})
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

func (h *MFAHandler) Confirm(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req mfaCodeRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	if err := h.MFA.ConfirmEnrollment(c.Context(), currentUser, req.Code); err != nil {
		return serviceError(c, err)
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       services.AuditMFAEnabled,
		ResourceType: "user",
		ResourceID:   &currentUser.ID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"mfaEnabled": true})
}

// Verify re-authenticates an already logged-in user with a TOTP code and
// hands back a fresh token pair.
func (h *MFAHandler) Verify(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req mfaCodeRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	if err := h.MFA.Verify(c.Context(), currentUser, req.Code); err != nil {
		h.Audit.Record(services.AuditEntry{
			UserID:       &currentUser.ID,
			Action:       services.AuditMFAFailed,
			ResourceType: "user",
			ResourceID:   &currentUser.ID,
			IPAddress:    c.IP(),
		})
		return serviceError(c, err)
	}

	accessToken, refreshToken, err := issueTokenPair(h.DB, currentUser, h.RefreshTTL)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed issuing tokens")
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       services.AuditMFAVerified,
		ResourceType: "user",
		ResourceID:   &currentUser.ID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

type mfaLoginRequest struct {
	MFAToken string `json:"mfaToken"`
	Code     string `json:"code"`
}

// Login redeems the challenge token from the password step. The challenge
// is single-use; replaying it fails even within its five-minute window.
func (h *MFAHandler) Login(c *fiber.Ctx) error {
	var req mfaLoginRequest
	if err := c.BodyParser(&req); err != nil || req.MFAToken == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "mfaToken and code are required")
	}

	claims, err := utils.ValidateMFAToken(req.MFAToken)
	if err != nil {
		return serviceError(c, services.ErrInvalidToken)
	}
	if !utils.IsJTIValid(claims.JTI) {
		return serviceError(c, services.ErrInvalidToken)
	}

	var user models.User
	dbErr := h.DB.First(&user, "id = ?", claims.UserID).Error
	if errors.Is(dbErr, gorm.ErrRecordNotFound) {
		return serviceError(c, services.ErrInvalidToken)
	}
	if dbErr != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading user")
	}

	if err := h.MFA.Verify(c.Context(), &user, req.Code); err != nil {
		h.Audit.Record(services.AuditEntry{
			UserID:       &user.ID,
			Action:       services.AuditMFAFailed,
			ResourceType: "user",
			ResourceID:   &user.ID,
			IPAddress:    c.IP(),
		})
		return serviceError(c, err)
	}

	utils.ConsumeJTI(claims.JTI)

	accessToken, refreshToken, err := issueTokenPair(h.DB, &user, h.RefreshTTL)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed issuing tokens")
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &user.ID,
		Action:       services.AuditUserLogin,
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details:      map[string]interface{}{"mfa": true},
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"user":         user,
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

func (h *MFAHandler) Disable(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req mfaCodeRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	if err := h.MFA.Disable(c.Context(), currentUser, req.Code); err != nil {
		return serviceError(c, err)
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       services.AuditMFADisabled,
		ResourceType: "user",
		ResourceID:   &currentUser.ID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"mfaEnabled": false})
}

func (h *MFAHandler) Status(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"mfaEnabled": currentUser.MFAEnabled})
}
