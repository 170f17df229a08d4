package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/internal/services"
	"github.com/vaultdrop/backend/pkg/utils"
	"gorm.io/gorm"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func isValidSharePermission(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "view", "download":
		return true
	default:
		return false
	}
}

// refreshTokenBytes gives 256-bit opaque refresh tokens.
const refreshTokenBytes = 32

// issueTokenPair mints a short-lived access token plus a persisted opaque
// refresh token for the user.
func issueTokenPair(db *gorm.DB, user *models.User, refreshTTL time.Duration) (accessToken, refreshToken string, err error) {
	accessToken, err = utils.GenerateToken(user)
	if err != nil {
		return "", "", err
	}

	refreshToken, err = utils.RandomHex(refreshTokenBytes)
	if err != nil {
		return "", "", err
	}

	row := models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(refreshTTL),
	}
	if err := db.Create(&row).Error; err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

// denyReason translates an access denial error back to its taxonomy reason
// for the audit trail. Non-denial errors map to the empty string.
func denyReason(err error) string {
	switch {
	case errors.Is(err, services.ErrShareExpired):
		return string(services.DenyExpired)
	case errors.Is(err, services.ErrPermissionMismatch):
		return string(services.DenyPermissionMismatch)
	case errors.Is(err, services.ErrNotFound):
		return string(services.DenyNotShared)
	default:
		return ""
	}
}

// serviceError maps the service error taxonomy onto HTTP responses.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return utils.Error(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, services.ErrUnknownRecipient):
		return utils.Error(c, fiber.StatusNotFound, "recipient not found")
	case errors.Is(err, services.ErrShareExpired):
		return utils.Error(c, fiber.StatusGone, "share has expired")
	case errors.Is(err, services.ErrPermissionMismatch):
		return utils.Error(c, fiber.StatusForbidden, "share does not grant this action")
	case errors.Is(err, services.ErrForbidden):
		return utils.Error(c, fiber.StatusForbidden, "operation not permitted")
	case errors.Is(err, services.ErrDuplicateIdentity):
		return utils.Error(c, fiber.StatusConflict, "username or email already taken")
	case errors.Is(err, services.ErrInvalidCredentials):
		return utils.Error(c, fiber.StatusUnauthorized, "invalid username or password")
	case errors.Is(err, services.ErrInvalidToken):
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, services.ErrInvalidCode):
		return utils.Error(c, fiber.StatusBadRequest, "invalid verification code")
	case errors.Is(err, services.ErrMFANotConfigured),
		errors.Is(err, services.ErrAlreadyEnabled),
		errors.Is(err, services.ErrSecretNotGenerated):
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	default:
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
}
