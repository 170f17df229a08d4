package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/vaultdrop/backend/internal/middleware"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/pkg/utils"
	"gorm.io/gorm"
)

type UsersHandler struct {
	DB *gorm.DB
}

func NewUsersHandler(db *gorm.DB) *UsersHandler {
	return &UsersHandler{DB: db}
}

type userSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Search finds recipients by username prefix. Capped small and excluding
// the caller, since it only exists to fill the share dialog.
func (h *UsersHandler) Search(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	query := strings.TrimSpace(c.Query("q"))
	if len(query) < 2 {
		return utils.Error(c, fiber.StatusBadRequest, "query must be at least 2 characters")
	}

	var users []models.User
	err := h.DB.
		Where("username LIKE ? AND id <> ?", query+"%", currentUser.ID).
		Order("username ASC").
		Limit(10).
		Find(&users).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed searching users")
	}

	results := make([]userSummary, 0, len(users))
	for i := range users {
		results = append(results, userSummary{
			ID:       users[i].ID.String(),
			Username: users[i].Username,
			Email:    users[i].Email,
		})
	}

	return utils.Success(c, fiber.StatusOK, results)
}

func (h *UsersHandler) List(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)

	var total int64
	if err := h.DB.Model(&models.User{}).Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting users")
	}

	var users []models.User
	err := utils.ApplyPagination(h.DB.Order("created_at ASC"), p).Find(&users).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing users")
	}

	return utils.Paginated(c, users, p.Page, p.Limit, total)
}

func (h *UsersHandler) Get(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var user models.User
	dbErr := h.DB.First(&user, "id = ?", userID).Error
	if errors.Is(dbErr, gorm.ErrRecordNotFound) {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}
	if dbErr != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading user")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

type updateUserRequest struct {
	Role          *models.UserRole `json:"role"`
	EmailVerified *bool            `json:"emailVerified"`
}

func (h *UsersHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req updateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var user models.User
	dbErr := h.DB.First(&user, "id = ?", userID).Error
	if errors.Is(dbErr, gorm.ErrRecordNotFound) {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}
	if dbErr != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading user")
	}

	updates := map[string]interface{}{}
	if req.Role != nil {
		switch *req.Role {
		case models.UserRoleAdmin, models.UserRoleUser, models.UserRoleGuest:
		default:
			return utils.Error(c, fiber.StatusBadRequest, "invalid role")
		}
		if user.ID == currentUser.ID && *req.Role != models.UserRoleAdmin {
			return utils.Error(c, fiber.StatusBadRequest, "cannot demote yourself")
		}
		updates["role"] = *req.Role
	}
	if req.EmailVerified != nil {
		updates["email_verified"] = *req.EmailVerified
	}

	if len(updates) > 0 {
		if err := h.DB.Model(&user).Updates(updates).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
		}
	}

	return utils.Success(c, fiber.StatusOK, user)
}

// Delete removes a user account. A user who still owns files must have
// them removed first so their blobs are released properly.
func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if userID == currentUser.ID {
		return utils.Error(c, fiber.StatusBadRequest, "cannot delete yourself")
	}

	var user models.User
	dbErr := h.DB.First(&user, "id = ?", userID).Error
	if errors.Is(dbErr, gorm.ErrRecordNotFound) {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}
	if dbErr != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading user")
	}

	var fileCount int64
	if err := h.DB.Model(&models.File{}).Where("owner_id = ?", userID).Count(&fileCount).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking files")
	}
	if fileCount > 0 {
		return utils.Error(c, fiber.StatusConflict, "user still owns files")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("shared_with_id = ? OR shared_by_id = ?", userID, userID).
			Delete(&models.Share{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting user")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}
