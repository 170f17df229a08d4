package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vaultdrop/backend/internal/middleware"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/internal/services"
	"github.com/vaultdrop/backend/pkg/utils"
	"gorm.io/gorm"
)

type SharesHandler struct {
	DB     *gorm.DB
	Shares *services.ShareService
	Audit  *services.AuditService
}

func NewSharesHandler(db *gorm.DB, shares *services.ShareService, audit *services.AuditService) *SharesHandler {
	return &SharesHandler{DB: db, Shares: shares, Audit: audit}
}

type createShareRequest struct {
	SharedWith    string                 `json:"sharedWith"`
	Permission    models.SharePermission `json:"permission"`
	ExpiresAt     *time.Time             `json:"expiresAt"`
	ExpiresInDays *int                   `json:"expiresInDays"`
	EncryptedKey  string                 `json:"encryptedKey"`
}

// Create grants access to a file. An empty sharedWith makes a link share.
// The client must wrap the content key for the recipient and send it as
// encryptedKey; the server cannot do this for them.
func (h *SharesHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	var req createShareRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.Permission != "" && !isValidSharePermission(string(req.Permission)) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid permission")
	}
	if req.EncryptedKey == "" {
		return utils.Error(c, fiber.StatusBadRequest, "encryptedKey is required")
	}

	expiresAt := req.ExpiresAt
	if expiresAt == nil && req.ExpiresInDays != nil {
		if *req.ExpiresInDays <= 0 {
			return utils.Error(c, fiber.StatusBadRequest, "expiresInDays must be positive")
		}
		at := time.Now().AddDate(0, 0, *req.ExpiresInDays)
		expiresAt = &at
	}
	if expiresAt != nil && expiresAt.Before(time.Now()) {
		return utils.Error(c, fiber.StatusBadRequest, "expiry must be in the future")
	}

	share, err := h.Shares.Create(c.Context(), currentUser, services.CreateShareInput{
		FileID:             fileID,
		SharedWithUsername: req.SharedWith,
		Permission:         req.Permission,
		ExpiresAt:          expiresAt,
		EncryptedKey:       req.EncryptedKey,
	})
	if err != nil {
		return serviceError(c, err)
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       services.AuditShareCreated,
		ResourceType: "share",
		ResourceID:   &share.ID,
		Details: map[string]interface{}{
			"file_id":    fileID.String(),
			"permission": string(share.Permission),
			"link_share": share.IsLinkShare(),
		},
		IPAddress: c.IP(),
	})

	return utils.Success(c, fiber.StatusCreated, share)
}

// GetByToken resolves a share link for the authenticated viewer.
func (h *SharesHandler) GetByToken(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	token := c.Params("token")
	if token == "" {
		return utils.Error(c, fiber.StatusBadRequest, "token is required")
	}

	share, err := h.Shares.ResolveForViewer(c.Context(), currentUser, token)
	if err != nil {
		return serviceError(c, err)
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       services.AuditShareResolved,
		ResourceType: "share",
		ResourceID:   &share.ID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, share)
}

// SharedWithMe lists shares addressed to the current user, expired included.
func (h *SharesHandler) SharedWithMe(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	p := utils.ParsePagination(c)
	shares, total, err := h.Shares.ListReceivedBy(c.Context(), currentUser.ID, p)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing shares")
	}

	return utils.Paginated(c, shares, p.Page, p.Limit, total)
}

// ListSent lists shares the current user has created.
func (h *SharesHandler) ListSent(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	shares, err := h.Shares.ListSentBy(c.Context(), currentUser.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing shares")
	}

	return utils.Success(c, fiber.StatusOK, shares)
}

func (h *SharesHandler) Revoke(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	shareID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid share id")
	}

	if err := h.Shares.Revoke(c.Context(), currentUser, shareID); err != nil {
		return serviceError(c, err)
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       services.AuditShareRevoked,
		ResourceType: "share",
		ResourceID:   &shareID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"revoked": true})
}
