package handlers

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/vaultdrop/backend/internal/middleware"
	"github.com/vaultdrop/backend/internal/services"
	"github.com/vaultdrop/backend/pkg/utils"
	"gorm.io/gorm"
)

type FilesHandler struct {
	DB    *gorm.DB
	Files *services.FileService
	Audit *services.AuditService
}

func NewFilesHandler(db *gorm.DB, files *services.FileService, audit *services.AuditService) *FilesHandler {
	return &FilesHandler{DB: db, Files: files, Audit: audit}
}

// Upload accepts a multipart form with the ciphertext under "file" and the
// owner-wrapped content key under "encrypted_key". The server never sees
// plaintext or an unwrapped key.
func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	encryptedKey := c.FormValue("encrypted_key")
	if encryptedKey == "" {
		return utils.Error(c, fiber.StatusBadRequest, "encrypted_key is required")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "failed reading upload")
	}
	defer src.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	file, err := h.Files.Register(c.Context(), currentUser, services.RegisterFileInput{
		Name:         fileHeader.Filename,
		Size:         fileHeader.Size,
		MimeType:     mimeType,
		EncryptedKey: encryptedKey,
		Content:      src,
	})
	if err != nil {
		return serviceError(c, err)
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       services.AuditFileUploaded,
		ResourceType: "file",
		ResourceID:   &file.ID,
		Details:      map[string]interface{}{"name": file.Name, "size": file.Size},
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusCreated, file)
}

func (h *FilesHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	p := utils.ParsePagination(c)
	files, total, err := h.Files.ListOwned(c.Context(), currentUser.ID, p)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing files")
	}

	return utils.Paginated(c, files, p.Page, p.Limit, total)
}

func (h *FilesHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	file, encryptedKey, reason, err := h.Files.Get(c.Context(), currentUser, fileID)
	if err != nil {
		if reason != services.DenyNone {
			h.Audit.Record(services.AuditEntry{
				UserID:       &currentUser.ID,
				Action:       services.AuditAccessDenied,
				ResourceType: "file",
				ResourceID:   &fileID,
				Details: map[string]interface{}{
					"action": string(services.ActionView),
					"reason": string(reason),
				},
				IPAddress: c.IP(),
			})
		}
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"file":         file,
		"encryptedKey": encryptedKey,
	})
}

// Download streams the ciphertext. ?download=false serves it inline for
// in-browser viewing; the default is an attachment, which requires download
// permission. The viewer's wrapped key travels in the X-Encrypted-Key
// header so the client can decrypt the stream.
func (h *FilesHandler) Download(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	asAttachment := c.Query("download", "true") != "false"
	action := services.ActionDownload
	if !asAttachment {
		action = services.ActionView
	}

	file, reader, info, encryptedKey, err := h.Files.Open(c.Context(), currentUser, fileID, action)
	if err != nil {
		if reason := denyReason(err); reason != "" {
			h.Audit.Record(services.AuditEntry{
				UserID:       &currentUser.ID,
				Action:       services.AuditAccessDenied,
				ResourceType: "file",
				ResourceID:   &fileID,
				Details: map[string]interface{}{
					"action": string(action),
					"reason": reason,
				},
				IPAddress: c.IP(),
			})
		}
		return serviceError(c, err)
	}

	disposition := "inline"
	if asAttachment {
		disposition = "attachment"
	}

	c.Set(fiber.HeaderContentType, info.ContentType)
	c.Set(fiber.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`%s; filename="%s"`, disposition, file.Name))
	c.Set("X-Encrypted-Key", encryptedKey)

	h.Audit.Record(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       services.AuditFileDownloaded,
		ResourceType: "file",
		ResourceID:   &file.ID,
		Details:      map[string]interface{}{"action": string(action)},
		IPAddress:    c.IP(),
	})

	return c.SendStream(reader, int(info.Size))
}

func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	if err := h.Files.Remove(c.Context(), currentUser, fileID); err != nil {
		return serviceError(c, err)
	}

	h.Audit.Record(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       services.AuditFileDeleted,
		ResourceType: "file",
		ResourceID:   &fileID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}
