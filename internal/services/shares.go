package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/pkg/utils"
	"gorm.io/gorm"
)

// shareTokenBytes gives 128 bits of entropy, hex encoded to 32 chars.
const shareTokenBytes = 16

type ShareService struct {
	db *gorm.DB
}

func NewShareService(db *gorm.DB) *ShareService {
	return &ShareService{db: db}
}

// CreateShareInput is the validated payload for a new grant. An empty
// SharedWithUsername creates a link share. EncryptedKey is the content key
// wrapped for the recipient by the sharer's client.
type CreateShareInput struct {
	FileID             uuid.UUID
	SharedWithUsername string
	Permission         models.SharePermission
	ExpiresAt          *time.Time
	EncryptedKey       string
}

// Create records a new share. Only the file owner may share, and a file the
// sharer cannot see reports not-found rather than forbidden. A token
// collision surfaces as ErrStorageConstraint; with 128-bit tokens that is a
// storage-layer problem, not something worth a retry loop.
func (s *ShareService) Create(ctx context.Context, sharer *models.User, input CreateShareInput) (*models.Share, error) {
	var file models.File
	err := s.db.WithContext(ctx).First(&file, "id = ?", input.FileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if file.OwnerID != sharer.ID {
		return nil, ErrNotFound
	}

	var sharedWithID *uuid.UUID
	if input.SharedWithUsername != "" {
		var recipient models.User
		err := s.db.WithContext(ctx).
			First(&recipient, "username = ?", input.SharedWithUsername).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownRecipient
		}
		if err != nil {
			return nil, err
		}
		if recipient.ID == sharer.ID {
			return nil, ErrForbidden
		}
		sharedWithID = &recipient.ID
	}

	token, err := utils.RandomHex(shareTokenBytes)
	if err != nil {
		return nil, err
	}

	permission := input.Permission
	if permission == "" {
		permission = models.SharePermissionView
	}

	share := models.Share{
		FileID:       file.ID,
		SharedByID:   sharer.ID,
		SharedWithID: sharedWithID,
		ShareToken:   token,
		Permission:   permission,
		ExpiresAt:    input.ExpiresAt,
		EncryptedKey: input.EncryptedKey,
	}

	if err := s.db.WithContext(ctx).Create(&share).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrStorageConstraint
		}
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Preload("File").
		Preload("SharedBy").
		Preload("SharedWith").
		First(&share, "id = ?", share.ID).Error; err != nil {
		return nil, err
	}

	return &share, nil
}

// ResolveForViewer looks up a share by token and enforces who may use it.
// A directed share is only usable by its recipient; anyone else gets
// not-found so the token reveals nothing. Link shares are open to any
// authenticated user. Expired shares resolve to ErrShareExpired for
// legitimate viewers.
func (s *ShareService) ResolveForViewer(ctx context.Context, viewer *models.User, token string) (*models.Share, error) {
	var share models.Share
	err := s.db.WithContext(ctx).
		Preload("File").
		Preload("SharedBy").
		First(&share, "share_token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if !share.IsLinkShare() && *share.SharedWithID != viewer.ID && share.SharedByID != viewer.ID {
		return nil, ErrNotFound
	}

	if share.IsExpired(time.Now()) {
		return nil, ErrShareExpired
	}

	return &share, nil
}

// ListReceivedBy returns directed shares addressed to the user, newest
// first, expired ones included so clients can display them as lapsed.
func (s *ShareService) ListReceivedBy(ctx context.Context, userID uuid.UUID, p utils.Pagination) ([]models.Share, int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.Share{}).
		Where("shared_with_id = ?", userID).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var shares []models.Share
	err = utils.ApplyPagination(
		s.db.WithContext(ctx).
			Preload("File").
			Preload("SharedBy").
			Where("shared_with_id = ?", userID).
			Order("created_at DESC"),
		p,
	).Find(&shares).Error
	return shares, total, err
}

// ListSentBy returns shares the user has created, link shares included.
func (s *ShareService) ListSentBy(ctx context.Context, userID uuid.UUID) ([]models.Share, error) {
	var shares []models.Share
	err := s.db.WithContext(ctx).
		Preload("File").
		Preload("SharedWith").
		Where("shared_by_id = ?", userID).
		Order("created_at DESC").
		Find(&shares).Error
	return shares, err
}

// Revoke deletes a share. Only the sharer (or an admin) may revoke; others
// get not-found.
func (s *ShareService) Revoke(ctx context.Context, actor *models.User, shareID uuid.UUID) error {
	var share models.Share
	err := s.db.WithContext(ctx).First(&share, "id = ?", shareID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if share.SharedByID != actor.ID && !actor.IsAdmin() {
		return ErrNotFound
	}

	return s.db.WithContext(ctx).Delete(&share).Error
}

// isUniqueViolation matches the unique-constraint wording of both postgres
// and the sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
