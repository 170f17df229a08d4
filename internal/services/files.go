package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/internal/storage"
	"github.com/vaultdrop/backend/pkg/logger"
	"github.com/vaultdrop/backend/pkg/utils"
	"gorm.io/gorm"
)

type FileService struct {
	db     *gorm.DB
	blobs  storage.BlobStore
	access *AccessService
}

func NewFileService(db *gorm.DB, blobs storage.BlobStore, access *AccessService) *FileService {
	return &FileService{db: db, blobs: blobs, access: access}
}

// RegisterFileInput describes an incoming ciphertext upload. EncryptedKey
// is the content key wrapped for the owner; the server stores it opaquely.
type RegisterFileInput struct {
	Name         string
	Size         int64
	MimeType     string
	EncryptedKey string
	Content      io.Reader
}

// Register stores the ciphertext blob and then the metadata row. The blob
// goes first so a half-failure leaves an orphan blob rather than a metadata
// row pointing at nothing; the orphan is deleted as compensation.
func (s *FileService) Register(ctx context.Context, owner *models.User, input RegisterFileInput) (*models.File, error) {
	objectSuffix, err := utils.RandomHex(16)
	if err != nil {
		return nil, err
	}
	storagePath := fmt.Sprintf("%s/%s", owner.ID, objectSuffix)

	if err := s.blobs.Upload(ctx, storagePath, input.Content, input.Size, input.MimeType); err != nil {
		return nil, err
	}

	file := models.File{
		OwnerID:      owner.ID,
		Name:         input.Name,
		StoragePath:  storagePath,
		EncryptedKey: input.EncryptedKey,
		Size:         input.Size,
		MimeType:     input.MimeType,
	}

	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		if delErr := s.blobs.Delete(ctx, storagePath); delErr != nil {
			logger.Error("file_register_compensation_failed", delErr, map[string]interface{}{
				"storage_path": storagePath,
			})
		}
		if isUniqueViolation(err) {
			return nil, ErrStorageConstraint
		}
		return nil, err
	}

	return &file, nil
}

// Get returns file metadata with the key the viewer can decrypt. Every
// denial is reported as not-found so metadata requests cannot be used to
// test for file existence; the real deny reason is still returned so
// callers can audit it.
func (s *FileService) Get(ctx context.Context, viewer *models.User, fileID uuid.UUID) (*models.File, string, DenyReason, error) {
	var file models.File
	err := s.db.WithContext(ctx).Preload("Owner").First(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", DenyNotShared, ErrNotFound
	}
	if err != nil {
		return nil, "", DenyNone, err
	}

	decision, err := s.access.DecideOn(ctx, viewer, &file, ActionView)
	if err != nil {
		return nil, "", DenyNone, err
	}
	if !decision.Allowed {
		return nil, "", decision.Reason, ErrNotFound
	}

	return &file, decision.EncryptedKey, DenyNone, nil
}

// Open streams the ciphertext if the viewer may perform the action. The
// returned key is the wrapped content key matching the viewer's grant.
// Viewers with no grant at all get not-found; viewers whose grant lapsed
// or grants less get the specific error, since they already know the file
// exists.
func (s *FileService) Open(ctx context.Context, viewer *models.User, fileID uuid.UUID, action Action) (*models.File, io.ReadCloser, storage.ObjectInfo, string, error) {
	var file models.File
	err := s.db.WithContext(ctx).First(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, storage.ObjectInfo{}, "", ErrNotFound
	}
	if err != nil {
		return nil, nil, storage.ObjectInfo{}, "", err
	}

	decision, err := s.access.DecideOn(ctx, viewer, &file, action)
	if err != nil {
		return nil, nil, storage.ObjectInfo{}, "", err
	}
	if !decision.Allowed {
		switch decision.Reason {
		case DenyExpired:
			return nil, nil, storage.ObjectInfo{}, "", ErrShareExpired
		case DenyPermissionMismatch:
			return nil, nil, storage.ObjectInfo{}, "", ErrPermissionMismatch
		default:
			return nil, nil, storage.ObjectInfo{}, "", ErrNotFound
		}
	}

	reader, info, err := s.blobs.Download(ctx, file.StoragePath)
	if err != nil {
		return nil, nil, storage.ObjectInfo{}, "", err
	}

	return &file, reader, info, decision.EncryptedKey, nil
}

// ListOwned returns the user's files, newest first.
func (s *FileService) ListOwned(ctx context.Context, ownerID uuid.UUID, p utils.Pagination) ([]models.File, int64, error) {
	var total int64
	base := s.db.WithContext(ctx).Model(&models.File{}).Where("owner_id = ?", ownerID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var files []models.File
	err := utils.ApplyPagination(
		s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC"),
		p,
	).Find(&files).Error
	return files, total, err
}

// Remove deletes a file and every share on it in one transaction, then
// releases the blob. Only the owner (or an admin) may delete; anyone else
// gets not-found. A blob that outlives its metadata is logged, not fatal:
// it is unreachable and can be swept later.
func (s *FileService) Remove(ctx context.Context, actor *models.User, fileID uuid.UUID) error {
	var file models.File
	err := s.db.WithContext(ctx).First(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if file.OwnerID != actor.ID && !actor.IsAdmin() {
		return ErrNotFound
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", fileID).Delete(&models.Share{}).Error; err != nil {
			return err
		}
		return tx.Delete(&file).Error
	})
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, file.StoragePath); err != nil {
		logger.Error("file_blob_release_failed", err, map[string]interface{}{
			"file_id":      fileID.String(),
			"storage_path": file.StoragePath,
		})
	}

	return nil
}
