package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vaultdrop/backend/internal/models"
	"gorm.io/gorm"
)

// Action is what the viewer is trying to do with a file.
type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
)

// DenyReason distinguishes why access was refused. Handlers use it to pick
// an error, but NotShared and any masked state both surface as not-found.
type DenyReason string

const (
	DenyNone               DenyReason = ""
	DenyNotShared          DenyReason = "not_shared"
	DenyExpired            DenyReason = "expired"
	DenyPermissionMismatch DenyReason = "permission_mismatch"
)

// Decision is the outcome of an access check. EncryptedKey is the wrapped
// content key the viewer can actually decrypt: the owner's own key for
// owners, the per-recipient key from the satisfying share otherwise.
type Decision struct {
	Allowed      bool
	EncryptedKey string
	Reason       DenyReason
}

type AccessService struct {
	db *gorm.DB
}

func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{db: db}
}

// satisfies reports whether a share permission covers the requested action.
// Download permission implies view.
func satisfies(permission models.SharePermission, action Action) bool {
	if action == ActionView {
		return true
	}
	return permission == models.SharePermissionDownload
}

// Decide resolves whether viewer may perform action on the file. Owners are
// always allowed. For everyone else the viewer's direct shares are checked:
// a live share granting the action wins; a live share that grants less
// reports a permission mismatch; only-expired shares report expiry; no
// shares at all reports not-shared. Link shares are resolved separately by
// token and never consulted here.
func (s *AccessService) Decide(ctx context.Context, viewer *models.User, fileID uuid.UUID, action Action) (Decision, error) {
	var file models.File
	err := s.db.WithContext(ctx).First(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Decision{Reason: DenyNotShared}, ErrNotFound
	}
	if err != nil {
		return Decision{}, err
	}

	return s.DecideOn(ctx, viewer, &file, action)
}

// DecideOn is Decide for a file row the caller has already loaded, so
// callers that need the row anyway avoid a second read.
func (s *AccessService) DecideOn(ctx context.Context, viewer *models.User, file *models.File, action Action) (Decision, error) {
	if file.OwnerID == viewer.ID {
		return Decision{Allowed: true, EncryptedKey: file.EncryptedKey}, nil
	}

	var shares []models.Share
	err := s.db.WithContext(ctx).
		Where("file_id = ? AND shared_with_id = ?", file.ID, viewer.ID).
		Order("created_at ASC").
		Find(&shares).Error
	if err != nil {
		return Decision{}, err
	}

	if len(shares) == 0 {
		return Decision{Reason: DenyNotShared}, nil
	}

	now := time.Now()
	sawLive := false
	for i := range shares {
		if shares[i].IsExpired(now) {
			continue
		}
		sawLive = true
		if satisfies(shares[i].Permission, action) {
			return Decision{Allowed: true, EncryptedKey: shares[i].EncryptedKey}, nil
		}
	}

	if sawLive {
		return Decision{Reason: DenyPermissionMismatch}, nil
	}
	return Decision{Reason: DenyExpired}, nil
}
