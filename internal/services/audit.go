package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/internal/storage"
	"github.com/vaultdrop/backend/pkg/logger"
	"gorm.io/gorm"
)

// Audit actions recorded by the service. Kept as constants so exports and
// queries agree on spelling.
const (
	AuditUserRegistered   = "user.registered"
	AuditUserLogin        = "user.login"
	AuditUserLoginFailed  = "user.login_failed"
	AuditTokenRefreshed   = "user.token_refreshed"
	AuditMFAEnrollStarted = "mfa.enroll_started"
	AuditMFAEnabled       = "mfa.enabled"
	AuditMFADisabled      = "mfa.disabled"
	AuditMFAVerified      = "mfa.verified"
	AuditMFAFailed        = "mfa.failed"
	AuditFileUploaded     = "file.uploaded"
	AuditFileDownloaded   = "file.downloaded"
	AuditFileDeleted      = "file.deleted"
	AuditShareCreated     = "share.created"
	AuditShareResolved    = "share.resolved"
	AuditShareRevoked     = "share.revoked"
	AuditAccessDenied     = "access.denied"
)

// AuditEntry is what callers hand to Record. The service fills timestamps
// and IDs.
type AuditEntry struct {
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
}

// AuditService writes audit rows off the request path. Entries go through a
// buffered channel drained by a single writer goroutine; a full buffer drops
// the entry with a log line rather than stalling a request.
type AuditService struct {
	db    *gorm.DB
	blobs storage.BlobStore
	queue chan AuditEntry
	done  chan struct{}
}

func NewAuditService(db *gorm.DB, blobs storage.BlobStore) *AuditService {
	s := &AuditService{
		db:    db,
		blobs: blobs,
		queue: make(chan AuditEntry, 256),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *AuditService) drain() {
	defer close(s.done)
	for entry := range s.queue {
		row := models.AuditLog{
			UserID:       entry.UserID,
			Action:       entry.Action,
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
			Details:      entry.Details,
			IPAddress:    entry.IPAddress,
		}
		if err := s.db.Create(&row).Error; err != nil {
			logger.Error("audit_write_failed", err, map[string]interface{}{
				"action": entry.Action,
			})
		}
	}
}

// Record queues an audit entry. Never blocks the caller.
func (s *AuditService) Record(entry AuditEntry) {
	select {
	case s.queue <- entry:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action": entry.Action,
		})
	}
}

// Shutdown stops accepting entries and waits for the queue to flush.
func (s *AuditService) Shutdown() {
	close(s.queue)
	<-s.done
}

// StartExporter ships new audit rows to the blob store as NDJSON on a fixed
// interval, tracking progress in a cursor row. It runs until ctx is
// cancelled.
func (s *AuditService) StartExporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.exportOnce(ctx); err != nil {
					logger.Error("audit_export_failed", err, nil)
				}
			}
		}
	}()
}

func (s *AuditService) exportOnce(ctx context.Context) error {
	var cursor models.AuditExportCursor
	err := s.db.WithContext(ctx).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cursor = models.AuditExportCursor{LastExportAt: time.Time{}}
		if err := s.db.WithContext(ctx).Create(&cursor).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	now := time.Now().UTC()

	var rows []models.AuditLog
	err = s.db.WithContext(ctx).
		Where("created_at > ? AND created_at <= ?", cursor.LastExportAt, now).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return err
		}
	}

	objectName := fmt.Sprintf("audit-exports/%s.ndjson", now.Format("2006-01-02T15-04-05Z"))
	size := int64(buf.Len())
	if err := s.blobs.Upload(ctx, objectName, &buf, size, "application/x-ndjson"); err != nil {
		return err
	}

	cursor.LastExportAt = now
	cursor.ExportedCount += int64(len(rows))
	if err := s.db.WithContext(ctx).Save(&cursor).Error; err != nil {
		return err
	}

	logger.Info("audit_export_complete", map[string]interface{}{
		"object_name": objectName,
		"rows":        len(rows),
	})
	return nil
}
