package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/internal/storage"
	"github.com/vaultdrop/backend/pkg/logger"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	logger.Init()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.File{},
		&models.Share{},
		&models.RefreshToken{},
		&models.AuditLog{},
		&models.AuditExportCursor{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func createUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	user := &models.User{
		Username:     username,
		Email:        username + "@test.com",
		PasswordHash: "hash",
		Role:         models.UserRoleUser,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", username, err)
	}
	return user
}

func createFile(t *testing.T, db *gorm.DB, owner *models.User, name string) *models.File {
	t.Helper()

	file := &models.File{
		OwnerID:      owner.ID,
		Name:         name,
		StoragePath:  fmt.Sprintf("%s/%s", owner.ID, uuid.New()),
		EncryptedKey: "owner-wrapped-key-" + name,
		Size:         128,
		MimeType:     "application/octet-stream",
	}
	if err := db.Create(file).Error; err != nil {
		t.Fatalf("failed creating file %s: %v", name, err)
	}
	return file
}

func createShare(t *testing.T, db *gorm.DB, file *models.File, sharedBy *models.User, sharedWith *models.User, permission models.SharePermission, expiresAt *time.Time) *models.Share {
	t.Helper()

	share := &models.Share{
		FileID:       file.ID,
		SharedByID:   sharedBy.ID,
		ShareToken:   uuid.New().String(),
		Permission:   permission,
		ExpiresAt:    expiresAt,
		EncryptedKey: "recipient-wrapped-key-" + uuid.New().String()[:8],
	}
	if sharedWith != nil {
		share.SharedWithID = &sharedWith.ID
	}
	if err := db.Create(share).Error; err != nil {
		t.Fatalf("failed creating share: %v", err)
	}
	return share
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// fakeBlobStore keeps objects in a map so file tests run without minio.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeBlobStore) Upload(_ context.Context, objectName string, reader io.Reader, _ int64, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return fmt.Errorf("upload refused")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectName] = data
	f.types[objectName] = contentType
	return nil
}

func (f *fakeBlobStore) Download(_ context.Context, objectName string) (io.ReadCloser, storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectName]
	if !ok {
		return nil, storage.ObjectInfo{}, fmt.Errorf("object %s not found", objectName)
	}
	info := storage.ObjectInfo{
		Size:        int64(len(data)),
		ContentType: f.types[objectName],
	}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (f *fakeBlobStore) Delete(_ context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	delete(f.types, objectName)
	return nil
}

func (f *fakeBlobStore) has(objectName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[objectName]
	return ok
}

func (f *fakeBlobStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}
