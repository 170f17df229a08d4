package handlers

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/vaultdrop/backend/internal/middleware"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/internal/services"
	"github.com/vaultdrop/backend/internal/storage"
	"github.com/vaultdrop/backend/pkg/logger"
	"github.com/vaultdrop/backend/pkg/utils"
	"gorm.io/gorm"
)

type testEnv struct {
	app   *fiber.App
	db    *gorm.DB
	blobs *memBlobStore
	audit *services.AuditService
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", time.Hour)
	})

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

	blobs := newMemBlobStore()
	auditService := services.NewAuditService(db, blobs)
	t.Cleanup(auditService.Shutdown)

	accessService := services.NewAccessService(db)
	fileService := services.NewFileService(db, blobs, accessService)
	shareService := services.NewShareService(db)
	mfaService := services.NewMFAService(db, "VaultDrop")

	refreshTTL := 24 * time.Hour
	authHandler := NewAuthHandler(db, auditService, refreshTTL)
	mfaHandler := NewMFAHandler(db, mfaService, auditService, refreshTTL)
	usersHandler := NewUsersHandler(db)
	filesHandler := NewFilesHandler(db, fileService, auditService)
	sharesHandler := NewSharesHandler(db, shareService, auditService)
	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS("http://localhost:3001"))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/refresh", authHandler.Refresh)
	authRoutes.Post("/logout", authMiddleware.RequireAuth, authHandler.Logout)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/me", authMiddleware.RequireAuth, authHandler.UpdateMe)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)

	mfaRoutes := authRoutes.Group("/mfa")
	mfaRoutes.Post("/login", mfaHandler.Login)
	mfaRoutes.Post("/setup", authMiddleware.RequireAuth, mfaHandler.Setup)
	mfaRoutes.Post("/confirm", authMiddleware.RequireAuth, mfaHandler.Confirm)
	mfaRoutes.Post("/verify", authMiddleware.RequireAuth, mfaHandler.Verify)
	mfaRoutes.Post("/disable", authMiddleware.RequireAuth, mfaHandler.Disable)
	mfaRoutes.Get("/status", authMiddleware.RequireAuth, mfaHandler.Status)

	api.Get("/users/search", authMiddleware.RequireAuth, usersHandler.Search)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth, middleware.AdminOnly)
	userRoutes.Get("/", usersHandler.List)
	userRoutes.Get("/:id", usersHandler.Get)
	userRoutes.Put("/:id", usersHandler.Update)
	userRoutes.Delete("/:id", usersHandler.Delete)

	fileRoutes := api.Group("/files", authMiddleware.RequireAuth)
	fileRoutes.Post("/upload", filesHandler.Upload)
	fileRoutes.Get("/", filesHandler.List)
	fileRoutes.Get("/:id/download", filesHandler.Download)
	fileRoutes.Post("/:id/share", sharesHandler.Create)
	fileRoutes.Get("/:id", filesHandler.Get)
	fileRoutes.Delete("/:id", filesHandler.Delete)

	shareRoutes := api.Group("/shares", authMiddleware.RequireAuth)
	shareRoutes.Get("/", sharesHandler.ListSent)
	shareRoutes.Get("/token/:token", sharesHandler.GetByToken)
	shareRoutes.Delete("/:id", sharesHandler.Revoke)

	api.Get("/shared", authMiddleware.RequireAuth, sharesHandler.SharedWithMe)

	return &testEnv{app: app, db: db, blobs: blobs, audit: auditService}
}

func createTestUser(t *testing.T, db *gorm.DB, username, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Username:     username,
		Email:        username + "@test.com",
		PasswordHash: hash,
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

// uploadTestFile pushes ciphertext through the upload endpoint and returns
// the file ID.
func uploadTestFile(t *testing.T, app *fiber.App, token, name, contents, encryptedKey string) string {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("failed creating form file: %v", err)
	}
	if _, err := part.Write([]byte(contents)); err != nil {
		t.Fatalf("failed writing form file: %v", err)
	}
	if err := writer.WriteField("encrypted_key", encryptedKey); err != nil {
		t.Fatalf("failed writing form field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	headers := authHeaders(token)
	headers["Content-Type"] = writer.FormDataContentType()

	resp := performRequest(t, app, http.MethodPost, "/api/files/upload", &buf, headers)
	assertStatus(t, resp, fiber.StatusCreated)

	body := decodeJSONMap(t, resp)
	data, _ := body["data"].(map[string]any)
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatalf("upload response missing file id: %+v", body)
	}
	return id
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

// waitForAuditRows polls for audit rows with the given action, since the
// audit writer runs on its own goroutine.
func waitForAuditRows(t *testing.T, db *gorm.DB, action string, want int) []models.AuditLog {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		var rows []models.AuditLog
		if err := db.Where("action = ?", action).Order("created_at ASC").Find(&rows).Error; err != nil {
			t.Fatalf("failed loading audit rows: %v", err)
		}
		if len(rows) >= want {
			return rows
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d %q audit rows, have %d", want, action, len(rows))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// memBlobStore is an in-memory BlobStore so handler tests avoid minio.
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *memBlobStore) Upload(_ context.Context, objectName string, reader io.Reader, _ int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.objects[objectName] = data
	m.types[objectName] = contentType
	return nil
}

func (m *memBlobStore) Download(_ context.Context, objectName string) (io.ReadCloser, storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectName]
	if !ok {
		return nil, storage.ObjectInfo{}, fmt.Errorf("object %s not found", objectName)
	}
	info := storage.ObjectInfo{
		Size:        int64(len(data)),
		ContentType: m.types[objectName],
	}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (m *memBlobStore) Delete(_ context.Context, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectName)
	delete(m.types, objectName)
	return nil
}

func (m *memBlobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
