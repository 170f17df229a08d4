package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/vaultdrop/backend/internal/config"
	"github.com/vaultdrop/backend/internal/database"
	"github.com/vaultdrop/backend/internal/handlers"
	"github.com/vaultdrop/backend/internal/middleware"
	"github.com/vaultdrop/backend/internal/services"
	"github.com/vaultdrop/backend/internal/storage"
	"github.com/vaultdrop/backend/pkg/logger"
	"github.com/vaultdrop/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	utils.ConfigureEncryption(cfg.JWT.EncryptionSecret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := storageClient.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio bucket: %v", err)
	}

	auditService := services.NewAuditService(db, storageClient)
	accessService := services.NewAccessService(db)
	fileService := services.NewFileService(db, storageClient, accessService)
	shareService := services.NewShareService(db)
	mfaService := services.NewMFAService(db, cfg.Server.Issuer)

	exportCtx, cancelExport := context.WithCancel(context.Background())
	auditService.StartExporter(exportCtx, cfg.Audit.ExportInterval)

	authHandler := handlers.NewAuthHandler(db, auditService, cfg.JWT.RefreshTokenTTL)
	mfaHandler := handlers.NewMFAHandler(db, mfaService, auditService, cfg.JWT.RefreshTokenTTL)
	usersHandler := handlers.NewUsersHandler(db)
	filesHandler := handlers.NewFilesHandler(db, fileService, auditService)
	sharesHandler := handlers.NewSharesHandler(db, shareService, auditService)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.CORSOrigin))
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

	// Consumed MFA challenge IDs only need to outlive the challenge window.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			utils.CleanupExpiredJTIs()
		}
	}()

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		cancelExport()
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			auditService.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
