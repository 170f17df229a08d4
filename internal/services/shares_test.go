package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/pkg/utils"
)

func TestShareService_Create_Directed(t *testing.T) {
	db := setupTestDB(t)
	service := NewShareService(db)

	owner := createUser(t, db, "owner")
	recipient := createUser(t, db, "recipient")
	file := createFile(t, db, owner, "doc.pdf")

	share, err := service.Create(context.Background(), owner, CreateShareInput{
		FileID:             file.ID,
		SharedWithUsername: "recipient",
		Permission:         models.SharePermissionDownload,
		EncryptedKey:       "wrapped-for-recipient",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if share.SharedWithID == nil || *share.SharedWithID != recipient.ID {
		t.Fatal("share should be bound to the recipient")
	}
	if share.IsLinkShare() {
		t.Fatal("directed share must not be a link share")
	}
	if len(share.ShareToken) != 32 {
		t.Fatalf("expected 32-char hex token, got %q", share.ShareToken)
	}
	if share.Permission != models.SharePermissionDownload {
		t.Fatalf("expected download permission, got %q", share.Permission)
	}
}

func TestShareService_Create_LinkShareAndDefaults(t *testing.T) {
	db := setupTestDB(t)
	service := NewShareService(db)

	owner := createUser(t, db, "owner")
	file := createFile(t, db, owner, "doc.pdf")

	share, err := service.Create(context.Background(), owner, CreateShareInput{
		FileID:       file.ID,
		EncryptedKey: "wrapped-for-link",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if !share.IsLinkShare() {
		t.Fatal("share without a recipient should be a link share")
	}
	if share.Permission != models.SharePermissionView {
		t.Fatalf("permission should default to view, got %q", share.Permission)
	}
	if share.ExpiresAt != nil {
		t.Fatal("expiry should default to never")
	}
}

func TestShareService_Create_Denials(t *testing.T) {
	db := setupTestDB(t)
	service := NewShareService(db)

	owner := createUser(t, db, "owner")
	stranger := createUser(t, db, "stranger")
	file := createFile(t, db, owner, "doc.pdf")

	t.Run("non-owner gets not found", func(t *testing.T) {
		_, err := service.Create(context.Background(), stranger, CreateShareInput{
			FileID:       file.ID,
			EncryptedKey: "key",
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("unknown recipient", func(t *testing.T) {
		_, err := service.Create(context.Background(), owner, CreateShareInput{
			FileID:             file.ID,
			SharedWithUsername: "nobody",
			EncryptedKey:       "key",
		})
		if !errors.Is(err, ErrUnknownRecipient) {
			t.Fatalf("expected ErrUnknownRecipient, got %v", err)
		}
	})

	t.Run("sharing with yourself", func(t *testing.T) {
		_, err := service.Create(context.Background(), owner, CreateShareInput{
			FileID:             file.ID,
			SharedWithUsername: "owner",
			EncryptedKey:       "key",
		})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestShareService_Create_TokensAreUnique(t *testing.T) {
	db := setupTestDB(t)
	service := NewShareService(db)

	owner := createUser(t, db, "owner")
	file := createFile(t, db, owner, "doc.pdf")

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		share, err := service.Create(context.Background(), owner, CreateShareInput{
			FileID:       file.ID,
			EncryptedKey: "key",
		})
		if err != nil {
			t.Fatalf("Create %d returned error: %v", i, err)
		}
		if seen[share.ShareToken] {
			t.Fatalf("duplicate token %q after %d shares", share.ShareToken, i)
		}
		seen[share.ShareToken] = true
	}
}

func TestShareService_ResolveForViewer(t *testing.T) {
	db := setupTestDB(t)
	service := NewShareService(db)

	owner := createUser(t, db, "owner")
	recipient := createUser(t, db, "recipient")
	stranger := createUser(t, db, "stranger")
	file := createFile(t, db, owner, "doc.pdf")

	directed := createShare(t, db, file, owner, recipient, models.SharePermissionView, nil)
	link := createShare(t, db, file, owner, nil, models.SharePermissionView, nil)
	expired := createShare(t, db, file, owner, recipient, models.SharePermissionView, timePtr(time.Now().Add(-time.Minute)))

	t.Run("recipient resolves directed share", func(t *testing.T) {
		share, err := service.ResolveForViewer(context.Background(), recipient, directed.ShareToken)
		if err != nil {
			t.Fatalf("ResolveForViewer returned error: %v", err)
		}
		if share.ID != directed.ID {
			t.Fatal("resolved the wrong share")
		}
		if share.File.ID != file.ID {
			t.Fatal("share should preload its file")
		}
	})

	t.Run("stranger cannot use a directed token", func(t *testing.T) {
		_, err := service.ResolveForViewer(context.Background(), stranger, directed.ShareToken)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("anyone authenticated can use a link token", func(t *testing.T) {
		share, err := service.ResolveForViewer(context.Background(), stranger, link.ShareToken)
		if err != nil {
			t.Fatalf("ResolveForViewer returned error: %v", err)
		}
		if share.ID != link.ID {
			t.Fatal("resolved the wrong share")
		}
	})

	t.Run("expired share reports expiry to its recipient", func(t *testing.T) {
		_, err := service.ResolveForViewer(context.Background(), recipient, expired.ShareToken)
		if !errors.Is(err, ErrShareExpired) {
			t.Fatalf("expected ErrShareExpired, got %v", err)
		}
	})

	t.Run("bogus token", func(t *testing.T) {
		_, err := service.ResolveForViewer(context.Background(), recipient, "deadbeef")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestShareService_ListReceivedBy_IncludesExpired(t *testing.T) {
	db := setupTestDB(t)
	service := NewShareService(db)

	owner := createUser(t, db, "owner")
	recipient := createUser(t, db, "recipient")
	file := createFile(t, db, owner, "doc.pdf")

	createShare(t, db, file, owner, recipient, models.SharePermissionView, nil)
	createShare(t, db, file, owner, recipient, models.SharePermissionView, timePtr(time.Now().Add(-time.Hour)))
	createShare(t, db, file, owner, nil, models.SharePermissionView, nil)

	shares, total, err := service.ListReceivedBy(context.Background(), recipient.ID, utils.Pagination{Page: 1, Limit: 20})
	if err != nil {
		t.Fatalf("ListReceivedBy returned error: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected total 2, got %d", total)
	}
	if len(shares) != 2 {
		t.Fatalf("expected 2 directed shares (expired included, link shares excluded), got %d", len(shares))
	}
}

func TestShareService_Revoke(t *testing.T) {
	db := setupTestDB(t)
	service := NewShareService(db)

	owner := createUser(t, db, "owner")
	recipient := createUser(t, db, "recipient")
	file := createFile(t, db, owner, "doc.pdf")
	share := createShare(t, db, file, owner, recipient, models.SharePermissionView, nil)

	t.Run("recipient cannot revoke", func(t *testing.T) {
		err := service.Revoke(context.Background(), recipient, share.ID)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("sharer revokes", func(t *testing.T) {
		if err := service.Revoke(context.Background(), owner, share.ID); err != nil {
			t.Fatalf("Revoke returned error: %v", err)
		}

		var count int64
		db.Model(&models.Share{}).Where("id = ?", share.ID).Count(&count)
		if count != 0 {
			t.Fatal("share row should be gone")
		}
	})

	t.Run("revoking twice", func(t *testing.T) {
		err := service.Revoke(context.Background(), owner, share.ID)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
