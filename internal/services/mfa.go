package services

import (
	"context"

	"github.com/pquerna/otp/totp"
	"github.com/vaultdrop/backend/internal/models"
	"github.com/vaultdrop/backend/pkg/utils"
	"gorm.io/gorm"
)

type MFAService struct {
	db     *gorm.DB
	issuer string
}

func NewMFAService(db *gorm.DB, issuer string) *MFAService {
	return &MFAService{db: db, issuer: issuer}
}

// BeginEnrollment generates a fresh TOTP secret and stores it encrypted at
// rest. MFA stays off until the user proves possession via ConfirmEnrollment,
// so calling this again before confirming simply rotates the pending secret.
func (s *MFAService) BeginEnrollment(ctx context.Context, user *models.User) (secret, otpauthURL string, err error) {
	if user.MFAEnabled {
		return "", "", ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return "", "", err
	}

	stored, err := utils.EncryptAESGCM(key.Secret())
	if err != nil {
		return "", "", err
	}

	err = s.db.WithContext(ctx).Model(user).Update("mfa_secret", stored).Error
	if err != nil {
		return "", "", err
	}
	user.MFASecret = stored

	return key.Secret(), key.URL(), nil
}

// ConfirmEnrollment turns MFA on once the user submits a valid code for the
// pending secret.
func (s *MFAService) ConfirmEnrollment(ctx context.Context, user *models.User, code string) error {
	if user.MFAEnabled {
		return ErrAlreadyEnabled
	}
	if user.MFASecret == "" {
		return ErrSecretNotGenerated
	}

	secret := utils.DecryptOrPlaintext(user.MFASecret)
	if !totp.Validate(code, secret) {
		return ErrInvalidCode
	}

	err := s.db.WithContext(ctx).Model(user).Update("mfa_enabled", true).Error
	if err != nil {
		return err
	}
	user.MFAEnabled = true
	return nil
}

// Verify checks a TOTP code against the user's enabled secret.
func (s *MFAService) Verify(ctx context.Context, user *models.User, code string) error {
	if !user.MFAEnabled || user.MFASecret == "" {
		return ErrMFANotConfigured
	}

	secret := utils.DecryptOrPlaintext(user.MFASecret)
	if !totp.Validate(code, secret) {
		return ErrInvalidCode
	}
	return nil
}

// Disable turns MFA off. A valid current code is required so a stolen
// session alone cannot strip the second factor.
func (s *MFAService) Disable(ctx context.Context, user *models.User, code string) error {
	if err := s.Verify(ctx, user, code); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"mfa_enabled": false,
		"mfa_secret":  "",
	}).Error
	if err != nil {
		return err
	}
	user.MFAEnabled = false
	user.MFASecret = ""
	return nil
}
