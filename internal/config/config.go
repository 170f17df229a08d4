package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB     DBConfig
	MinIO  MinIOConfig
	JWT    JWTConfig
	Server ServerConfig
	Audit  AuditConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
	RefreshTokenTTL   time.Duration
	EncryptionSecret  string
}

type ServerConfig struct {
	Port       string
	Issuer     string
	CORSOrigin string
}

type AuditConfig struct {
	ExportInterval time.Duration
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "vaultdrop"),
			Password: getEnv("DB_PASSWORD", "vaultdrop_secret"),
			Name:     getEnv("DB_NAME", "vaultdrop"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "vaultdrop"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "vaultdrop_secret"),
			Bucket:    getEnv("MINIO_BUCKET", "vaultdrop"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", "change-me-in-production"),
			AccessTokenExpiry: getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshTokenTTL:   getEnvAsDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
			EncryptionSecret:  getEnv("SECRET_ENCRYPTION_KEY", ""),
		},
		Server: ServerConfig{
			Port:       getEnv("SERVER_PORT", "8080"),
			Issuer:     getEnv("TOTP_ISSUER", "VaultDrop"),
			CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:3001"),
		},
		Audit: AuditConfig{
			ExportInterval: getEnvAsDuration("AUDIT_EXPORT_INTERVAL", 1*time.Hour),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
