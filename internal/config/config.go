// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// keySize is the required decoded length of both vault keys.
const keySize = 32

// maxBatchSize mirrors model.MaxBatchSize.
const maxBatchSize = 1000

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	LegacyKey       []byte
	EnterpriseKey   []byte
	EnterpriseKeyID string

	DefaultBatchSize int
	LockScope        string
	CompareLegacy    bool
	StrictReadiness  bool

	AuditBackend  string
	AuditBoltPath string

	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a validated Config.
// FLEETVAULT_LEGACY_KEY and FLEETVAULT_ENTERPRISE_KEY are required, each 64 hex characters.
// Optional variables with defaults: FLEETVAULT_LISTEN_ADDR (127.0.0.1:8080),
// FLEETVAULT_DB_PATH (fleetvault.db), FLEETVAULT_DEFAULT_BATCH_SIZE (100),
// FLEETVAULT_LOCK_SCOPE (store), FLEETVAULT_AUDIT_BACKEND (sqlite),
// FLEETVAULT_AUDIT_BOLT_PATH (fleetvault-audit.db), FLEETVAULT_LOG_LEVEL (info),
// FLEETVAULT_LOG_FORMAT (json).
func Load() (*Config, error) {
	legacyKey, err := requireKey("FLEETVAULT_LEGACY_KEY")
	if err != nil {
		return nil, err
	}
	enterpriseKey, err := requireKey("FLEETVAULT_ENTERPRISE_KEY")
	if err != nil {
		return nil, err
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("FLEETVAULT_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "fleetvault.db"
	if v, ok := os.LookupEnv("FLEETVAULT_DB_PATH"); ok {
		dbPath = v
	}

	batchSize := 100
	if v, ok := os.LookupEnv("FLEETVAULT_DEFAULT_BATCH_SIZE"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("FLEETVAULT_DEFAULT_BATCH_SIZE has invalid integer %q: %w", v, err)
		}
		if parsed < 1 || parsed > maxBatchSize {
			return nil, fmt.Errorf("FLEETVAULT_DEFAULT_BATCH_SIZE must be between 1 and %d, got %d", maxBatchSize, parsed)
		}
		batchSize = parsed
	}

	lockScope, err := oneOf("FLEETVAULT_LOCK_SCOPE", "store", "store", "record")
	if err != nil {
		return nil, err
	}

	compareLegacy, err := boolEnv("FLEETVAULT_VALIDATE_COMPARE_LEGACY")
	if err != nil {
		return nil, err
	}
	strictReadiness, err := boolEnv("FLEETVAULT_STRICT_READINESS")
	if err != nil {
		return nil, err
	}

	auditBackend, err := oneOf("FLEETVAULT_AUDIT_BACKEND", "sqlite", "sqlite", "bolt")
	if err != nil {
		return nil, err
	}

	auditBoltPath := "fleetvault-audit.db"
	if v, ok := os.LookupEnv("FLEETVAULT_AUDIT_BOLT_PATH"); ok && v != "" {
		auditBoltPath = v
	}

	logLevel := slog.LevelInfo
	if v, ok := os.LookupEnv("FLEETVAULT_LOG_LEVEL"); ok && v != "" {
		if err := logLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("FLEETVAULT_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	logFormat, err := oneOf("FLEETVAULT_LOG_FORMAT", "json", "json", "text")
	if err != nil {
		return nil, err
	}

	return &Config{
		ListenAddr:       listenAddr,
		DBPath:           dbPath,
		LegacyKey:        legacyKey,
		EnterpriseKey:    enterpriseKey,
		EnterpriseKeyID:  strings.TrimSpace(os.Getenv("FLEETVAULT_ENTERPRISE_KEY_ID")),
		DefaultBatchSize: batchSize,
		LockScope:        lockScope,
		CompareLegacy:    compareLegacy,
		StrictReadiness:  strictReadiness,
		AuditBackend:     auditBackend,
		AuditBoltPath:    auditBoltPath,
		LogLevel:         logLevel,
		LogFormat:        logFormat,
	}, nil
}

// requireKey decodes a mandatory 32-byte hex key. The value itself is never
// echoed in errors.
func requireKey(name string) ([]byte, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	if len(v) != keySize*2 {
		return nil, fmt.Errorf("%s must be %d hex characters, got %d", name, keySize*2, len(v))
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex", name)
	}
	return key, nil
}

func oneOf(name, def string, allowed ...string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def, nil
	}
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(allowed, ", "), v)
}

func boolEnv(name string) (bool, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", name, v, err)
	}
	return b, nil
}
