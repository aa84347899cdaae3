package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/config"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/crypto"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"

	_ "github.com/lib/pq"  // Postgres Driver
	_ "modernc.org/sqlite" // SQLite Driver
)

// secretKeyFile holds the generated development secret in lite mode.
const secretKeyFile = "hmac.key"

// ledgerHandle is an opened ledger plus whatever must be closed with it.
type ledgerHandle struct {
	store   ledger.Store
	db      *sql.DB
	dialect ledger.Dialect
	close   func() error
}

// openLedger opens the backend selected by cfg.
func openLedger(ctx context.Context, cfg *config.Config, keys crypto.SignVerifier) (*ledgerHandle, error) {
	switch cfg.LedgerBackend {
	case config.BackendMemory:
		return &ledgerHandle{store: ledger.NewMemoryLedger(keys), close: func() error { return nil }}, nil

	case config.BackendFile:
		if err := ensureDir(cfg.LedgerPath); err != nil {
			return nil, err
		}
		fl, err := ledger.NewFileLedger(cfg.LedgerPath, keys)
		if err != nil {
			return nil, err
		}
		return &ledgerHandle{store: fl, close: fl.Close}, nil

	case config.BackendSQLite:
		return setupLiteMode(ctx, cfg.LedgerPath, keys)

	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("postgres backend requires DATABASE_URL")
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("DB ping failed: %w", err)
		}
		sl := ledger.NewSQLLedger(db, ledger.DialectPostgres, keys)
		if err := sl.Init(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to init ledger: %w", err)
		}
		slog.Info("postgres ledger connected")
		return &ledgerHandle{store: sl, db: db, dialect: ledger.DialectPostgres, close: db.Close}, nil

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

func setupLiteMode(ctx context.Context, dbPath string, keys crypto.SignVerifier) (*ledgerHandle, error) {
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}
	slog.Info("lite mode: using sqlite", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// sqlite takes a single writer
	db.SetMaxOpenConns(1)

	sl := ledger.NewSQLLedger(db, ledger.DialectSQLite, keys)
	if err := sl.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init sqlite ledger: %w", err)
	}
	return &ledgerHandle{store: sl, db: db, dialect: ledger.DialectSQLite, close: db.Close}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	return nil
}

// errNoSigningKey means neither HMAC_SECRET_KEY nor a development key file
// is available.
var errNoSigningKey = errors.New("no signing key: set HMAC_SECRET_KEY")

func devKeyPath(cfg *config.Config) string {
	if cfg.LedgerPath == "" {
		return filepath.Join("data", secretKeyFile)
	}
	return filepath.Join(filepath.Dir(cfg.LedgerPath), secretKeyFile)
}

// readSigner returns the configured signer without creating anything.
func readSigner(cfg *config.Config) (*crypto.HMACSigner, error) {
	if len(cfg.SigningSecret) > 0 {
		return crypto.NewHMACSigner(cfg.SigningSecret, cfg.SigningKeyID)
	}
	if cfg.Production {
		return nil, errors.New("production mode requires HMAC_SECRET_KEY")
	}

	keyPath := devKeyPath(cfg)
	raw, err := os.ReadFile(keyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w (no %s either)", errNoSigningKey, keyPath)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", keyPath, err)
	}
	secret, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", keyPath, err)
	}
	slog.Info("trust: loaded development signing key", "path", keyPath)
	return crypto.NewHMACSigner(secret, cfg.SigningKeyID)
}

// loadSigner builds the ledger signer from HMAC_SECRET_KEY. Outside
// production a missing secret falls back to a generated key persisted next to
// the ledger, so a lite-mode ledger stays verifiable across restarts.
func loadSigner(cfg *config.Config) (*crypto.HMACSigner, error) {
	keys, err := readSigner(cfg)
	if !errors.Is(err, errNoSigningKey) {
		return keys, err
	}

	keyPath := devKeyPath(cfg)
	if err := os.MkdirAll(filepath.Dir(keyPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	secret, err := crypto.GenerateSecret(32)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", keyPath, err)
	}
	slog.Warn("trust: HMAC_SECRET_KEY unset, generated a development signing key; set HMAC_SECRET_KEY in production",
		"path", keyPath)
	return crypto.NewHMACSigner(secret, cfg.SigningKeyID)
}
