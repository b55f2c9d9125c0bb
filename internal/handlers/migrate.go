package handlers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"satwallet/internal/domain"
)

var (
	// ErrOriginNotAllowed is returned when an origin outside the migration
	// allowlist hands over keys.
	ErrOriginNotAllowed = errors.New("origin may not migrate keys")
	// ErrNoPassphrase is returned when no passphrase source is configured.
	ErrNoPassphrase = errors.New("no passphrase available to protect migrated keys")
	// ErrNoConsent is returned when the user cannot be asked, or declines.
	ErrNoConsent = errors.New("key migration not approved by the user")
)

// KeyImporter is the vault surface needed to adopt migrated keys.
type KeyImporter interface {
	HasKeys() bool
	ImportKeys(passphrase, payWIF, ordWIF string) error
}

// PassphraseFunc supplies the passphrase that protects imported keys.
type PassphraseFunc func(ctx context.Context) (string, error)

// ConfirmFunc asks the user whether keys from origin may be imported.
type ConfirmFunc func(ctx context.Context, origin string) (bool, error)

// Migrator adopts keys handed over by a legacy page on an allowlisted origin.
type Migrator struct {
	keys       KeyImporter
	allowed    map[string]bool
	passphrase PassphraseFunc
	confirm    ConfirmFunc
	log        *zap.Logger
}

// NewMigrator returns a Migrator accepting keys from origins once confirm
// approves. A nil confirm refuses every migration.
func NewMigrator(keys KeyImporter, origins []string, passphrase PassphraseFunc, confirm ConfirmFunc, log *zap.Logger) *Migrator {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Migrator{keys: keys, allowed: allowed, passphrase: passphrase, confirm: confirm, log: log}
}

// MigrateKeys imports keys into an empty vault after the user approves. A
// vault that already holds keys is left untouched and alreadyLoggedIn is
// reported.
func (m *Migrator) MigrateKeys(ctx context.Context, origin string, keys domain.MigrateKeysPayload) (bool, error) {
	if m.keys.HasKeys() {
		return true, nil
	}
	if !m.allowed[origin] {
		m.log.Warn("key migration refused", zap.String("origin", origin))
		return false, ErrOriginNotAllowed
	}
	if m.passphrase == nil {
		return false, ErrNoPassphrase
	}
	if m.confirm == nil {
		return false, ErrNoConsent
	}
	ok, err := m.confirm(ctx, origin)
	if err != nil {
		return false, fmt.Errorf("confirm migration: %w", err)
	}
	if !ok {
		m.log.Info("key migration declined", zap.String("origin", origin))
		return false, ErrNoConsent
	}
	pass, err := m.passphrase(ctx)
	if err != nil {
		return false, fmt.Errorf("passphrase: %w", err)
	}
	if err := m.keys.ImportKeys(pass, keys.PayPk, keys.OrdPk); err != nil {
		return false, fmt.Errorf("import migrated keys: %w", err)
	}
	m.log.Info("keys migrated", zap.String("origin", origin))
	return false, nil
}
