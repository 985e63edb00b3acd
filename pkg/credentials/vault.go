package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

// Vault keeps client secrets encrypted at rest in a SQL database. The
// AES-256 key is derived from a passphrase with Argon2id; the salt lives in
// the database next to the rows it protects.
type Vault struct {
	db     *sql.DB
	encKey []byte
	mu     sync.RWMutex
	now    func() time.Time
}

// VaultOption configures a Vault.
type VaultOption func(*Vault)

// WithVaultClock overrides the timestamp source.
func WithVaultClock(now func() time.Time) VaultOption {
	return func(v *Vault) {
		v.now = now
	}
}

const vaultSaltSize = 16

// OpenVault prepares the schema and derives the encryption key.
func OpenVault(ctx context.Context, db *sql.DB, passphrase string, opts ...VaultOption) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("vault passphrase must not be empty")
	}
	v := &Vault{db: db, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	if err := v.migrate(ctx); err != nil {
		return nil, err
	}
	salt, err := v.salt(ctx)
	if err != nil {
		return nil, err
	}
	v.encKey = argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	return v, nil
}

func (v *Vault) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vault_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vault_credentials (
			profile TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			client_secret TEXT NOT NULL,
			organization_id TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := v.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("vault migrate: %w", err)
		}
	}
	return nil
}

func (v *Vault) salt(ctx context.Context) ([]byte, error) {
	var encoded string
	err := v.db.QueryRowContext(ctx, `SELECT value FROM vault_meta WHERE key = 'salt'`).Scan(&encoded)
	if err == nil {
		return base64.StdEncoding.DecodeString(encoded)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault salt: %w", err)
	}

	salt := make([]byte, vaultSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := v.db.ExecContext(ctx, `INSERT INTO vault_meta (key, value) VALUES ('salt', ?)`,
		base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("store salt: %w", err)
	}
	return salt, nil
}

// Put stores or replaces the credentials for profile.
func (v *Vault) Put(ctx context.Context, profile string, c Credentials) error {
	if profile == "" {
		return errors.New("vault profile must not be empty")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("vault entry needs client id and secret")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	encSecret, err := v.encrypt(c.ClientSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt client secret: %w", err)
	}
	_, err = v.db.ExecContext(ctx, `
		INSERT INTO vault_credentials (profile, client_id, client_secret, organization_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (profile) DO UPDATE SET
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			organization_id = excluded.organization_id,
			updated_at = excluded.updated_at`,
		profile, c.ClientID, encSecret, c.OrganizationID, v.now().UTC())
	return err
}

// Get returns ErrNotFound when profile has no entry.
func (v *Vault) Get(ctx context.Context, profile string) (Credentials, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var c Credentials
	var encSecret string
	err := v.db.QueryRowContext(ctx,
		`SELECT client_id, client_secret, organization_id FROM vault_credentials WHERE profile = ?`, profile,
	).Scan(&c.ClientID, &encSecret, &c.OrganizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, fmt.Errorf("%w: no vault entry %q", ErrNotFound, profile)
	}
	if err != nil {
		return Credentials{}, err
	}
	if c.ClientSecret, err = v.decrypt(encSecret); err != nil {
		return Credentials{}, fmt.Errorf("failed to decrypt client secret: %w", err)
	}
	c.Source = "vault:" + profile
	return c, nil
}

func (v *Vault) Delete(ctx context.Context, profile string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, err := v.db.ExecContext(ctx, `DELETE FROM vault_credentials WHERE profile = ?`, profile)
	return err
}

// Strategy exposes one vault profile as a lookup strategy.
func (v *Vault) Strategy(profile string) Strategy {
	return vaultStrategy{v: v, profile: profile}
}

type vaultStrategy struct {
	v       *Vault
	profile string
}

func (s vaultStrategy) Name() string { return "vault:" + s.profile }

func (s vaultStrategy) Lookup(ctx context.Context) (Credentials, error) {
	return s.v.Get(ctx, s.profile)
}

func (v *Vault) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.encKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (v *Vault) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	block, err := aes.NewCipher(v.encKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, body := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
