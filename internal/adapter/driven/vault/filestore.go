// Package vault implements the VaultStore port as a single encrypted JSON
// record in the user's config directory.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/natefinch/atomic"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/platform/clock"
)

const (
	// RecordFile is the name of the vault record inside the config dir.
	RecordFile = "config.json"

	recordVersion = "1.0"
	appDirName    = "cdp-runbooker"
	dirMode       = 0o700
	fileMode      = 0o600
)

// Compile-time interface satisfaction check.
var _ driven.VaultStore = (*FileStore)(nil)

type record struct {
	Version        string    `json:"version"`
	EncryptedToken string    `json:"encrypted_token"`
	CreatedAt      time.Time `json:"created_at"`
	LastUsed       time.Time `json:"last_used"`
	UserName       string    `json:"user_name"`
}

// FileStore keeps the credential in <dir>/config.json, sealed with a key
// derived from the machine identity.
type FileStore struct {
	dir   string
	key   []byte
	clock clock.Clock
}

// NewFileStore creates a FileStore rooted at dir whose key is bound to id.
func NewFileStore(dir string, id Identity, clk clock.Clock) *FileStore {
	return &FileStore{dir: dir, key: DeriveKey(id), clock: clk}
}

// DefaultDir returns the platform config directory for the tool:
// %APPDATA%\cdp-runbooker on Windows, otherwise $XDG_CONFIG_HOME/cdp-runbooker
// falling back to ~/.config/cdp-runbooker.
func DefaultDir() (string, error) {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDirName), nil
		}
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// Path returns the location of the vault record.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, RecordFile)
}

// Load reads and decrypts the record.
func (s *FileStore) Load(_ context.Context) (model.Credential, error) {
	rec, err := s.readRecord()
	if err != nil {
		return model.Credential{}, err
	}

	token, err := open(s.key, rec.EncryptedToken)
	if err != nil {
		return model.Credential{}, model.NewError(model.KindCorruptRecord, "vault load", err)
	}

	return model.Credential{
		Token:      token,
		Origin:     model.OriginVault,
		Label:      rec.UserName,
		CreatedAt:  rec.CreatedAt,
		LastUsedAt: rec.LastUsed,
	}, nil
}

// Save seals cred.Token and atomically replaces the record.
func (s *FileStore) Save(_ context.Context, cred model.Credential) error {
	sealed, err := seal(s.key, cred.Token)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}

	now := s.clock.Now().UTC()
	rec := record{
		Version:        recordVersion,
		EncryptedToken: sealed,
		CreatedAt:      cred.CreatedAt.UTC(),
		LastUsed:       cred.LastUsedAt.UTC(),
		UserName:       cred.Label,
	}
	if cred.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if cred.LastUsedAt.IsZero() {
		rec.LastUsed = now
	}

	return s.writeRecord(rec)
}

// Touch re-stamps last_used without re-encrypting the token.
func (s *FileStore) Touch(_ context.Context, at time.Time) error {
	rec, err := s.readRecord()
	if err != nil {
		return err
	}
	rec.LastUsed = at.UTC()
	return s.writeRecord(rec)
}

// Delete removes the record file.
func (s *FileStore) Delete(_ context.Context) error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete vault record: %w", err)
	}
	return nil
}

func (s *FileStore) readRecord() (record, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return record{}, model.NewError(model.KindNotFound, "vault load", err)
	}
	if err != nil {
		return record{}, fmt.Errorf("read vault record: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, model.NewError(model.KindCorruptRecord, "vault load", err)
	}
	if rec.Version != recordVersion {
		return record{}, model.NewError(model.KindCorruptRecord, "vault load",
			fmt.Errorf("unsupported record version %q", rec.Version))
	}
	if rec.EncryptedToken == "" {
		return record{}, model.NewError(model.KindCorruptRecord, "vault load",
			errors.New("record has no token"))
	}
	return rec, nil
}

func (s *FileStore) writeRecord(rec record) error {
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	// MkdirAll leaves an existing directory's mode alone.
	if runtime.GOOS != "windows" {
		if err := os.Chmod(s.dir, dirMode); err != nil {
			return fmt.Errorf("restrict config dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vault record: %w", err)
	}

	if err := atomic.WriteFile(s.Path(), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write vault record: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(s.Path(), fileMode); err != nil {
			return fmt.Errorf("restrict vault record: %w", err)
		}
	}
	return nil
}
