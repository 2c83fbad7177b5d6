package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/platform/clock"
)

// CredentialVault owns the single at-rest credential and its migration out
// of legacy plaintext locations. It performs no network I/O.
type CredentialVault struct {
	store  driven.VaultStore
	legacy driven.LegacyStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewCredentialVault creates a CredentialVault. legacy may be nil when no
// legacy locations should be considered.
func NewCredentialVault(store driven.VaultStore, legacy driven.LegacyStore, clk clock.Clock, logger *slog.Logger) *CredentialVault {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialVault{store: store, legacy: legacy, clock: clk, logger: logger}
}

// Load returns the stored credential. Errors are of kind NotFound or
// CorruptRecord, or wrap an I/O failure.
func (v *CredentialVault) Load(ctx context.Context) (model.Credential, error) {
	cred, err := v.store.Load(ctx)
	if err != nil {
		return model.Credential{}, err
	}
	return cred, nil
}

// Store encrypts token and replaces any existing record.
func (v *CredentialVault) Store(ctx context.Context, token, label string) error {
	now := v.clock.Now()
	err := v.store.Save(ctx, model.Credential{
		Token:      token,
		Origin:     model.OriginVault,
		Label:      label,
		CreatedAt:  now,
		LastUsedAt: now,
	})
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// StampLastUsed re-stamps the last-used time of the stored record.
func (v *CredentialVault) StampLastUsed(ctx context.Context) error {
	if err := v.store.Touch(ctx, v.clock.Now()); err != nil {
		return fmt.Errorf("stamp last used: %w", err)
	}
	return nil
}

// Delete removes the stored record.
func (v *CredentialVault) Delete(ctx context.Context) error {
	if err := v.store.Delete(ctx); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// DetectLegacyInsecureCredentials lists plaintext tokens in legacy
// locations without touching them.
func (v *CredentialVault) DetectLegacyInsecureCredentials(ctx context.Context) ([]model.LegacyEntry, error) {
	if v.legacy == nil {
		return nil, nil
	}
	entries, err := v.legacy.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan legacy locations: %w", err)
	}
	return entries, nil
}

// Migrate writes the token of entries[0] to the vault, then removes every
// listed location. Entries whose location no longer holds their token are
// skipped, and when none remain nothing is stored. Nothing is removed unless
// the vault write succeeded. A location whose removal fails is reported as
// orphaned and not retried. Migrating an empty list is a no-op.
func (v *CredentialVault) Migrate(ctx context.Context, entries []model.LegacyEntry, label string) (model.MigrationReport, error) {
	var report model.MigrationReport
	if len(entries) == 0 || v.legacy == nil {
		return report, nil
	}

	live, err := v.stillPresent(ctx, entries)
	if err != nil {
		return report, fmt.Errorf("migrate credential: %w", err)
	}
	if len(live) == 0 {
		v.logger.Debug("legacy credentials already migrated", "entries", len(entries))
		return report, nil
	}

	if err := v.Store(ctx, entries[0].Token, label); err != nil {
		return report, fmt.Errorf("migrate credential: %w", err)
	}
	report.Migrated = true

	seen := make(map[string]struct{}, len(live))
	for _, e := range live {
		if _, ok := seen[e.Location]; ok {
			continue
		}
		seen[e.Location] = struct{}{}

		stripped, err := v.legacy.Remove(ctx, e.Location)
		if err != nil {
			v.logger.Warn("legacy credential left in place", "location", e.Location, "error", err)
			report.Orphaned = append(report.Orphaned, model.OrphanedLocation{Location: e.Location, Err: err})
			continue
		}
		if stripped {
			report.Removed = append(report.Removed, e.Location)
		}
	}

	v.logger.Info("credential migrated to vault",
		"removed", len(report.Removed),
		"orphaned", len(report.Orphaned),
	)
	return report, nil
}

// stillPresent filters entries down to those a fresh scan still reports at
// the same location with the same token.
func (v *CredentialVault) stillPresent(ctx context.Context, entries []model.LegacyEntry) ([]model.LegacyEntry, error) {
	current, err := v.legacy.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rescan legacy locations: %w", err)
	}
	present := make(map[model.LegacyEntry]struct{}, len(current))
	for _, e := range current {
		present[e] = struct{}{}
	}

	var live []model.LegacyEntry
	for _, e := range entries {
		if _, ok := present[e]; ok {
			live = append(live, e)
		}
	}
	return live, nil
}
