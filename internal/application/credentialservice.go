package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

// DefaultMaxPromptAttempts bounds how often the user is asked for a token.
const DefaultMaxPromptAttempts = 3

// ErrPromptAttemptsExhausted is returned when every prompted token was rejected.
var ErrPromptAttemptsExhausted = errors.New("no valid token entered")

// CredentialService decides which credential the process runs with. It
// holds the decision logic only; all I/O goes through the vault, validator
// and prompter ports, so it runs headless in tests.
type CredentialService struct {
	vault             *CredentialVault
	validator         *CredentialValidator
	prompter          driven.Prompter
	envToken          string
	maxPromptAttempts int
	logger            *slog.Logger
}

// NewCredentialService creates a CredentialService. envToken is the value of
// QUIP_API_TOKEN, empty if unset. prompter may be nil for non-interactive
// use, in which case acquisition fails instead of prompting.
func NewCredentialService(vault *CredentialVault, validator *CredentialValidator, prompter driven.Prompter, envToken string, logger *slog.Logger) *CredentialService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialService{
		vault:             vault,
		validator:         validator,
		prompter:          prompter,
		envToken:          strings.TrimSpace(envToken),
		maxPromptAttempts: DefaultMaxPromptAttempts,
		logger:            logger,
	}
}

// Acquire returns a validated credential. Sources are tried in order:
// environment, vault, legacy locations (with consent), then the prompter.
// An environment token is authoritative and never persisted.
func (s *CredentialService) Acquire(ctx context.Context) (model.Credential, error) {
	if s.envToken != "" {
		return s.acquireFromEnvironment(ctx)
	}

	cred, done, err := s.acquireFromVault(ctx)
	if done || err != nil {
		return cred, err
	}

	cred, done, err = s.acquireFromLegacy(ctx)
	if done || err != nil {
		return cred, err
	}

	return s.acquireFromPrompt(ctx)
}

// Logout removes the stored credential.
func (s *CredentialService) Logout(ctx context.Context) error {
	if err := s.vault.Delete(ctx); err != nil {
		return err
	}
	s.logger.Info("stored credential removed")
	return nil
}

// Renew acquires a replacement for the credential held by provider after
// the server stopped accepting it, and swaps it in. The expired record in the
// vault fails validation, so renewal ends at the legacy scan or the prompt.
func (s *CredentialService) Renew(ctx context.Context, provider *CredentialProvider) error {
	s.logger.Warn("credential expired mid-run, acquiring a new one")
	cred, err := s.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("renew credential: %w", err)
	}
	provider.Replace(cred)
	s.logger.Info("credential renewed", "origin", cred.Origin)
	return nil
}

func (s *CredentialService) acquireFromEnvironment(ctx context.Context) (model.Credential, error) {
	cred := model.Credential{Token: s.envToken, Origin: model.OriginEnvironment}
	v := s.validator.Validate(ctx, cred)
	if !v.IsValid() {
		return model.Credential{}, fmt.Errorf("QUIP_API_TOKEN rejected: %w", validationError(v))
	}
	cred.Label = v.User.Name
	s.logger.Info("using credential from environment", "user", cred.Label)
	return cred, nil
}

// acquireFromVault reports done=true when the vault produced a usable
// credential. A missing, corrupt or expired record falls through to renewal.
func (s *CredentialService) acquireFromVault(ctx context.Context) (model.Credential, bool, error) {
	cred, err := s.vault.Load(ctx)
	switch kind := model.KindOf(err); {
	case err == nil:
	case kind == model.KindNotFound:
		s.logger.Debug("no stored credential")
		return model.Credential{}, false, nil
	case kind == model.KindCorruptRecord:
		s.logger.Warn("stored credential cannot be decrypted on this machine, a new token is required", "error", err)
		return model.Credential{}, false, nil
	default:
		return model.Credential{}, false, fmt.Errorf("load stored credential: %w", err)
	}

	v := s.validator.Validate(ctx, cred)
	switch {
	case v.IsValid():
		if cred.Label == "" {
			cred.Label = v.User.Name
		}
		s.logger.Debug("using stored credential", "user", cred.Label)
		return cred, true, nil
	case v.Status == model.ValidationInvalid && v.Reason != model.ReasonForbidden:
		s.logger.Warn("stored credential is no longer valid", "reason", v.Reason)
		return model.Credential{}, false, nil
	default:
		return model.Credential{}, false, fmt.Errorf("validate stored credential: %w", validationError(v))
	}
}

// acquireFromLegacy migrates the first valid legacy token into the vault,
// cleaning every legacy location in the same step.
func (s *CredentialService) acquireFromLegacy(ctx context.Context) (model.Credential, bool, error) {
	entries, err := s.vault.DetectLegacyInsecureCredentials(ctx)
	if err != nil {
		s.logger.Warn("legacy credential scan failed", "error", err)
		return model.Credential{}, false, nil
	}
	if len(entries) == 0 || s.prompter == nil {
		return model.Credential{}, false, nil
	}

	locations := make([]string, 0, len(entries))
	for _, e := range entries {
		locations = append(locations, e.Location)
	}

	ok, err := s.prompter.ConfirmMigration(ctx, locations)
	if err != nil {
		return model.Credential{}, false, fmt.Errorf("confirm migration: %w", err)
	}
	if !ok {
		s.logger.Info("legacy credential migration declined", "locations", len(locations))
		return model.Credential{}, false, nil
	}

	tested := make(map[string]model.Validation)
	for i, e := range entries {
		v, seen := tested[e.Token]
		if !seen {
			v = s.validator.Validate(ctx, model.Credential{Token: e.Token, Origin: model.OriginLegacyFile})
			tested[e.Token] = v
		}
		if v.Status == model.ValidationTransient {
			return model.Credential{}, false, fmt.Errorf("validate legacy credential: %w", validationError(v))
		}
		if !v.IsValid() {
			continue
		}

		ordered := make([]model.LegacyEntry, 0, len(entries))
		ordered = append(ordered, e)
		ordered = append(ordered, entries[:i]...)
		ordered = append(ordered, entries[i+1:]...)

		report, err := s.vault.Migrate(ctx, ordered, v.User.Name)
		if err != nil {
			return model.Credential{}, false, err
		}
		s.logger.Info("legacy credential migrated",
			"removed", report.Removed,
			"orphaned", len(report.Orphaned),
		)

		now := s.vault.clock.Now()
		return model.Credential{
			Token:      e.Token,
			Origin:     model.OriginVault,
			Label:      v.User.Name,
			CreatedAt:  now,
			LastUsedAt: now,
		}, true, nil
	}

	s.logger.Warn("no legacy credential is still valid, a new token is required", "locations", len(locations))
	return model.Credential{}, false, nil
}

func (s *CredentialService) acquireFromPrompt(ctx context.Context) (model.Credential, error) {
	if s.prompter == nil {
		return model.Credential{}, model.NewError(model.KindNotFound, "acquire credential",
			errors.New("no credential available; set QUIP_API_TOKEN"))
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxPromptAttempts; attempt++ {
		token, err := s.prompter.PromptForNewCredential(ctx)
		if err != nil {
			return model.Credential{}, fmt.Errorf("prompt for token: %w", err)
		}
		token = strings.TrimSpace(token)

		cred := model.Credential{Token: token, Origin: model.OriginPrompt}
		v := s.validator.Validate(ctx, cred)
		if v.Status == model.ValidationTransient {
			return model.Credential{}, fmt.Errorf("validate entered token: %w", validationError(v))
		}
		if !v.IsValid() {
			lastErr = validationError(v)
			s.logger.Warn("entered token rejected", "attempt", attempt, "reason", v.Reason)
			continue
		}

		cred.Label = v.User.Name
		if err := s.vault.Store(ctx, cred.Token, cred.Label); err != nil {
			return model.Credential{}, err
		}
		s.logger.Info("new credential stored", "user", cred.Label)
		return cred, nil
	}

	return model.Credential{}, fmt.Errorf("%w after %d attempts: %w", ErrPromptAttemptsExhausted, s.maxPromptAttempts, lastErr)
}

// validationError returns the classified error behind a failed validation.
func validationError(v model.Validation) error {
	if v.Err != nil {
		return v.Err
	}
	return model.NewError(v.Kind(), "validate credential", nil)
}
