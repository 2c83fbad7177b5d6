package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/application"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

type serviceFixture struct {
	store    *memVaultStore
	legacy   *mockLegacyStore
	probe    *mockProbe
	prompter *mockPrompter
}

func newServiceFixture(validTokens ...string) *serviceFixture {
	return &serviceFixture{
		store:    &memVaultStore{},
		legacy:   &mockLegacyStore{},
		probe:    acceptingProbe(validTokens...),
		prompter: &mockPrompter{},
	}
}

func (f *serviceFixture) service(envToken string) *application.CredentialService {
	vault := newTestVault(f.store, f.legacy)
	validator := application.NewCredentialValidator(f.probe, vault, application.DefaultFormatRules, nil)
	var prompter driven.Prompter
	if f.prompter != nil {
		prompter = f.prompter
	}
	return application.NewCredentialService(vault, validator, prompter, envToken, nil)
}

func TestCredentialService_EnvironmentTokenWins(t *testing.T) {
	f := newServiceFixture(testToken)
	f.store.cred = &model.Credential{Token: otherToken, Origin: model.OriginVault}

	cred, err := f.service(testToken).Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testToken, cred.Token)
	assert.Equal(t, model.OriginEnvironment, cred.Origin)
	assert.Equal(t, testUser.Name, cred.Label)
	assert.Equal(t, 0, f.store.saves, "environment tokens are never persisted")
	assert.Equal(t, 0, f.prompter.prompts)
}

func TestCredentialService_EnvironmentTokenRejected(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service(testToken).Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExpired)
	assert.Equal(t, 0, f.prompter.prompts)
}

func TestCredentialService_StoredCredential(t *testing.T) {
	f := newServiceFixture(testToken)
	f.store.cred = &model.Credential{Token: testToken, Origin: model.OriginVault, Label: "Pat Doe"}

	cred, err := f.service("").Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testToken, cred.Token)
	assert.Equal(t, model.OriginVault, cred.Origin)
	assert.Len(t, f.store.touched, 1)
	assert.Equal(t, 0, f.prompter.prompts)
}

func TestCredentialService_RenewsUnusableStoredCredential(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *serviceFixture)
	}{
		{
			name:  "missing",
			setup: func(*serviceFixture) {},
		},
		{
			name: "corrupt",
			setup: func(f *serviceFixture) {
				f.store.loadErr = model.NewError(model.KindCorruptRecord, "load credential", nil)
			},
		},
		{
			name: "expired",
			setup: func(f *serviceFixture) {
				f.store.cred = &model.Credential{Token: otherToken, Origin: model.OriginVault}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(testToken)
			tt.setup(f)
			f.prompter.tokens = []string{"  " + testToken + "\n"}

			cred, err := f.service("").Acquire(context.Background())
			require.NoError(t, err)

			assert.Equal(t, testToken, cred.Token)
			assert.Equal(t, model.OriginPrompt, cred.Origin)
			assert.Equal(t, 1, f.prompter.prompts)
			require.NotNil(t, f.store.stored())
			assert.Equal(t, testToken, f.store.stored().Token)
			assert.Equal(t, testUser.Name, f.store.stored().Label)
		})
	}
}

func TestCredentialService_ForbiddenStoredCredentialDoesNotPrompt(t *testing.T) {
	f := newServiceFixture()
	f.store.cred = &model.Credential{Token: testToken, Origin: model.OriginVault}
	f.probe.whoAmI = func(string) (model.ProbeResult, error) {
		return model.ProbeResult{StatusCode: 403}, nil
	}
	f.prompter.tokens = []string{testToken}

	_, err := f.service("").Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Equal(t, 0, f.prompter.prompts)
}

func TestCredentialService_MigratesLegacyWithConsent(t *testing.T) {
	f := newServiceFixture(testToken)
	f.legacy.entries = []model.LegacyEntry{
		{Location: "/home/pat/.bashrc", Token: testToken},
		{Location: "/home/pat/.zshrc", Token: testToken},
	}
	f.prompter.consent = true

	cred, err := f.service("").Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testToken, cred.Token)
	assert.Equal(t, model.OriginVault, cred.Origin)
	assert.Equal(t, []string{"/home/pat/.bashrc", "/home/pat/.zshrc"}, f.legacy.removed)
	require.Len(t, f.prompter.confirms, 1)
	assert.Equal(t, 0, f.prompter.prompts)
	require.NotNil(t, f.store.stored())
	assert.Equal(t, testToken, f.store.stored().Token)
	assert.Equal(t, 1, f.probe.callCount(), "duplicate tokens are validated once")
}

func TestCredentialService_MigratesFirstValidLegacyToken(t *testing.T) {
	f := newServiceFixture(testToken)
	f.legacy.entries = []model.LegacyEntry{
		{Location: "/home/pat/.bashrc", Token: otherToken},
		{Location: "/home/pat/.zshrc", Token: testToken},
	}
	f.prompter.consent = true

	cred, err := f.service("").Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testToken, cred.Token)
	assert.Equal(t, testToken, f.store.stored().Token)
	assert.ElementsMatch(t, []string{"/home/pat/.bashrc", "/home/pat/.zshrc"}, f.legacy.removed)
}

func TestCredentialService_DeclinedMigrationLeavesFiles(t *testing.T) {
	f := newServiceFixture(testToken)
	f.legacy.entries = []model.LegacyEntry{{Location: "/home/pat/.bashrc", Token: testToken}}
	f.prompter.consent = false
	f.prompter.tokens = []string{testToken}

	cred, err := f.service("").Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.OriginPrompt, cred.Origin)
	assert.Empty(t, f.legacy.removed)
	assert.Equal(t, 1, f.prompter.prompts)
}

func TestCredentialService_InvalidLegacyTokensFallToPrompt(t *testing.T) {
	f := newServiceFixture(testToken)
	f.legacy.entries = []model.LegacyEntry{{Location: "/home/pat/.bashrc", Token: otherToken}}
	f.prompter.consent = true
	f.prompter.tokens = []string{testToken}

	cred, err := f.service("").Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.OriginPrompt, cred.Origin)
	assert.Empty(t, f.legacy.removed, "legacy files are kept when nothing was migrated")
}

func TestCredentialService_PromptAttemptsExhausted(t *testing.T) {
	f := newServiceFixture()
	f.prompter.tokens = []string{"short", otherToken, testToken}

	_, err := f.service("").Acquire(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, application.ErrPromptAttemptsExhausted)
	assert.ErrorIs(t, err, model.ErrExpired)
	assert.Equal(t, application.DefaultMaxPromptAttempts, f.prompter.prompts)
	assert.Nil(t, f.store.stored())
	assert.Equal(t, 2, f.probe.callCount(), "malformed tokens are never sent")
}

func TestCredentialService_NonInteractiveWithoutCredential(t *testing.T) {
	f := newServiceFixture()
	f.prompter = nil

	_, err := f.service("").Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCredentialService_Logout(t *testing.T) {
	f := newServiceFixture()
	f.store.cred = &model.Credential{Token: testToken, Origin: model.OriginVault}

	require.NoError(t, f.service("").Logout(context.Background()))
	assert.Nil(t, f.store.stored())
}

func TestCredentialService_RenewSwapsProviderCredential(t *testing.T) {
	f := newServiceFixture(testToken)
	f.store.cred = &model.Credential{Token: otherToken, Origin: model.OriginVault}
	f.prompter.tokens = []string{testToken}
	provider := application.NewCredentialProvider(*f.store.cred)

	require.NoError(t, f.service("").Renew(context.Background(), provider))

	assert.Equal(t, testToken, provider.Credential().Token)
	assert.Equal(t, model.OriginPrompt, provider.Credential().Origin)
	require.NotNil(t, f.store.stored())
	assert.Equal(t, testToken, f.store.stored().Token)
}

func TestCredentialService_RenewFailureKeepsProviderCredential(t *testing.T) {
	f := newServiceFixture()
	f.prompter = nil
	provider := application.NewCredentialProvider(model.Credential{Token: otherToken})

	err := f.service("").Renew(context.Background(), provider)
	require.Error(t, err)

	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, otherToken, provider.Credential().Token)
}
