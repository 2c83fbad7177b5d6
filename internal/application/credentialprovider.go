package application

import (
	"sync"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

// CredentialProvider holds the credential the transport authenticates with.
// The transport reads it before every attempt, so a credential swapped in by
// CredentialService.Renew applies to every later request.
type CredentialProvider struct {
	mu   sync.RWMutex
	cred model.Credential
}

// NewCredentialProvider creates a provider holding cred.
func NewCredentialProvider(cred model.Credential) *CredentialProvider {
	return &CredentialProvider{cred: cred}
}

// Credential returns the current credential.
func (p *CredentialProvider) Credential() model.Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cred
}

// Replace swaps the current credential.
func (p *CredentialProvider) Replace(cred model.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cred = cred
}
