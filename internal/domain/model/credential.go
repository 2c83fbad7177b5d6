package model

import "time"

// CredentialOrigin records where the active credential was obtained from.
type CredentialOrigin string

const (
	// OriginEnvironment marks a token taken from QUIP_API_TOKEN. It is never persisted.
	OriginEnvironment CredentialOrigin = "environment"
	// OriginLegacyFile marks a token read from a plaintext shell profile entry.
	OriginLegacyFile CredentialOrigin = "legacy-file"
	// OriginVault marks a token decrypted from the local vault record.
	OriginVault CredentialOrigin = "vault"
	// OriginPrompt marks a token just entered by the user.
	OriginPrompt CredentialOrigin = "prompt"
)

// Credential is the single bearer token the process authenticates with.
type Credential struct {
	Token      string
	Origin     CredentialOrigin
	Label      string // Display name of the token owner, if known.
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Redacted returns the token in a form that is safe to print or log.
func (c Credential) Redacted() string {
	return RedactToken(c.Token)
}

// RedactToken keeps the first and last four characters of a token and masks
// the rest. Short tokens are masked entirely.
func RedactToken(token string) string {
	const keep = 4
	if len(token) <= keep*2 {
		return "****"
	}
	return token[:keep] + "..." + token[len(token)-keep:]
}

// LegacyEntry is a plaintext token found in an insecure location.
type LegacyEntry struct {
	Location string
	Token    string
}

// OrphanedLocation is a legacy location whose cleanup failed after the token
// had already been written to the vault.
type OrphanedLocation struct {
	Location string
	Err      error
}

// MigrationReport summarizes a single migration from legacy storage to the vault.
type MigrationReport struct {
	Migrated bool
	Removed  []string
	Orphaned []OrphanedLocation
}
