package driven

import (
	"context"
	"time"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

// VaultStore defines the driven port for the encrypted at-rest credential
// record. There is at most one record.
type VaultStore interface {
	// Load decrypts and returns the stored credential. Returns an error of
	// kind model.KindNotFound when no record exists and model.KindCorruptRecord
	// when the record cannot be parsed or decrypted. Corrupt records are left
	// in place.
	Load(ctx context.Context) (model.Credential, error)

	// Save encrypts and atomically writes cred, replacing any prior record.
	Save(ctx context.Context, cred model.Credential) error

	// Touch re-stamps the last-used time of the existing record.
	Touch(ctx context.Context, at time.Time) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context) error
}
