package driven

import (
	"context"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

// LegacyStore defines the driven port for plaintext credential locations left
// behind by older releases.
type LegacyStore interface {
	// Scan returns every legacy entry in a stable order. It never mutates.
	Scan(ctx context.Context) ([]model.LegacyEntry, error)

	// Remove deletes the entry at location and reports whether anything was
	// stripped. Removing an already-clean location returns false, nil.
	Remove(ctx context.Context, location string) (bool, error)
}
