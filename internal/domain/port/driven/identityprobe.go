package driven

import (
	"context"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

// IdentityProbe performs a single who-am-I request with an explicit token.
// A non-nil error means no HTTP response was obtained; HTTP failures are
// reported through ProbeResult.StatusCode.
type IdentityProbe interface {
	WhoAmI(ctx context.Context, token string) (model.ProbeResult, error)
}

// CredentialChecker validates a credential. The throttled transport calls it
// after a 401 to tell an expired token from a spurious rejection.
type CredentialChecker interface {
	Validate(ctx context.Context, cred model.Credential) model.Validation
}
