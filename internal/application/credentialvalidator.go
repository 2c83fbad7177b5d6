package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialChecker = (*CredentialValidator)(nil)

// FormatRules describe the shape of a well-formed token.
type FormatRules struct {
	MinLength int
	Delimiter string
	Segments  int
}

// DefaultFormatRules matches Quip personal access tokens.
var DefaultFormatRules = FormatRules{MinLength: 30, Delimiter: "|", Segments: 3}

// CredentialValidator confirms a credential is live with one who-am-I call.
type CredentialValidator struct {
	probe  driven.IdentityProbe
	vault  *CredentialVault
	rules  FormatRules
	logger *slog.Logger
}

// NewCredentialValidator creates a validator. vault may be nil, in which
// case last-used stamping is skipped.
func NewCredentialValidator(probe driven.IdentityProbe, vault *CredentialVault, rules FormatRules, logger *slog.Logger) *CredentialValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialValidator{probe: probe, vault: vault, rules: rules, logger: logger}
}

// CheckFormat validates the token shape without any network call.
func (v *CredentialValidator) CheckFormat(token string) error {
	var problem string
	switch {
	case token == "":
		problem = "token is empty"
	case len(token) < v.rules.MinLength:
		problem = fmt.Sprintf("token is shorter than %d characters", v.rules.MinLength)
	case strings.IndexFunc(token, unicode.IsSpace) >= 0:
		problem = "token contains whitespace"
	case v.rules.Delimiter != "" && len(strings.Split(token, v.rules.Delimiter)) != v.rules.Segments:
		problem = fmt.Sprintf("token does not have %d %q-separated parts", v.rules.Segments, v.rules.Delimiter)
	default:
		return nil
	}
	return model.NewError(model.KindMalformed, "check token format", errors.New(problem))
}

// Validate runs the format check and, if it passes, exactly one who-am-I
// request. Vault-origin credentials have their last-used time re-stamped on
// success.
func (v *CredentialValidator) Validate(ctx context.Context, cred model.Credential) model.Validation {
	if err := v.CheckFormat(cred.Token); err != nil {
		return model.Validation{Status: model.ValidationInvalid, Reason: model.ReasonMalformed, Err: err}
	}

	res, err := v.probe.WhoAmI(ctx, cred.Token)
	if err != nil {
		return model.Validation{Status: model.ValidationTransient, Err: model.NewError(model.KindTransient, "validate credential", err)}
	}

	result := classifyProbe(res)
	if !result.IsValid() {
		v.logger.Debug("credential rejected",
			"origin", cred.Origin,
			"token", cred.Redacted(),
			"status", res.StatusCode,
			"reason", result.Kind().String(),
		)
		return result
	}

	if cred.Origin == model.OriginVault && v.vault != nil {
		if err := v.vault.StampLastUsed(ctx); err != nil {
			v.logger.Warn("could not stamp credential last-used time", "error", err)
		}
	}
	return result
}

func classifyProbe(res model.ProbeResult) model.Validation {
	op := "validate credential"
	cause := func() error {
		if res.ErrorDescription != "" {
			return errors.New(res.ErrorDescription)
		}
		return fmt.Errorf("http %d", res.StatusCode)
	}

	switch {
	case res.StatusCode == http.StatusOK && res.User.ID != "":
		return model.Validation{Status: model.ValidationValid, User: res.User}

	case res.StatusCode == http.StatusOK:
		return model.Validation{Status: model.ValidationTransient,
			Err: &model.Error{Kind: model.KindTransient, Op: op, Status: res.StatusCode, Err: errors.New("response has no user id")}}

	case res.StatusCode == http.StatusUnauthorized:
		if mentionsMalformed(res.ErrorDescription) {
			return model.Validation{Status: model.ValidationInvalid, Reason: model.ReasonMalformed,
				Err: &model.Error{Kind: model.KindMalformed, Op: op, Status: res.StatusCode, Err: cause()}}
		}
		return model.Validation{Status: model.ValidationInvalid, Reason: model.ReasonExpired,
			Err: &model.Error{Kind: model.KindExpired, Op: op, Status: res.StatusCode, Err: cause()}}

	case res.StatusCode == http.StatusBadRequest:
		return model.Validation{Status: model.ValidationInvalid, Reason: model.ReasonMalformed,
			Err: &model.Error{Kind: model.KindMalformed, Op: op, Status: res.StatusCode, Err: cause()}}

	case res.StatusCode == http.StatusForbidden:
		return model.Validation{Status: model.ValidationInvalid, Reason: model.ReasonForbidden,
			Err: &model.Error{Kind: model.KindForbidden, Op: op, Status: res.StatusCode, Err: cause()}}

	default:
		return model.Validation{Status: model.ValidationTransient,
			Err: &model.Error{Kind: model.KindTransient, Op: op, Status: res.StatusCode, Err: cause()}}
	}
}

func mentionsMalformed(desc string) bool {
	d := strings.ToLower(desc)
	return strings.Contains(d, "malformed") || strings.Contains(d, "format")
}
