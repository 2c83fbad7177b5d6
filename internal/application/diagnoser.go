package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

// HostResolver resolves host names. *net.Resolver satisfies it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DiagnosisStep is the outcome of one diagnostic check.
type DiagnosisStep struct {
	Name   string
	OK     bool
	Detail string
}

// Diagnosis is the full output of a token diagnosis. Token is redacted.
type Diagnosis struct {
	Token  string
	Origin model.CredentialOrigin
	Steps  []DiagnosisStep
	User   model.UserInfo
}

// Healthy reports whether every step passed.
func (d Diagnosis) Healthy() bool {
	if len(d.Steps) == 0 {
		return false
	}
	for _, s := range d.Steps {
		if !s.OK {
			return false
		}
	}
	return true
}

// Diagnoser runs the --diagnose-token checks: source, format, DNS,
// HTTPS reachability and one validation call.
type Diagnoser struct {
	validator  *CredentialValidator
	vault      *CredentialVault
	envToken   string
	baseURL    string
	resolver   HostResolver
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDiagnoser creates a Diagnoser.
func NewDiagnoser(validator *CredentialValidator, vault *CredentialVault, envToken, baseURL string, resolver HostResolver, httpClient *http.Client, logger *slog.Logger) *Diagnoser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diagnoser{
		validator:  validator,
		vault:      vault,
		envToken:   envToken,
		baseURL:    baseURL,
		resolver:   resolver,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Diagnose checks token, or the token the process would use when token is
// empty. Checks after a failed format step are skipped except the network
// checks, which do not need the token.
func (d *Diagnoser) Diagnose(ctx context.Context, token string) Diagnosis {
	var diag Diagnosis

	cred, step := d.source(ctx, token)
	diag.Steps = append(diag.Steps, step)
	diag.Origin = cred.Origin
	diag.Token = cred.Redacted()

	formatOK := false
	if step.OK {
		if err := d.validator.CheckFormat(cred.Token); err != nil {
			diag.Steps = append(diag.Steps, DiagnosisStep{Name: "format", Detail: err.Error()})
		} else {
			formatOK = true
			diag.Steps = append(diag.Steps, DiagnosisStep{Name: "format", OK: true, Detail: "length and segments look right"})
		}
	}

	host, hostStep := d.host()
	if !hostStep.OK {
		diag.Steps = append(diag.Steps, hostStep)
		return diag
	}
	diag.Steps = append(diag.Steps, d.dns(ctx, host), d.reachability(ctx))

	if formatOK {
		v := d.validator.Validate(ctx, cred)
		s := DiagnosisStep{Name: "validation", OK: v.IsValid()}
		if v.IsValid() {
			diag.User = v.User
			s.Detail = fmt.Sprintf("authenticated as %s (%s)", v.User.Name, v.User.ID)
		} else {
			s.Detail = fmt.Sprintf("%s: %v", v.Kind(), v.Err)
		}
		diag.Steps = append(diag.Steps, s)
	}

	d.logger.Debug("token diagnosis complete", "origin", diag.Origin, "healthy", diag.Healthy())
	return diag
}

func (d *Diagnoser) source(ctx context.Context, token string) (model.Credential, DiagnosisStep) {
	step := DiagnosisStep{Name: "source"}
	switch {
	case token != "":
		step.OK = true
		step.Detail = "token given on the command line"
		return model.Credential{Token: token, Origin: model.OriginPrompt}, step
	case d.envToken != "":
		step.OK = true
		step.Detail = "QUIP_API_TOKEN"
		return model.Credential{Token: d.envToken, Origin: model.OriginEnvironment}, step
	}

	cred, err := d.vault.Load(ctx)
	if err != nil {
		step.Detail = fmt.Sprintf("no usable stored token: %v", err)
		return model.Credential{}, step
	}
	step.OK = true
	step.Detail = "stored credential"
	if !cred.LastUsedAt.IsZero() {
		step.Detail += ", last used " + cred.LastUsedAt.Format("2006-01-02 15:04")
	}
	return cred, step
}

func (d *Diagnoser) host() (string, DiagnosisStep) {
	u, err := url.Parse(d.baseURL)
	if err != nil || u.Hostname() == "" {
		return "", DiagnosisStep{Name: "dns", Detail: fmt.Sprintf("invalid base url %q", d.baseURL)}
	}
	return u.Hostname(), DiagnosisStep{Name: "dns", OK: true}
}

func (d *Diagnoser) dns(ctx context.Context, host string) DiagnosisStep {
	addrs, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		return DiagnosisStep{Name: "dns", Detail: fmt.Sprintf("resolve %s: %v", host, err)}
	}
	return DiagnosisStep{Name: "dns", OK: true, Detail: fmt.Sprintf("%s resolves to %d address(es)", host, len(addrs))}
}

// reachability issues an unauthenticated GET. Any HTTP response counts.
func (d *Diagnoser) reachability(ctx context.Context) DiagnosisStep {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL, nil)
	if err != nil {
		return DiagnosisStep{Name: "connectivity", Detail: fmt.Sprintf("build request: %v", err)}
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return DiagnosisStep{Name: "connectivity", Detail: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return DiagnosisStep{Name: "connectivity", OK: true, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
}
