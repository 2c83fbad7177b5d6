package quip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IdentityProbe = (*Probe)(nil)

// Probe performs single who-am-I calls without retries. When given a
// RateLimitState it reserves quota before sending and folds the response
// headers back in, so validation shares the budget of the batch traffic.
type Probe struct {
	httpClient *http.Client
	baseURL    string
	state      *RateLimitState
}

// NewProbe creates a Probe. state may be nil.
func NewProbe(httpClient *http.Client, baseURL string, state *RateLimitState) *Probe {
	return &Probe{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		state:      state,
	}
}

// WhoAmI calls GET /1/users/current with token.
func (p *Probe) WhoAmI(ctx context.Context, token string) (model.ProbeResult, error) {
	if p.state != nil {
		if err := p.state.Reserve(ctx, nil); err != nil {
			return model.ProbeResult{}, err
		}
	}

	u, err := url.Parse(p.baseURL + "/1/users/current")
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("parsing base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("who-am-i request: %w", err)
	}
	defer resp.Body.Close()

	if p.state != nil {
		p.state.Update(resp.Header)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("read who-am-i body: %w", err)
	}

	result := model.ProbeResult{StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		result.ErrorDescription = describeError(body)
		return result, nil
	}

	var usr userJSON
	if err := decodeJSON(body, &usr); err != nil {
		result.ErrorDescription = err.Error()
		return result, nil
	}
	result.User = mapUser(usr)
	return result, nil
}
