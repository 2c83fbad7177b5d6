package quip_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/adapter/driven/quip"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/platform/clock"
)

func TestProbe_WhoAmI(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantUser model.UserInfo
		wantDesc string
	}{
		{
			name:     "valid",
			status:   http.StatusOK,
			body:     `{"id":"U1","name":"Alice"}`,
			wantUser: model.UserInfo{ID: "U1", Name: "Alice"},
		},
		{
			name:     "expired",
			status:   http.StatusUnauthorized,
			body:     `{"error":"Unauthorized","error_code":401,"error_description":"Invalid access token"}`,
			wantDesc: "Invalid access token",
		},
		{
			name:     "plain text error",
			status:   http.StatusServiceUnavailable,
			body:     "maintenance",
			wantDesc: "maintenance",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/1/users/current", r.URL.Path)
				assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(server.Close)

			res, err := quip.NewProbe(server.Client(), server.URL, nil).WhoAmI(context.Background(), testToken)

			require.NoError(t, err)
			assert.Equal(t, tc.status, res.StatusCode)
			assert.Equal(t, tc.wantUser, res.User)
			assert.Equal(t, tc.wantDesc, res.ErrorDescription)
		})
	}
}

func TestProbe_SharesRateLimitState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for k, v := range rateHeaders(12, 50, epoch.Add(time.Minute)) {
			w.Header()[k] = v
		}
		_, _ = w.Write([]byte(`{"id":"U1"}`))
	}))
	t.Cleanup(server.Close)

	state := quip.NewRateLimitState(clock.Fake(epoch), time.Second)
	_, err := quip.NewProbe(server.Client(), server.URL, state).WhoAmI(context.Background(), testToken)

	require.NoError(t, err)
	assert.Equal(t, 12, state.Snapshot().Remaining)
}

func TestProbe_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	_, err := quip.NewProbe(http.DefaultClient, base, nil).WhoAmI(context.Background(), testToken)

	assert.Error(t, err)
}
