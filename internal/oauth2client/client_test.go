package oauth2client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector-hub/internal/common/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := New(map[string]ProviderConfig{
		"github": {
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			TokenURL:     server.URL + "/token",
		},
	}, nil)
	client.SetHTTPClient(server.Client())
	return client
}

// unsignedIDToken builds an alg=none JWT carrying only an exp claim
func unsignedIDToken(t *testing.T, exp time.Time) string {
	t.Helper()
	encode := func(v interface{}) string {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(raw)
	}
	header := encode(map[string]string{"alg": "none", "typ": "JWT"})
	claims := encode(map[string]int64{"exp": exp.Unix()})
	return header + "." + claims + "."
}

func TestClient_Refresh(t *testing.T) {
	var gotGrantType, gotRefreshToken string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotGrantType = r.FormValue("grant_type")
		gotRefreshToken = r.FormValue("refresh_token")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"token_type":    "bearer",
			"expires_in":    3600,
			"scope":         "repo read:user",
		})
	})

	record, err := client.Refresh(context.Background(), "github", "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotGrantType)
	assert.Equal(t, "old-refresh", gotRefreshToken)
	assert.Equal(t, "new-access", record.AccessToken)
	assert.Equal(t, "new-refresh", record.RefreshToken)
	assert.Equal(t, "repo read:user", record.Scope)
	require.NotNil(t, record.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *record.ExpiresAt, time.Minute)
}

func TestClient_RefreshInvalidGrant(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "The refresh token is revoked",
		})
	})

	_, err := client.Refresh(context.Background(), "github", "revoked")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeReauthRequired), "got %v", err)
}

func TestClient_RefreshTransientFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Refresh(context.Background(), "github", "rt")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRefreshTransient), "got %v", err)
}

func TestClient_RefreshUnknownProvider(t *testing.T) {
	client := New(nil, nil)

	_, err := client.Refresh(context.Background(), "nope", "rt")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestClient_IDTokenExpiryFallback(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	idToken := unsignedIDToken(t, exp)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// No expires_in; the only expiry signal is the ID token's exp claim
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "new-access",
			"token_type":   "bearer",
			"id_token":     idToken,
		})
	})

	record, err := client.Refresh(context.Background(), "github", "rt")
	require.NoError(t, err)
	assert.Equal(t, idToken, record.IDToken)
	require.NotNil(t, record.ExpiresAt)
	assert.True(t, record.ExpiresAt.Equal(exp))
}
