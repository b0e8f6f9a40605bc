package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-sync-client/config"
	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
)

type mockUsers struct {
	users map[string]*model.User
}

func (m *mockUsers) GetUser(ctx context.Context, baseURL string) (*model.User, error) {
	if u, ok := m.users[baseURL]; ok {
		return u, nil
	}
	return nil, errs.E(errs.NotFound, "test", nil)
}

func TestWebPushRegistrar_Update(t *testing.T) {
	var gotMethod, gotAuth string
	var gotBody updateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/webpush", r.URL.Path)
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	users := &mockUsers{users: map[string]*model.User{server.URL: {BaseURL: server.URL, Token: "tk_1"}}}
	r := NewWebPushRegistrar(config.PushConfig{Endpoint: "https://push.test/ep", P256DH: "key", Auth: "secret"}, users)

	require.NoError(t, r.Update(context.Background(), server.URL, []string{"alerts", "backups"}))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "Bearer tk_1", gotAuth)
	assert.Equal(t, "https://push.test/ep", gotBody.Endpoint)
	assert.Equal(t, []string{"alerts", "backups"}, gotBody.Topics)
	assert.Equal(t, "key", gotBody.P256DH)

	require.NoError(t, r.Update(context.Background(), server.URL, nil))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Empty(t, gotBody.Topics)
}

func TestWebPushRegistrar_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	users := &mockUsers{}

	unconfigured := NewWebPushRegistrar(config.PushConfig{}, users)
	err := unconfigured.Update(context.Background(), server.URL, []string{"alerts"})
	assert.Equal(t, errs.Validation, errs.KindOf(err))
	assert.ErrorIs(t, err, ErrNotConfigured)

	r := NewWebPushRegistrar(config.PushConfig{Endpoint: "https://push.test/ep"}, users)
	err = r.Update(context.Background(), server.URL, []string{"alerts"})
	assert.Equal(t, errs.Unauthorized, errs.KindOf(err))
}
