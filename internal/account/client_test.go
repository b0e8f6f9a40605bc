package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func TestClient_LoginUsesBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/account/token", r.URL.Path)
		assert.Equal(t, model.BasicAuth("phil", "secret"), r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"token": "tk_new"})
	}))
	defer server.Close()

	c := NewClient(server.URL, staticToken(""), time.Minute)
	token, err := c.Login(context.Background(), "phil", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tk_new", token)
}

func TestClient_GetIsCachedUntilInvalidated(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer tk_1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Account{Username: "phil", SyncTopic: "st_abc"})
	}))
	defer server.Close()

	ctx := context.Background()
	c := NewClient(server.URL, staticToken("tk_1"), time.Minute)

	acct, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "st_abc", acct.SyncTopic)
	_, err = c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	c.Invalidate()
	_, err = c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClient_SubscriptionAndReservationCalls(t *testing.T) {
	type seen struct {
		method, path string
		header       http.Header
		body         map[string]any
	}
	var requests []seen
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, seen{r.Method, r.URL.Path, r.Header.Clone(), body})
		if r.URL.Path == "/v1/account/reservation" {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{"error": "topic already reserved"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx := context.Background()
	c := NewClient(server.URL, staticToken("tk_1"), time.Minute)

	require.NoError(t, c.AddSubscription(ctx, "https://ntfy.example/", "alerts"))
	name := "Alerts"
	require.NoError(t, c.UpdateSubscription(ctx, "https://ntfy.example", "alerts", &name))
	require.NoError(t, c.DeleteSubscription(ctx, "https://ntfy.example", "alerts"))
	require.NoError(t, c.DeleteReservation(ctx, "alerts", true))

	err := c.UpsertReservation(ctx, "alerts", "deny-all")
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), "topic already reserved")

	require.Len(t, requests, 5)
	assert.Equal(t, http.MethodPost, requests[0].method)
	assert.Equal(t, "https://ntfy.example", requests[0].body["base_url"])
	assert.Equal(t, "Alerts", requests[1].body["display_name"])
	assert.Equal(t, "alerts", requests[2].header.Get("X-Topic"))
	assert.Equal(t, "/v1/account/reservation/alerts", requests[3].path)
	assert.Equal(t, "true", requests[3].header.Get("X-Delete-Messages"))
}

func TestClient_AuthFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	ctx := context.Background()
	_, err := NewClient(server.URL, staticToken("tk_expired"), time.Minute).Get(ctx)
	assert.Equal(t, errs.Unauthorized, errs.KindOf(err))

	_, err = NewClient(server.URL, staticToken(""), time.Minute).Get(ctx)
	assert.Equal(t, errs.Unauthorized, errs.KindOf(err))
}

func TestClient_Billing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/account/billing/subscription", r.URL.Path)
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(BillingResponse{RedirectURL: "https://pay.example/checkout"})
		}
	}))
	defer server.Close()

	ctx := context.Background()
	c := NewClient(server.URL, staticToken("tk_1"), time.Minute)
	resp, err := c.CreateBillingSubscription(ctx, BillingRequest{Tier: "pro", Interval: "month"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/checkout", resp.RedirectURL)
	require.NoError(t, c.UpdateBillingSubscription(ctx, BillingRequest{Tier: "business"}))
	require.NoError(t, c.DeleteBillingSubscription(ctx))
}
