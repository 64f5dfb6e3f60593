package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botvisor/internal/domain"
)

type recorded struct {
	method string
	path   string
	body   string
}

func newTestServer(t *testing.T, status int, resp string) (*Client, *[]recorded) {
	t.Helper()
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		reqs = append(reqs, recorded{method: r.Method, path: r.URL.EscapedPath(), body: string(b)})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", time.Second), &reqs
}

func TestClient_Routes(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `{"success":true}`)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, ""))
	require.NoError(t, c.Stop(ctx, domain.BotSecondary))
	require.NoError(t, c.Restart(ctx, "my bot"))
	require.NoError(t, c.Say(ctx, "", "/list"))
	require.NoError(t, c.Switch(ctx, domain.BotSecondary))

	got := *reqs
	require.Len(t, got, 5)
	assert.Equal(t, recorded{http.MethodPost, "/api/bot/connect", ""}, got[0])
	assert.Equal(t, "/api/bots/Secondary/disconnect", got[1].path)
	assert.Equal(t, "/api/bots/my%20bot/restart", got[2].path)
	assert.JSONEq(t, `{"command":"/list"}`, got[3].body)
	assert.JSONEq(t, `{"botType":"Secondary"}`, got[4].body)
}

func TestClient_DecodesStatus(t *testing.T) {
	st := domain.InitialStatus()
	st.Connected = true
	st.Activity = domain.ActivityActive
	b, err := json.Marshal(st)
	require.NoError(t, err)

	c, reqs := newTestServer(t, http.StatusOK, string(b))
	got, err := c.Status(context.Background(), domain.BotPrimary)
	require.NoError(t, err)
	assert.Equal(t, st, got)
	assert.Equal(t, "/api/bots/Primary/status", (*reqs)[0].path)
}

func TestClient_APIError(t *testing.T) {
	c, _ := newTestServer(t, http.StatusInternalServerError, `{"error":"Failed to start bot"}`)
	err := c.Start(context.Background(), "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "Failed to start bot", apiErr.Message)
}

func TestClient_APIErrorPlainBody(t *testing.T) {
	c, _ := newTestServer(t, http.StatusNotFound, `404 page not found`)
	_, err := c.Config(context.Background(), "Ghost")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "404 page not found", apiErr.Message)
}

func TestClient_TransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	err := c.Start(context.Background(), "")
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
