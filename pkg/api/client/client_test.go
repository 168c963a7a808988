package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	require.NoError(t, err)
	return c
}

func TestNewNormalisesBaseURL(t *testing.T) {
	c, err := New("localhost:4000/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", c.baseURL)

	c, err = New("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", c.baseURL)
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body["username"])
		_, _ = w.Write([]byte(`{"user":{"id":"u1","username":"alice"},"token":{"access_token":"tok","token_type":"Bearer","expires_in":900}}`))
	})
	resp, err := c.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.Token.AccessToken)
	assert.Equal(t, "alice", resp.User.Username)
}

func TestSetVariableReportsCreation(t *testing.T) {
	status := http.StatusCreated
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/environments/prod/variables/DB%2FURL", r.URL.EscapedPath())
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"v1","key":"DB/URL","is_secret":true,"encrypted":true}`))
	})
	v, created, err := c.SetVariable(context.Background(), "tok", "prod", "DB/URL", SetVariableInput{Value: "x", IsSecret: true})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, v.Encrypted)

	status = http.StatusOK
	_, created, err = c.SetVariable(context.Background(), "tok", "prod", "DB/URL", SetVariableInput{Value: "y"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestAPIErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"environment still owns variables"}`))
	})
	_, err := c.DeleteEnvironment(context.Background(), "tok", "prod")
	var apiErr APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "environment still owns variables", apiErr.Message)
}

func TestDeleteVariableNoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	assert.NoError(t, c.DeleteVariable(context.Background(), "tok", "prod", "K"))
}

func TestAuditLogsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "update", q.Get("action"))
		assert.Equal(t, "variable", q.Get("entity_type"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Empty(t, q.Get("offset"))
		_, _ = w.Write([]byte(`{"logs":[{"seq":3,"action":"update","entity_type":"variable","new_value":"[REDACTED]"}],"total":1,"limit":10,"offset":0}`))
	})
	page, err := c.AuditLogs(context.Background(), "tok", AuditFilter{Action: "update", EntityType: "variable", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	require.NotNil(t, page.Logs[0].NewValue)
	assert.Equal(t, "[REDACTED]", *page.Logs[0].NewValue)
}
