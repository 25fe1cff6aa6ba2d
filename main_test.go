package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choraleia/chatengine/pkg/config"
	"github.com/choraleia/chatengine/pkg/db"
	"github.com/choraleia/chatengine/pkg/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	repo := store.New(database)
	require.NoError(t, repo.AutoMigrate())
	t.Cleanup(func() { _ = repo.Close() })

	moderation := false
	cfg := &config.AppConfig{
		Environment: "development",
		Auth:        config.AuthConfig{EndpointAPIKey: "k"},
		Model:       config.ModelConfig{Provider: "openai", APIKey: "sk-test"},
		Moderation:  config.ModerationConfig{Enabled: &moderation},
	}

	server, err := NewServer(context.Background(), cfg, repo)
	require.NoError(t, err)
	return server
}

func TestServerRoutes(t *testing.T) {
	server := newTestServer(t)

	w := httptest.NewRecorder()
	server.ginEngine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	server.ginEngine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/conversation/create", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/conversation/end", strings.NewReader(`{"secret":"missing"}`))
	req.Header.Set("Authorization", "k")
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	server.ginEngine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerStartAndShutdown(t *testing.T) {
	server := newTestServer(t)
	port := 0
	server.cfg.Server.Port = &port
	host := "127.0.0.1"
	server.cfg.Server.Host = &host

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, server.Start(ctx))
	assert.NotZero(t, server.port)

	cancel()
	<-server.Done()
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}
