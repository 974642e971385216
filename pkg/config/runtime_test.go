package config

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/adapter/tcp"
	"github.com/marmos91/dittocgi/pkg/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := GetDefaultConfig()
	cfg.Server.Backend = "direct"
	cfg.Server.AccessLog = false
	cfg.Adapters.TCP.Port = -1
	cfg.Adapters.TCP.MetricsLogInterval = -1
	cfg.Content.Enabled = true
	cfg.Journal.Enabled = true
	cfg.Compression.Enabled = true
	return cfg
}

func tryGet(addr net.Addr, path string) (*http.Response, []byte, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = conn.Close() }()
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return nil, nil, err
	}

	if _, err := io.WriteString(conn, "GET "+path+" HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n"); err != nil {
		return nil, nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return nil, nil, err
	}
	body, err := io.ReadAll(resp.Body)
	return resp, body, err
}

func get(t *testing.T, addr net.Addr, path string) (*http.Response, []byte) {
	t.Helper()
	resp, body, err := tryGet(addr, path)
	require.NoError(t, err)
	return resp, body
}

func TestBuild_RegistersRoutes(t *testing.T) {
	rt, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	assert.ElementsMatch(t,
		[]string{"/_health", "/_connections", "/_journal", "/static/*"},
		rt.Server.Router().Patterns())
	assert.NotNil(t, rt.Content)
	assert.NotNil(t, rt.Journal)
	assert.Nil(t, rt.Backend.Limiter, "direct backend has no limiter")
	require.Len(t, rt.Server.Adapters(), 1)
}

func TestBuild_MinimalConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.HealthPath = ""
	cfg.Server.ConnectionsPath = ""

	rt, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	assert.Empty(t, rt.Server.Router().Patterns())
	assert.Nil(t, rt.Content)
	assert.Nil(t, rt.Journal)
	assert.NotNil(t, rt.Backend.Limiter)
}

func TestBuild_FailureReleasesResources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Content.Type = "filesystem"
	cfg.Content.Filesystem = map[string]any{}

	rt, err := Build(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, rt)
}

func TestRuntime_Apply(t *testing.T) {
	cfg := GetDefaultConfig()
	rt, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	prev := logger.GetLevel()
	t.Cleanup(func() { logger.SetLevel(prev.String()) })

	reloaded := GetDefaultConfig()
	reloaded.Logging.Level = "ERROR"
	reloaded.Server.RateLimit.RequestsPerSecond = 5
	reloaded.Server.RateLimit.Burst = 1
	rt.Apply(reloaded)

	assert.Equal(t, logger.LevelError, logger.GetLevel())
	assert.False(t, rt.Backend.Limiter.Unlimited())
	assert.True(t, rt.Backend.Limiter.Allow())
	assert.False(t, rt.Backend.Limiter.Allow(), "burst of one is exhausted")
}

func TestRuntime_ServesBuiltinRoutes(t *testing.T) {
	rt, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	require.NoError(t, rt.Content.Put(context.Background(), "hello.txt", []byte("hello from the store"), "text/plain"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	addr := rt.Server.Adapters()[0].(*tcp.TCPAdapter).Addr()

	resp, body := get(t, addr, "/static/hello.txt")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello from the store", string(body))
	assert.Equal(t, "dittocgi", resp.Header.Get("Server"))
	assert.NotEmpty(t, resp.Header.Get("ETag"))

	resp, body = get(t, addr, "/_health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "direct", health.Backend)

	resp, _ = get(t, addr, "/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Journal recording happens after the response is sent.
	require.Eventually(t, func() bool {
		resp, body, err := tryGet(addr, "/_journal")
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		var journal handlers.JournalResponse
		if err := json.Unmarshal(body, &journal); err != nil {
			return false
		}
		return journal.Count >= 3
	}, 5*time.Second, 50*time.Millisecond)
}
