package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/poolhttpd/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.html"), []byte("<h1>hi</h1>"), 0o600))

	return config.Config{
		Server:     config.ServerConfig{Addr: "127.0.0.1:0"},
		Pool:       config.PoolConfig{Workers: 2},
		Connection: config.ConnectionConfig{MaxLineBytes: 8192, LingerMs: 10},
		Storage: config.StorageConfig{
			Provider: config.StorageLocal,
			Local:    config.LocalStorageConfig{BaseDir: dir},
		},
		Admin: config.AdminConfig{Addr: "127.0.0.1:0", ShutdownTimeoutSeconds: 1},
	}
}

func exchange(t *testing.T, addr, request string) string {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, request)
	require.NoError(t, err)
	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(reply)
}

func TestApp_ServesUntilCanceled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AcceptRate = 1000
	cfg.Server.AcceptBurst = 10
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApp(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer app.Close()
	require.NoError(t, app.Listen())
	require.NotNil(t, app.Addr())
	require.NotNil(t, app.AdminAddr())

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	addr := app.Addr().String()
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\n<h1>hi</h1>",
		exchange(t, addr, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 404 NOT FOUND\r\nContent-Length: 0\r\n\r\n",
		exchange(t, addr, "GET /missing HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 400 BAD REQUEST\r\nContent-Length: 0\r\n\r\n",
		exchange(t, addr, "garbage\r\n"))

	resp, err := http.Get("http://" + app.AdminAddr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
	assert.True(t, app.dispatch.Stats().Closed)
}

func TestApp_RunBindsWhenNotListening(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Addr = ""
	ctx, cancel := context.WithCancel(context.Background())

	core, logs := observer.New(zap.DebugLevel)
	app, err := NewApp(ctx, cfg, zap.New(core))
	require.NoError(t, err)
	defer app.Close()

	routes := logs.FilterMessage("route table loaded").All()
	require.Len(t, routes, 1)
	assert.Equal(t, int64(1), routes[0].ContextMap()["routes"])

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	require.Eventually(t, func() bool {
		return logs.FilterMessage("application started").Len() == 1
	}, time.Second, 10*time.Millisecond)
	started := logs.FilterMessage("application started").All()[0].ContextMap()
	assert.Equal(t, int64(2), started["workers"])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Nil(t, app.AdminAddr())
}

func TestApp_ListenFailureIsFatal(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Server.Addr = busy.Addr().String()

	app, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	err = app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
	assert.True(t, app.dispatch.Stats().Closed)
}

func TestApp_AdminListenFailureReleasesMainListener(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Admin.Addr = busy.Addr().String()

	app, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	err = app.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen admin")
	assert.Nil(t, app.Addr())
	app.dispatch.Shutdown()
}

func TestNewApp_UnknownStorageProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Provider = "s3"

	_, err := NewApp(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage provider")
}

func TestNewApp_InvalidPoolSize(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pool.Workers = 0

	_, err := NewApp(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatcher init failed")
}

func TestNewApp_MissingBaseDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Local.BaseDir = filepath.Join(t.TempDir(), "absent")

	_, err := NewApp(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local resource store init failed")
}

func TestNewApp_TracingEnabled(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	cfg := testConfig(t)
	cfg.Tracing = config.TracingConfig{Enabled: true, ServiceName: "poolhttpd-test", SampleRatio: 1}

	app, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, app.tracer)
	assert.Same(t, app.tracer, otel.GetTracerProvider())

	app.Close()
	assert.Nil(t, app.tracer)
	app.dispatch.Shutdown()
}
