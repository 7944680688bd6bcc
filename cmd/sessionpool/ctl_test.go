package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aetherflow/sessionpool/internal/protocol/protocoltest"
	"github.com/aetherflow/sessionpool/internal/rpc"
	"github.com/aetherflow/sessionpool/internal/session"
)

const testCredential = "steve@example.com:hunter2:token"

// startControl 在本地端口上启动 gRPC 控制服务，返回其地址
func startControl(t *testing.T) string {
	t.Helper()

	pool := session.NewPool(&session.PoolConfig{
		Dialer:          protocoltest.NewFakeDialer(),
		Logger:          zaptest.NewLogger(t),
		DefaultEndpoint: "ws://play.example.com",
	})
	srv := rpc.NewServer(rpc.Config{Pool: pool, Logger: zaptest.NewLogger(t)})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(lis)

	t.Cleanup(func() {
		srv.Stop()
		pool.Close()
	})
	return lis.Addr().String()
}

func ctl(t *testing.T, addr string, args ...string) map[string]interface{} {
	t.Helper()
	out, err := execute(t, append([]string{"ctl", "--addr", addr, "--timeout", "10s"}, args...)...)
	require.NoError(t, err, out)

	var v map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestCtlLifecycle(t *testing.T) {
	addr := startControl(t)

	out := ctl(t, addr, "add", "--id", "alpha", testCredential)
	sess := out["session"].(map[string]interface{})
	assert.Equal(t, "alpha", sess["id"])
	assert.Equal(t, "ACTIVE", sess["state"])

	ctl(t, addr, "add", "--id", "beta", testCredential)

	out = ctl(t, addr, "status")
	assert.Equal(t, float64(2), out["total"])

	out = ctl(t, addr, "status", "--id", "alpha")
	assert.Equal(t, float64(1), out["total"])

	out = ctl(t, addr, "force", "Notch")
	assert.Equal(t, float64(2), out["applied"])

	out = ctl(t, addr, "unforce", "--id", "beta")
	assert.Equal(t, float64(1), out["cleared"])

	out = ctl(t, addr, "unforce")
	assert.Equal(t, float64(1), out["cleared"])

	out = ctl(t, addr, "send", "alpha", "hello world")
	assert.Equal(t, "alpha", out["id"])

	out = ctl(t, addr, "remove", "beta")
	assert.Equal(t, "beta", out["id"])

	out = ctl(t, addr, "stop")
	assert.Equal(t, float64(1), out["stopped"])
}

func TestCtlErrors(t *testing.T) {
	addr := startControl(t)

	_, err := execute(t, "ctl", "--addr", addr, "--timeout", "10s", "remove", "nope")
	assert.Error(t, err)

	_, err = execute(t, "ctl", "--addr", addr, "--timeout", "10s", "send", "nope", "hi")
	assert.Error(t, err)

	_, err = execute(t, "ctl", "--addr", addr, "status", "extra")
	assert.Error(t, err, "status takes no arguments")
}

func TestCtlResolveWithoutEtcd(t *testing.T) {
	opts := &ctlOptions{addr: "10.0.0.1:9090"}
	addr, err := opts.resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9090", addr)
}

func TestServeMissingConfig(t *testing.T) {
	_, err := execute(t, "serve", "-f", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func TestServeShutdown(t *testing.T) {
	httpPort, grpcPort := freePort(t), freePort(t)
	grpcAddr := fmt.Sprintf("127.0.0.1:%d", grpcPort)

	path := filepath.Join(t.TempDir(), "sessionpool.yaml")
	yaml := fmt.Sprintf(`Name: sessionpool-test
Host: 127.0.0.1
Port: %d
Log:
  Mode: console
  Level: error
Pool:
  DefaultEndpoint: ws://play.example.com
GRPC:
  ListenAddr: %s
`, httpPort, grpcAddr)
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "-f", path})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		_, err := execute(t, "ctl", "--addr", grpcAddr, "--timeout", "1s", "status")
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
