package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/conf"

	"github.com/aetherflow/sessionpool/internal/dispatch"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	require.NoError(t, conf.LoadFromYamlBytes([]byte("Name: sessionpool\nPort: 8080\n"), &c))

	assert.Equal(t, int64(2000), c.Pool.SendInterval)
	assert.Equal(t, int64(5000), c.Pool.Cooldown)
	assert.Equal(t, 100, c.Pool.QueueCapacity)
	assert.Equal(t, "continuous", c.Pool.QueueMode)
	assert.Equal(t, "memory", c.Store.Type)
	assert.True(t, c.RateLimit.Enable)
	assert.Empty(t, c.Auth.Secret)
	assert.Equal(t, "0.0.0.0:9090", c.GRPC.ListenAddr)
	assert.False(t, c.Tracing.Enable)
	assert.Empty(t, c.Etcd.Hosts)
	assert.Equal(t, "/metrics", c.Metrics.Path)
	assert.True(t, c.Breaker.Enable)
	assert.Equal(t, 5, c.Breaker.Failures)
	assert.Equal(t, int64(30000), c.Breaker.OpenTimeout)
	assert.True(t, c.GRPC.Enable)
	assert.True(t, c.Metrics.Enable)
	assert.Equal(t, "info", c.Logging.Level)

	sc, err := c.Pool.Session()
	require.NoError(t, err)
	assert.Equal(t, 3, sc.MaxReconnectAttempts, "an omitted Pool section keeps bounded reconnects")
	assert.Equal(t, 10*time.Second, sc.ReconnectDelay)
	assert.Equal(t, 30*time.Second, sc.HandshakeTimeout)
}

func TestLoadPartialSection(t *testing.T) {
	var c Config
	require.NoError(t, conf.LoadFromYamlBytes([]byte("Name: x\nPort: 1\nPool:\n  SendInterval: 500\n"), &c))

	assert.Equal(t, int64(500), c.Pool.SendInterval)
	assert.Equal(t, 3, c.Pool.MaxReconnectAttempts)
	assert.Equal(t, int64(5000), c.Pool.Cooldown)
}

func TestLoadOverrides(t *testing.T) {
	data := []byte(`
Name: sessionpool
Port: 8080
Pool:
  SendInterval: 500
  QueueMode: cycle
  MaxReconnectAttempts: -1
Store:
  Type: redis
  Addr: redis:6379
Etcd:
  Hosts:
    - etcd:2379
`)
	var c Config
	require.NoError(t, conf.LoadFromYamlBytes(data, &c))

	assert.Equal(t, "redis", c.Store.Type)
	assert.Equal(t, "redis:6379", c.Store.Addr)
	assert.Equal(t, []string{"etcd:2379"}, c.Etcd.Hosts)

	sc, err := c.Pool.Session()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, sc.SendInterval)
	assert.Equal(t, dispatch.ModeCycle, sc.QueueMode)
	assert.Equal(t, -1, sc.MaxReconnectAttempts, "negative attempts disables reconnects")
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	var c Config
	err := conf.LoadFromYamlBytes([]byte("Name: x\nPort: 1\nPool:\n  QueueMode: bursty\n"), &c)
	assert.Error(t, err)
}

func TestPoolSession(t *testing.T) {
	sc, err := PoolConfig{
		TickInterval:         100,
		SendInterval:         2000,
		Cooldown:             5000,
		QueueMode:            "continuous",
		HandshakeTimeout:     30000,
		ReconnectDelay:       10000,
		MaxReconnectAttempts: 3,
		BannedGrace:          1000,
	}.Session()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, sc.SendInterval)
	assert.Equal(t, 5*time.Second, sc.Cooldown)
	assert.Equal(t, 30*time.Second, sc.HandshakeTimeout)
	assert.Equal(t, 10*time.Second, sc.ReconnectDelay)
	assert.Equal(t, 3, sc.MaxReconnectAttempts)
	assert.Equal(t, time.Second, sc.BannedGrace)

	_, err = PoolConfig{QueueMode: "bursty"}.Session()
	assert.Error(t, err)
}

func TestParseAccounts(t *testing.T) {
	accounts, err := ParseAccounts([]byte(`
accounts:
  - id: alpha
    credential: steve@example.com:hunter2:token
    endpoint: ws://play.example.com:25565
  - credential: secret-only
`))
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alpha", accounts[0].ID)
	assert.Equal(t, "ws://play.example.com:25565", accounts[0].Endpoint)
	assert.Empty(t, accounts[1].ID)

	_, err = ParseAccounts([]byte("accounts:\n  - id: beta\n"))
	assert.Error(t, err)

	_, err = ParseAccounts([]byte("accounts:\n  - id: beta\n    token: x\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestLoadAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("accounts:\n  - credential: a:b:c\n"), 0o600))

	accounts, err := LoadAccounts(path)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	_, err = LoadAccounts(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestShippedConfig(t *testing.T) {
	var c Config
	require.NoError(t, conf.Load("../../configs/sessionpool.yaml", &c))

	sc, err := c.Pool.Session()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, sc.SendInterval)
	assert.Equal(t, "/msg {target} {message}", sc.MessageTemplate)

	accounts, err := LoadAccounts("../../configs/accounts.example.yaml")
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}
