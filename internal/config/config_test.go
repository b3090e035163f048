package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CHAT_API_URL", "http://api.test")
	t.Setenv("CHAT_WS_URL", "ws://ws.test/socket")
	t.Setenv("CHAT_ACCESS_TOKEN", "tok")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://api.test", cfg.APIURL)
	require.Equal(t, 5*time.Second, cfg.GracePeriod)
	require.Equal(t, StoreSQLite, cfg.Store.Backend)
	require.False(t, cfg.WithForm)
	require.Equal(t, "tok", cfg.StoreNamespace())
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("CHAT_API_URL", "")
	t.Setenv("CHAT_WS_URL", "ws://ws.test")
	t.Setenv("CHAT_ACCESS_TOKEN", "tok")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "CHAT_API_URL")
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.yaml")
	content := `
apiUrl: http://file.test
wsUrl: ws://file.test
accessToken: file-token
withForm: true
gracePeriod: 2s
store:
  backend: memory
  namespace: shop
texts:
  agentDisconnected: bye
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CHAT_API_URL", "http://env.test")
	t.Setenv("CHAT_WS_URL", "")
	t.Setenv("CHAT_ACCESS_TOKEN", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://env.test", cfg.APIURL)
	require.Equal(t, "ws://file.test", cfg.WSURL)
	require.True(t, cfg.WithForm)
	require.Equal(t, 2*time.Second, cfg.GracePeriod)
	require.Equal(t, StoreMemory, cfg.Store.Backend)
	require.Equal(t, "shop", cfg.StoreNamespace())
	require.Equal(t, "bye", cfg.Texts.AgentDisconnected)
}

func TestValidateStoreBackends(t *testing.T) {
	cfg := Defaults()
	cfg.APIURL = "http://api"
	cfg.WSURL = "ws://ws"
	cfg.AccessToken = "tok"

	cfg.Store = StoreConfig{Backend: StoreRedis}
	require.Error(t, cfg.Validate())

	cfg.Store = StoreConfig{Backend: StoreDynamoDB, DynamoTable: "WidgetSessions"}
	require.Error(t, cfg.Validate())

	cfg.Store.DynamoRegion = "eu-central-1"
	require.NoError(t, cfg.Validate())

	cfg.Store = StoreConfig{Backend: "etcd"}
	require.Error(t, cfg.Validate())
}

func TestGracePeriodSeconds(t *testing.T) {
	setRequired(t)
	t.Setenv("CHAT_GRACE_PERIOD", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7*time.Second, cfg.GracePeriod)
}
