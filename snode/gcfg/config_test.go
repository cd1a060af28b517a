package gcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lybxkl/snode/common/log"
)

func TestEmbeddedDefaults(t *testing.T) {
	cfg := GetGCfg()
	require.NotNil(t, cfg)
	require.Equal(t, 2000, cfg.Mqtt.PersistOffsetInterval)
	require.Equal(t, 1000, cfg.Mqtt.ScanAckTimeoutInterval)
	require.Equal(t, 10*time.Second, cfg.Mqtt.InitialScanDelayDuration())
	require.Equal(t, 5*time.Second, cfg.Mqtt.ResendInterval())
	require.Equal(t, 3, cfg.Mqtt.MaxResendTimes)
	require.Equal(t, int64(10000), cfg.Snode.SlowConsumerThreshold)
	require.Equal(t, "broker-a", cfg.Snode.DefaultEnodeName)
	require.Len(t, cfg.Snode.Enodes, 1)
	require.Equal(t, log.InfoLevel, cfg.Log.GetLevel())
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snode.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[snode]
slowConsumerThreshold = 500

[[snode.enodes]]
name = "broker-b"
addr = "10.0.0.2:10911"

[mqtt]
maxQos = 7
maxResendTimes = 5

[log]
level = "debug"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = Load("") })

	require.Equal(t, int64(500), cfg.Snode.SlowConsumerThreshold)
	require.Equal(t, 3000, cfg.Snode.RpcTimeoutMillis)
	require.Len(t, cfg.Snode.Enodes, 1)
	require.Equal(t, "broker-b", cfg.Snode.Enodes[0].Name)
	require.Equal(t, 5, cfg.Mqtt.MaxResendTimes)
	require.Equal(t, 2, cfg.Mqtt.MaxQos)
	require.Equal(t, log.DebugLevel, cfg.Log.GetLevel())
	require.Same(t, cfg, GetGCfg())
}

func TestLoadRejectsInvalidEnode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[snode.enodes]]
name = "broker-c"
`), 0o644))

	before := GetGCfg()
	_, err := Load(path)
	require.Error(t, err)
	require.Same(t, before, GetGCfg())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
