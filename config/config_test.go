package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timoknapp/enverproxy-mqtt/errs"
)

const validINI = `
[enverproxy]
buffer_size = 1024
delay = 0.1
listen_port = 5005
verbosity = 3
log_type = sys.stdout
log_address = 127.0.0.1
log_port = 5140
forward_IP = 47.1.2.3
forward_port = 10000
mqttuser = enver
mqttpassword = secret
mqtthost = localhost
mqttport = 1883
id2device = {'94002953': 'device1', '94002954': 'device2'}
`

func writeTempINI(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enverproxy-mqtt.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempINI(t, validINI)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.BufferSize)
	assert.Equal(t, 0.1, cfg.Delay)
	assert.Equal(t, 5005, cfg.ListenPort)
	assert.Equal(t, 3, cfg.Verbosity)
	assert.Equal(t, "sys.stdout", cfg.LogType)
	assert.Equal(t, "47.1.2.3", cfg.ForwardIP)
	assert.Equal(t, 10000, cfg.ForwardPort)
	assert.Equal(t, "enver", cfg.MQTTUser)
	assert.Equal(t, 1883, cfg.MQTTPort)
	assert.Equal(t, map[string]string{"94002953": "device1", "94002954": "device2"}, cfg.ID2Device)
}

func TestLoadMissingKeyIsConfigError(t *testing.T) {
	broken := `
[enverproxy]
buffer_size = 1024
delay = 0.1
listen_port = 5005
verbosity = 3
log_type = sys.stdout
log_address = 127.0.0.1
log_port = 5140
forward_IP = 47.1.2.3
forward_port = 10000
mqttuser = enver
mqttpassword = secret
mqtthost = localhost
mqttport = 1883
`
	path := writeTempINI(t, broken)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

func TestLoadMissingSectionIsConfigError(t *testing.T) {
	path := writeTempINI(t, "[other]\nfoo = bar\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

func TestLoadMissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

func TestEnvOverridesFileValue(t *testing.T) {
	path := writeTempINI(t, validINI)
	// Matches the original implementation's uppercase env var names, not
	// the lowercase INI key.
	t.Setenv("MQTTHOST", "broker.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "broker.example.com", cfg.MQTTHost)
}
