package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
chargePoint:
  id: e1x9QXk4
  vendor: The Mobility House
  model: Optimus
  heartbeatInterval: 5m
centralSystem:
  url: ws://dev.wevolt-ev.com/cpms/websockets
session:
  callTimeout: 10s
  validateMessages: false
logger:
  level: debug
  format: json
nats:
  enabled: true
configuration:
  - key: HeartbeatInterval
    value: "300"
  - key: NumberOfConnectors
    readonly: true
    value: "2"
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "chargepoint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	config, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "e1x9QXk4", config.ChargePoint.ID)
	assert.Equal(t, "The Mobility House", config.ChargePoint.Vendor)
	assert.Equal(t, "Optimus", config.ChargePoint.Model)
	assert.Equal(t, 5*time.Minute, config.ChargePoint.HeartbeatInterval)

	assert.Equal(t, "ws://dev.wevolt-ev.com/cpms/websockets", config.CentralSystem.URL)
	assert.Equal(t, "ocpp1.6", config.CentralSystem.Subprotocol)
	assert.Equal(t, 10*time.Second, config.CentralSystem.HandshakeTimeout)

	assert.Equal(t, 10*time.Second, config.Session.CallTimeout)
	assert.False(t, config.Session.ValidateMessages)

	assert.Equal(t, "debug", config.Logger.Level)
	assert.Equal(t, "json", config.Logger.Format)
	assert.True(t, config.Logger.EnableConsole)

	assert.True(t, config.Nats.Enabled)
	assert.Equal(t, "request", config.Nats.RequestSubject)
	assert.Equal(t, 3*time.Minute, config.Nats.RequestTimeout)

	require.Len(t, config.Configuration, 2)
	assert.Equal(t, "NumberOfConnectors", config.Configuration[1].Key)
	assert.True(t, config.Configuration[1].Readonly)
	assert.Equal(t, "2", config.Configuration[1].Value)
}

func TestLoadDefaultsConfiguration(t *testing.T) {
	config, err := Load(writeConfig(t, `
chargePoint: {id: CP-1, vendor: Vendor, model: Model}
centralSystem: {url: "wss://cs.example.com/ocpp"}
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfiguration, config.Configuration)
	assert.Equal(t, 15*time.Minute, config.ChargePoint.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, config.Session.CallTimeout)
	assert.True(t, config.Session.ValidateMessages)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("CHARGEPOINT_CHARGEPOINT_ID", "CP-ENV")
	t.Setenv("CHARGEPOINT_SESSION_CALLTIMEOUT", "45s")

	config, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "CP-ENV", config.ChargePoint.ID)
	assert.Equal(t, 45*time.Second, config.Session.CallTimeout)
}

func TestLoadInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"missing id", `
chargePoint: {vendor: V, model: M}
centralSystem: {url: "ws://cs"}
`},
		{"vendor too long", `
chargePoint: {id: CP, vendor: "A vendor name far too long", model: M}
centralSystem: {url: "ws://cs"}
`},
		{"missing url", `
chargePoint: {id: CP, vendor: V, model: M}
`},
		{"bad log level", `
chargePoint: {id: CP, vendor: V, model: M}
centralSystem: {url: "ws://cs"}
logger: {level: loud}
`},
		{"configuration key without name", `
chargePoint: {id: CP, vendor: V, model: M}
centralSystem: {url: "ws://cs"}
configuration:
  - value: "1"
`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.NotValid), "unexpected error %v", err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
