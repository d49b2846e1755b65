package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/logger"
	"github.com/arloliu/go-directnet/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const sampleYAML = `
log:
  level: debug
engine:
  retry_limit: 5
  enq_ack_timeout: 500ms
  queue_timeout: 3s
ports:
  - name: line1
    type: Serial
    serial:
      device: /dev/ttyUSB0
      parity: e
  - name: ts1
    type: tcp
    tcp:
      address: 10.0.0.5:4001
plcs:
  - name: boiler
    slave_id: 1
    port: line1
  - name: bench
    slave_id: 2
    port: ts1
    protocol: sim
`

func TestLoad(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeConfig(t, "dnctl.yaml", sampleYAML))
	require.NoError(err)

	require.Equal("debug", cfg.Log.Level)

	require.Equal(5, cfg.Engine.RetryLimit)
	require.Equal(500*time.Millisecond, cfg.Engine.EnqAckTimeout)
	require.Equal(3*time.Second, cfg.Engine.QueueTimeout)
	require.Equal(directnet.DefaultHeaderAckTimeout, cfg.Engine.HeaderAckTimeout, "unset values use defaults")
	require.Equal(directnet.DefaultBaudRate, cfg.Engine.BaudRate)
	require.Equal(directnet.DefaultQueueSize, cfg.Engine.QueueSize)

	require.Len(cfg.Ports, 2)
	line := cfg.Ports[0]
	require.Equal(PortSerial, line.Type)
	require.Equal("/dev/ttyUSB0", line.Serial.Device)
	require.Equal("E", line.Serial.Parity)
	require.Equal(9600, line.Serial.BaudRate)
	require.Equal(8, line.Serial.DataBits)
	require.Equal(1, line.Serial.StopBits)

	ts := cfg.Ports[1]
	require.Equal(PortTCP, ts.Type)
	require.Equal("10.0.0.5:4001", ts.TCP.Address)
	require.Equal(transport.DefaultDialTimeout, ts.TCP.DialTimeout)

	require.Len(cfg.PLCs, 2)
	require.Equal("wire", cfg.PLCs[0].Protocol)
	require.Equal("sim", cfg.PLCs[1].Protocol)
}

func TestLoad_TOML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "dnctl.toml", `
[log]
level = "warn"

[[ports]]
name = "ts1"
type = "tcp"
tcp = { address = "127.0.0.1:4001", dial_timeout = "1s" }
`))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, time.Second, cfg.Ports[0].TCP.DialTimeout)
	assert.Empty(t, cfg.PLCs)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DNCTL_ENGINE_RETRY_LIMIT", "7")

	cfg, err := Load(writeConfig(t, "dnctl.yaml", sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.RetryLimit)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{
			name:    "bad log level",
			content: "log:\n  level: loud\n",
			message: "log.level",
		},
		{
			name:    "unknown port type",
			content: "ports:\n  - name: p\n    type: usb\n",
			message: "unknown type",
		},
		{
			name:    "missing device",
			content: "ports:\n  - name: p\n    type: serial\n",
			message: "serial.device",
		},
		{
			name:    "missing address",
			content: "ports:\n  - name: p\n    type: tcp\n",
			message: "tcp.address",
		},
		{
			name:    "duplicate port",
			content: "ports:\n  - {name: p, type: tcp, tcp: {address: 'h:1'}}\n  - {name: p, type: tcp, tcp: {address: 'h:2'}}\n",
			message: "duplicate",
		},
		{
			name:    "unknown port reference",
			content: "plcs:\n  - name: x\n    slave_id: 1\n    port: nowhere\n",
			message: "unknown port",
		},
		{
			name:    "unknown protocol",
			content: "ports:\n  - {name: p, type: tcp, tcp: {address: 'h:1'}}\nplcs:\n  - {name: x, slave_id: 1, port: p, protocol: modbus}\n",
			message: "plc \"x\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "dnctl.yaml", tt.content))
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalid)
			require.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeConfig(t, "dnctl.yaml", sampleYAML))
	require.NoError(err)

	reg, err := cfg.NewRegistry(nil)
	require.NoError(err)
	defer reg.Close()

	port, ok := reg.Port("line1")
	require.True(ok)
	require.IsType(&transport.Serial{}, port.Transport())

	port, ok = reg.Port("ts1")
	require.True(ok)
	require.IsType(&transport.Stream{}, port.Transport())

	bench, ok := reg.Target("bench")
	require.True(ok)
	require.Equal(directnet.VariantSimulator, bench.Variant())
	require.Equal(uint8(2), bench.SlaveID())

	cfg.PLCs = append(cfg.PLCs, PLCConfig{Name: "dup", SlaveID: 1, Port: "line1", Protocol: "wire"})
	_, err = cfg.NewRegistry(nil)
	require.ErrorIs(err, directnet.ErrDuplicateSlave)
}

func TestClientOptions(t *testing.T) {
	cfg, err := Load(writeConfig(t, "dnctl.yaml", sampleYAML))
	require.NoError(t, err)

	dc, err := directnet.NewConfig(cfg.ClientOptions(nil)...)
	require.NoError(t, err)
	assert.Equal(t, 5, dc.RetryLimit())
	assert.Equal(t, 500*time.Millisecond, dc.EnqAckTimeout())
	assert.Equal(t, 3*time.Second, dc.QueueTimeout())
	assert.Equal(t, directnet.DefaultByteRate, dc.ByteRate())

	cfg.Engine.RetryLimit = 0
	_, err = directnet.NewConfig(cfg.ClientOptions(nil)...)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg, err := Load(writeConfig(t, "dnctl.yaml", "log:\n  level: warn\n  format: text\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	l := cfg.NewLogger(&buf)
	assert.Equal(t, logger.WarnLevel, l.Level())

	l.Info("dropped")
	l.Warn("kept", "port", "line1")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "port=line1")

	_, err = Load(writeConfig(t, "dnctl.yaml", "log:\n  format: xml\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}
