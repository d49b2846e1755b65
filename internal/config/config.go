// Package config loads the dnctl configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/logger"
	"github.com/arloliu/go-directnet/transport"
	"github.com/spf13/viper"
)

// Port types.
const (
	PortSerial = "serial"
	PortTCP    = "tcp"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Engine EngineConfig `mapstructure:"engine"`
	Ports  []PortConfig `mapstructure:"ports"`
	PLCs   []PLCConfig  `mapstructure:"plcs"`
}

// LogConfig defines logging.
type LogConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text, console; empty selects by ENV
	AddSource bool   `mapstructure:"add_source"`
}

// EngineConfig holds the protocol timing and session settings.
type EngineConfig struct {
	RetryLimit       int           `mapstructure:"retry_limit"`
	BaudRate         int           `mapstructure:"baud_rate"` // sizes stage timeouts, not the line
	EnqAckTimeout    time.Duration `mapstructure:"enq_ack_timeout"`
	HeaderAckTimeout time.Duration `mapstructure:"header_ack_timeout"`
	DataAckTimeout   time.Duration `mapstructure:"data_ack_timeout"`
	TimeoutMargin    time.Duration `mapstructure:"timeout_margin"`
	SimulatorTimeout time.Duration `mapstructure:"simulator_timeout"`
	QueueTimeout     time.Duration `mapstructure:"queue_timeout"`
	QueueSize        int           `mapstructure:"queue_size"`
}

// PortConfig defines one line.
type PortConfig struct {
	Name   string       `mapstructure:"name"`
	Type   string       `mapstructure:"type"`   // "serial" or "tcp"
	Serial SerialConfig `mapstructure:"serial"` // used if Type is "serial"
	TCP    TCPConfig    `mapstructure:"tcp"`    // used if Type is "tcp"
}

// SerialConfig defines a local serial line.
type SerialConfig struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// TCPConfig defines a serial terminal server connection.
type TCPConfig struct {
	Address     string        `mapstructure:"address"` // e.g. "10.0.0.5:4001"
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// PLCConfig defines one target.
type PLCConfig struct {
	Name     string `mapstructure:"name"`
	SlaveID  int    `mapstructure:"slave_id"`
	Port     string `mapstructure:"port"`
	Protocol string `mapstructure:"protocol"` // "wire" (default) or "sim"
}

// Load reads configFile. An empty name searches dnctl.yaml in the usual places.
// Environment variables prefixed DNCTL_ override scalar settings, e.g.
// DNCTL_ENGINE_RETRY_LIMIT.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("dnctl")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/dnctl/")
		v.AddConfigPath("$HOME/.dnctl")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DNCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: no configuration file found: %w", err)
		}

		return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.fixup()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("engine.retry_limit", directnet.DefaultRetryLimit)
	v.SetDefault("engine.baud_rate", directnet.DefaultBaudRate)
	v.SetDefault("engine.enq_ack_timeout", directnet.DefaultEnqAckTimeout)
	v.SetDefault("engine.header_ack_timeout", directnet.DefaultHeaderAckTimeout)
	v.SetDefault("engine.data_ack_timeout", directnet.DefaultDataAckTimeout)
	v.SetDefault("engine.timeout_margin", directnet.DefaultTimeoutMargin)
	v.SetDefault("engine.simulator_timeout", directnet.DefaultSimulatorTimeout)
	v.SetDefault("engine.queue_timeout", directnet.DefaultQueueTimeout)
	v.SetDefault("engine.queue_size", directnet.DefaultQueueSize)
}

func (c *Config) fixup() {
	for i := range c.Ports {
		p := &c.Ports[i]
		p.Type = strings.ToLower(p.Type)

		s := &p.Serial
		s.Parity = strings.ToUpper(s.Parity)
		if s.BaudRate == 0 {
			s.BaudRate = directnet.DefaultBaudRate
		}
		if s.DataBits == 0 {
			s.DataBits = 8
		}
		if s.StopBits == 0 {
			s.StopBits = 1
		}
		if s.Parity == "" {
			s.Parity = "O"
		}

		if p.TCP.DialTimeout == 0 {
			p.TCP.DialTimeout = transport.DefaultDialTimeout
		}
	}

	for i := range c.PLCs {
		if c.PLCs[i].Protocol == "" {
			c.PLCs[i].Protocol = "wire"
		}
	}
}

// Validate checks names, references and per-type settings. Engine ranges are
// checked by directnet when the options are applied.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	if _, err := logger.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("%w: log.format: %w", ErrInvalid, err)
	}

	ports := make(map[string]struct{}, len(c.Ports))
	for i, p := range c.Ports {
		if p.Name == "" {
			return fmt.Errorf("%w: ports[%d]: empty name", ErrInvalid, i)
		}
		if _, dup := ports[p.Name]; dup {
			return fmt.Errorf("%w: ports[%d]: duplicate name %q", ErrInvalid, i, p.Name)
		}
		ports[p.Name] = struct{}{}

		switch p.Type {
		case PortSerial:
			if p.Serial.Device == "" {
				return fmt.Errorf("%w: port %q: serial.device is required", ErrInvalid, p.Name)
			}
		case PortTCP:
			if p.TCP.Address == "" {
				return fmt.Errorf("%w: port %q: tcp.address is required", ErrInvalid, p.Name)
			}
		default:
			return fmt.Errorf("%w: port %q: unknown type %q", ErrInvalid, p.Name, p.Type)
		}
	}

	for i, plc := range c.PLCs {
		if plc.Name == "" {
			return fmt.Errorf("%w: plcs[%d]: empty name", ErrInvalid, i)
		}
		if _, ok := ports[plc.Port]; !ok {
			return fmt.Errorf("%w: plc %q: unknown port %q", ErrInvalid, plc.Name, plc.Port)
		}
		if _, err := directnet.ParseVariant(plc.Protocol); err != nil {
			return fmt.Errorf("%w: plc %q: %w", ErrInvalid, plc.Name, err)
		}
	}

	return nil
}

// NewLogger creates the logger described by the log section, writing to w.
func (c *Config) NewLogger(w io.Writer) logger.Logger {
	level, _ := logger.ParseLevel(c.Log.Level)
	format, _ := logger.ParseFormat(c.Log.Format)

	return logger.New(logger.Options{
		Level:     level,
		Format:    format,
		AddSource: c.Log.AddSource,
		Output:    w,
	})
}

// ClientOptions converts the engine settings into directnet options.
func (c *Config) ClientOptions(l logger.Logger) []directnet.Option {
	e := c.Engine
	opts := []directnet.Option{
		directnet.WithRetryLimit(e.RetryLimit),
		directnet.WithBaudRate(e.BaudRate),
		directnet.WithEnqAckTimeout(e.EnqAckTimeout),
		directnet.WithHeaderAckTimeout(e.HeaderAckTimeout),
		directnet.WithDataAckTimeout(e.DataAckTimeout),
		directnet.WithTimeoutMargin(e.TimeoutMargin),
		directnet.WithSimulatorTimeout(e.SimulatorTimeout),
		directnet.WithQueueTimeout(e.QueueTimeout),
		directnet.WithQueueSize(e.QueueSize),
	}
	if l != nil {
		opts = append(opts, directnet.WithLogger(l))
	}

	return opts
}

// NewTransport creates the transport of the port.
func (p PortConfig) NewTransport(l logger.Logger) (directnet.Transport, error) {
	opts := []transport.Option{transport.WithLogger(l)}

	switch p.Type {
	case PortSerial:
		s, err := transport.NewSerial(transport.SerialConfig{
			Device:   p.Serial.Device,
			BaudRate: p.Serial.BaudRate,
			DataBits: p.Serial.DataBits,
			StopBits: p.Serial.StopBits,
			Parity:   p.Serial.Parity,
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", p.Name, err)
		}

		return s, nil

	case PortTCP:
		s, err := transport.Dial(p.TCP.Address, append(opts, transport.WithDialTimeout(p.TCP.DialTimeout))...)
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", p.Name, err)
		}

		return s, nil

	default:
		return nil, fmt.Errorf("%w: port %q: unknown type %q", ErrInvalid, p.Name, p.Type)
	}
}

// NewRegistry creates the transports of every port and registers the PLCs.
// Transports created before a failure are closed.
func (c *Config) NewRegistry(l logger.Logger) (*directnet.Registry, error) {
	reg := directnet.NewRegistry()

	for _, p := range c.Ports {
		tr, err := p.NewTransport(l)
		if err == nil {
			_, err = reg.AddPort(p.Name, tr)
		}
		if err != nil {
			_ = reg.Close()
			return nil, err
		}
	}

	for _, plc := range c.PLCs {
		variant, err := directnet.ParseVariant(plc.Protocol)
		if err == nil {
			_, err = reg.AddTarget(plc.Name, plc.SlaveID, plc.Port, variant)
		}
		if err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("plc %q: %w", plc.Name, err)
		}
	}

	return reg, nil
}
