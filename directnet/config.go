package directnet

import (
	"fmt"
	"time"

	"github.com/arloliu/go-directnet/logger"
)

// Default protocol timing. Stage timeouts are base + margin + expected transfer time.
const (
	DefaultEnqAckTimeout    = 800 * time.Millisecond // select enquiry to ACK
	DefaultHeaderAckTimeout = 2 * time.Second        // header frame to ACK
	DefaultDataAckTimeout   = 20 * time.Second       // data block to ACK
	DefaultTimeoutMargin    = 1 * time.Second

	DefaultSimulatorTimeout = 20 * time.Second // whole simulator exchange
	DefaultQueueTimeout     = 20 * time.Second // wait in the port queue

	DefaultBaudRate = 9600
	DefaultByteRate = DefaultBaudRate / 10 // bytes per second

	DefaultRetryLimit = 3

	DefaultQueueSize = 16
)

// Range limits.
const (
	MinRetryLimit = 1
	MaxRetryLimit = 16

	MinByteRate = 30
	MaxByteRate = 115200

	MinStageTimeout = 10 * time.Millisecond
	MaxStageTimeout = 120 * time.Second

	MaxTimeoutMargin = 10 * time.Second

	MinQueueTimeout = 10 * time.Millisecond
	MaxQueueTimeout = 10 * time.Minute
)

// Config holds the protocol timing, retry and session settings shared by every port
// of a Client.
type Config struct {
	retryLimit int
	byteRate   int

	enqAckTimeout    time.Duration
	headerAckTimeout time.Duration
	dataAckTimeout   time.Duration
	timeoutMargin    time.Duration
	simTimeout       time.Duration
	queueTimeout     time.Duration

	queueSize int

	logger logger.Logger
}

// NewConfig creates a Config with default values and applies opts in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		retryLimit:       DefaultRetryLimit,
		byteRate:         DefaultByteRate,
		enqAckTimeout:    DefaultEnqAckTimeout,
		headerAckTimeout: DefaultHeaderAckTimeout,
		dataAckTimeout:   DefaultDataAckTimeout,
		timeoutMargin:    DefaultTimeoutMargin,
		simTimeout:       DefaultSimulatorTimeout,
		queueTimeout:     DefaultQueueTimeout,
		queueSize:        DefaultQueueSize,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// RetryLimit returns the per-stage attempt budget.
func (cfg *Config) RetryLimit() int { return cfg.retryLimit }

// ByteRate returns the nominal line rate in bytes per second.
func (cfg *Config) ByteRate() int { return cfg.byteRate }

// EnqAckTimeout returns the base timeout for a select enquiry reply.
func (cfg *Config) EnqAckTimeout() time.Duration { return cfg.enqAckTimeout }

// HeaderAckTimeout returns the base timeout for a header acknowledge.
func (cfg *Config) HeaderAckTimeout() time.Duration { return cfg.headerAckTimeout }

// DataAckTimeout returns the base timeout for a data block and its acknowledge.
func (cfg *Config) DataAckTimeout() time.Duration { return cfg.dataAckTimeout }

// TimeoutMargin returns the margin added to every stage timeout.
func (cfg *Config) TimeoutMargin() time.Duration { return cfg.timeoutMargin }

// SimulatorTimeout returns the deadline of a whole simulator exchange.
func (cfg *Config) SimulatorTimeout() time.Duration { return cfg.simTimeout }

// QueueTimeout returns how long a submission may wait before its exchange starts.
func (cfg *Config) QueueTimeout() time.Duration { return cfg.queueTimeout }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// stageTimeout returns base + margin + the time needed to move n bytes at the
// nominal byte rate.
func (cfg *Config) stageTimeout(base time.Duration, n int) time.Duration {
	return base + cfg.timeoutMargin + time.Duration(n)*time.Second/time.Duration(cfg.byteRate)
}

// Option configures a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error {
	return f(cfg)
}

// WithRetryLimit sets the attempt budget used by every protocol stage and the
// outer exchange loop.
func WithRetryLimit(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinRetryLimit || n > MaxRetryLimit {
			return fmt.Errorf("directnet: retry limit %d out of range [%d, %d]", n, MinRetryLimit, MaxRetryLimit)
		}
		cfg.retryLimit = n

		return nil
	})
}

// WithByteRate sets the nominal line rate, in bytes per second, used to scale
// stage timeouts with the transfer size.
func WithByteRate(rate int) Option {
	return optFunc(func(cfg *Config) error {
		if rate < MinByteRate || rate > MaxByteRate {
			return fmt.Errorf("directnet: byte rate %d out of range [%d, %d]", rate, MinByteRate, MaxByteRate)
		}
		cfg.byteRate = rate

		return nil
	})
}

// WithBaudRate sets the byte rate from a serial baud rate, assuming 10 bits per byte.
func WithBaudRate(baud int) Option {
	return WithByteRate(baud / 10)
}

// WithTimeoutMargin sets the margin added to every stage timeout.
func WithTimeoutMargin(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxTimeoutMargin {
			return fmt.Errorf("directnet: timeout margin %v out of range [0, %v]", d, MaxTimeoutMargin)
		}
		cfg.timeoutMargin = d

		return nil
	})
}

// WithEnqAckTimeout sets the base timeout for a select enquiry reply.
func WithEnqAckTimeout(d time.Duration) Option {
	return stageTimeoutOpt("enquiry ack", d, func(cfg *Config) { cfg.enqAckTimeout = d })
}

// WithHeaderAckTimeout sets the base timeout for a header acknowledge.
func WithHeaderAckTimeout(d time.Duration) Option {
	return stageTimeoutOpt("header ack", d, func(cfg *Config) { cfg.headerAckTimeout = d })
}

// WithDataAckTimeout sets the base timeout for a data block and its acknowledge.
func WithDataAckTimeout(d time.Duration) Option {
	return stageTimeoutOpt("data ack", d, func(cfg *Config) { cfg.dataAckTimeout = d })
}

// WithSimulatorTimeout sets the deadline of a whole simulator exchange.
func WithSimulatorTimeout(d time.Duration) Option {
	return stageTimeoutOpt("simulator", d, func(cfg *Config) { cfg.simTimeout = d })
}

// WithQueueTimeout sets how long a submission may wait in its port queue before
// it resolves as Timeout.
func WithQueueTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinQueueTimeout || d > MaxQueueTimeout {
			return fmt.Errorf("directnet: queue timeout %v out of range [%v, %v]", d, MinQueueTimeout, MaxQueueTimeout)
		}
		cfg.queueTimeout = d

		return nil
	})
}

// WithQueueSize sets the initial capacity of each port queue.
func WithQueueSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("directnet: queue size %d must be positive", n)
		}
		cfg.queueSize = n

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("directnet: nil logger")
		}
		cfg.logger = l

		return nil
	})
}

func stageTimeoutOpt(name string, d time.Duration, set func(*Config)) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinStageTimeout || d > MaxStageTimeout {
			return fmt.Errorf("directnet: %s timeout %v out of range [%v, %v]", name, d, MinStageTimeout, MaxStageTimeout)
		}
		set(cfg)

		return nil
	})
}
