// Package simdevice is a software stand-in for DirectNet PLCs.
//
// A Device serves either the ASCII simulator protocol or the binary wire
// protocol as a slave over any byte stream, backed by an in-memory Memory. It
// is used for end-to-end tests and by "dnctl sim".
package simdevice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/logger"
)

type options struct {
	memory *Memory
	slaves map[uint8]struct{}
	logger logger.Logger
}

// Option configures a Device.
type Option func(*options)

// WithMemory shares m instead of a private Memory.
func WithMemory(m *Memory) Option {
	return func(o *options) {
		if m != nil {
			o.memory = m
		}
	}
}

// WithSlaves restricts the slave ids the device answers to. By default it
// answers to every id.
func WithSlaves(ids ...uint8) Option {
	return func(o *options) {
		o.slaves = make(map[uint8]struct{}, len(ids))
		for _, id := range ids {
			o.slaves[id] = struct{}{}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Device emulates one or more slaves sharing a line.
type Device struct {
	mem    *Memory
	slaves map[uint8]struct{}
	logger logger.Logger
}

// New creates a Device.
func New(opts ...Option) *Device {
	o := options{logger: logger.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.memory == nil {
		o.memory = NewMemory()
	}

	return &Device{
		mem:    o.memory,
		slaves: o.slaves,
		logger: o.logger,
	}
}

// Memory returns the device memory.
func (d *Device) Memory() *Memory {
	return d.mem
}

// Serve runs the protocol selected by variant on conn until conn fails, the
// master disconnects or ctx is done. conn is closed on return.
func (d *Device) Serve(ctx context.Context, conn io.ReadWriteCloser, variant directnet.Variant) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	var err error
	switch variant {
	case directnet.VariantWire:
		err = newWireSession(d, conn).serve()
	case directnet.VariantSimulator:
		err = newSimSession(d, conn).serve()
	default:
		return fmt.Errorf("simdevice: unsupported variant %s", variant)
	}

	if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

// ListenAndServe accepts TCP connections on addr and serves each one with
// variant until ctx is done.
func (d *Device) ListenAndServe(ctx context.Context, addr string, variant directnet.Variant) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("simdevice: listen on %s: %w", addr, err)
	}

	return d.ServeListener(ctx, ln, variant)
}

// ServeListener serves connections accepted from ln until ctx is done. ln is
// closed on return.
func (d *Device) ServeListener(ctx context.Context, ln net.Listener, variant directnet.Variant) error {
	d.logger.Info("simdevice: listening", "addr", ln.Addr().String(), "variant", variant)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("simdevice: accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			remote := conn.RemoteAddr().String()
			d.logger.Info("simdevice: master connected", "remote", remote)

			if err := d.Serve(ctx, conn, variant); err != nil {
				d.logger.Warn("simdevice: session ended", "remote", remote, "error", err)
				return
			}

			d.logger.Info("simdevice: master disconnected", "remote", remote)
		}()
	}
}

func (d *Device) answers(id uint8) bool {
	if d.slaves == nil {
		return true
	}

	_, ok := d.slaves[id]

	return ok
}
