package directnet

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Slave id range accepted for a target.
const (
	MinSlaveID = 1
	MaxSlaveID = 90
)

var (
	ErrUnknownPort    = errors.New("directnet: unknown port")
	ErrUnknownTarget  = errors.New("directnet: unknown target")
	ErrDuplicatePort  = errors.New("directnet: duplicate port")
	ErrDuplicateName  = errors.New("directnet: duplicate target name")
	ErrDuplicateSlave = errors.New("directnet: duplicate slave id on port")
	ErrInvalidSlaveID = errors.New("directnet: slave id out of range")
)

// Port is a named Transport shared by every target on the same line.
type Port struct {
	name string
	tr   Transport
}

// Name returns the port name.
func (p *Port) Name() string { return p.name }

// Transport returns the port transport.
func (p *Port) Transport() Transport { return p.tr }

// Target is a PLC reachable as a slave on a port.
type Target struct {
	name    string
	slaveID uint8
	port    string
	variant Variant
	metrics *TargetMetrics
}

// Name returns the target name.
func (t *Target) Name() string { return t.name }

// SlaveID returns the slave id of the target on its port.
func (t *Target) SlaveID() uint8 { return t.slaveID }

// Port returns the name of the port the target is attached to.
func (t *Target) Port() string { return t.port }

// Variant returns the protocol variant used to talk to the target.
func (t *Target) Variant() Variant { return t.variant }

// Metrics returns the request counters of the target.
func (t *Target) Metrics() *TargetMetrics { return t.metrics }

type portSlave struct {
	port    string
	slaveID uint8
}

// Registry holds the configured ports and targets of a process.
//
// It is safe for concurrent use. Targets and ports cannot be removed; a
// Registry lives as long as the configuration it was built from.
type Registry struct {
	ports   *xsync.MapOf[string, *Port]
	targets *xsync.MapOf[string, *Target]
	slaves  *xsync.MapOf[portSlave, string]
	mu      sync.Mutex // serializes validation in AddPort and AddTarget
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		ports:   xsync.NewMapOf[string, *Port](),
		targets: xsync.NewMapOf[string, *Target](),
		slaves:  xsync.NewMapOf[portSlave, string](),
	}
}

// AddPort registers tr under name.
func (r *Registry) AddPort(name string, tr Transport) (*Port, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("directnet: empty port name")
	}
	if tr == nil {
		return nil, fmt.Errorf("directnet: nil transport for port %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ports.Load(name); ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePort, name)
	}

	p := &Port{name: name, tr: tr}
	r.ports.Store(name, p)

	return p, nil
}

// AddTarget registers a target reachable as slaveID on port.
//
// Names are unique across the registry and a slave id is unique per port.
func (r *Registry) AddTarget(name string, slaveID int, port string, variant Variant) (*Target, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("directnet: empty target name")
	}
	if slaveID < MinSlaveID || slaveID > MaxSlaveID {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidSlaveID, slaveID, MinSlaveID, MaxSlaveID)
	}
	if variant != VariantWire && variant != VariantSimulator {
		return nil, fmt.Errorf("directnet: unknown protocol variant %d", int(variant))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ports.Load(port); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPort, port)
	}
	if _, ok := r.targets.Load(name); ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	key := portSlave{port: port, slaveID: uint8(slaveID)}
	if other, ok := r.slaves.Load(key); ok {
		return nil, fmt.Errorf("%w: slave %d on %q is already %q", ErrDuplicateSlave, slaveID, port, other)
	}

	t := &Target{
		name:    name,
		slaveID: uint8(slaveID),
		port:    port,
		variant: variant,
		metrics: &TargetMetrics{},
	}
	r.targets.Store(name, t)
	r.slaves.Store(key, name)

	return t, nil
}

// Target returns the target registered under name.
func (r *Registry) Target(name string) (*Target, bool) {
	return r.targets.Load(name)
}

// Port returns the port registered under name.
func (r *Registry) Port(name string) (*Port, bool) {
	return r.ports.Load(name)
}

// Targets returns every registered target ordered by name.
func (r *Registry) Targets() []*Target {
	targets := make([]*Target, 0, r.targets.Size())
	r.targets.Range(func(_ string, t *Target) bool {
		targets = append(targets, t)
		return true
	})

	slices.SortFunc(targets, func(a, b *Target) int { return strings.Compare(a.name, b.name) })

	return targets
}

// Ports returns every registered port ordered by name.
func (r *Registry) Ports() []*Port {
	ports := make([]*Port, 0, r.ports.Size())
	r.ports.Range(func(_ string, p *Port) bool {
		ports = append(ports, p)
		return true
	})

	slices.SortFunc(ports, func(a, b *Port) int { return strings.Compare(a.name, b.name) })

	return ports
}

// Close closes every port transport that implements io.Closer.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.Ports() {
		if c, ok := p.tr.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("port %q: %w", p.name, err))
			}
		}
	}

	return errors.Join(errs...)
}
