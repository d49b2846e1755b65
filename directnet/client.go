package directnet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-directnet/internal/queue"
	"github.com/arloliu/go-directnet/internal/task"
	"github.com/arloliu/go-directnet/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Client runs requests against the targets of a Registry.
//
// Each port gets one worker goroutine that executes that port's requests one at
// a time in submission order; different ports proceed independently. Submit
// never blocks: the outcome arrives through the returned channel and the
// message callback.
type Client struct {
	ctx     context.Context
	cfg     *Config
	reg     *Registry
	logger  logger.Logger
	taskMgr *task.Manager
	state   atomicOpState

	workers *xsync.MapOf[string, *portWorker]
	mu      sync.Mutex // serializes worker creation with Open and Close
}

// NewClient creates a Client for the ports and targets of reg. Call Open to start
// the port workers.
func NewClient(ctx context.Context, reg *Registry, opts ...Option) (*Client, error) {
	if reg == nil {
		return nil, fmt.Errorf("directnet: nil registry")
	}

	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		ctx:     ctx,
		cfg:     cfg,
		reg:     reg,
		logger:  cfg.logger,
		taskMgr: task.NewManager(ctx, cfg.logger),
		workers: xsync.NewMapOf[string, *portWorker](),
	}, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config { return c.cfg }

// Registry returns the registry the client serves.
func (c *Client) Registry() *Registry { return c.reg }

// Open starts one worker per registered port.
func (c *Client) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.isOpened() {
		return nil
	}
	if !c.state.toOpening() {
		return fmt.Errorf("directnet: cannot open client in state %s", c.state.get())
	}

	for _, p := range c.reg.Ports() {
		if _, err := c.workerLocked(p.name); err != nil {
			c.state.toClosing()
			c.state.toClosed()

			return err
		}
	}

	var startErr error
	c.workers.Range(func(_ string, pw *portWorker) bool {
		startErr = pw.start(c.taskMgr)
		return startErr == nil
	})
	if startErr != nil {
		c.taskMgr.Stop()
		c.taskMgr.Wait()
		c.state.toClosing()
		c.state.toClosed()

		return startErr
	}

	c.state.toOpened()
	c.logger.Info("directnet: client opened", "ports", c.workers.Size())

	return nil
}

// Close stops the port workers. A running exchange finishes first; submissions
// still queued complete with Internal.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.toClosing() {
		return nil
	}

	c.taskMgr.Stop()
	c.taskMgr.Wait()

	c.workers.Range(func(_ string, pw *portWorker) bool {
		pw.started.Store(false)
		pw.shutdown(Internal)
		return true
	})

	c.state.toClosed()
	c.logger.Info("directnet: client closed")

	return nil
}

// Bind resolves the target of msg and attaches msg to its port, which enables
// connectivity notifications. Binding an already bound message rebinds it.
func (c *Client) Bind(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("directnet: nil message")
	}
	if msg.InFlight() {
		return ErrInFlight
	}

	t, ok := c.reg.Target(msg.Target)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, msg.Target)
	}

	pw, err := c.worker(t.port)
	if err != nil {
		return err
	}

	if old := msg.target.Swap(t); old != nil && old.port != t.port {
		if opw, ok := c.workers.Load(old.port); ok {
			opw.bound.Delete(msg)
		}
	}
	pw.bound.Store(msg, struct{}{})

	return nil
}

// Unbind detaches msg from its target.
func (c *Client) Unbind(msg *Message) error {
	if msg.InFlight() {
		return ErrInFlight
	}

	t := msg.target.Swap(nil)
	if t == nil {
		return ErrNotBound
	}
	if pw, ok := c.workers.Load(t.port); ok {
		pw.bound.Delete(msg)
	}

	return nil
}

// Submit queues msg on the worker of its port and returns at once.
//
// The slave id of the bound target is packed into msg.Command. When the request
// completes msg.Status is set, msg.Callback is invoked, and the status is sent
// on the returned channel. A request that waits longer than the queue timeout
// completes with Timeout without reaching the line.
//
// Completions of exchanges run on the port worker in submission order. A queue
// timeout, and a submission that races with Close, complete on another goroutine
// and may overtake earlier submissions, so callbacks must not assume they share
// the worker goroutine.
func (c *Client) Submit(msg *Message) (<-chan Status, error) {
	if msg == nil {
		return nil, fmt.Errorf("directnet: nil message")
	}

	t := msg.target.Load()
	if t == nil {
		return nil, ErrNotBound
	}
	if !validLength(len(msg.Data)) {
		return nil, fmt.Errorf("%w: %d bytes, want 1..%d", ErrInvalidLength, len(msg.Data), MaxTransferSize)
	}
	if !c.state.isOpened() {
		return nil, ErrClientClosed
	}

	pw, ok := c.workers.Load(t.port)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPort, t.port)
	}

	if !msg.inFlight.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}

	msg.Command = msg.Command.WithSlave(t.slaveID)
	msg.Status = Internal

	req := &request{
		msg:    msg,
		target: t,
		done:   make(chan Status, 1),
	}
	t.metrics.incRequest(msg.Command.IsWrite())

	pw.submit(req)

	return req.done, nil
}

// Do submits msg and waits for its completion or for ctx to be done.
//
// When ctx ends first the request keeps running and msg stays in flight.
func (c *Client) Do(ctx context.Context, msg *Message) (Status, error) {
	done, err := c.Submit(msg)
	if err != nil {
		return Internal, err
	}

	select {
	case status := <-done:
		return status, nil
	case <-ctx.Done():
		return Internal, ctx.Err()
	}
}

// Read is a helper that binds a one-off message, reads len(buf) bytes into buf
// and waits for the result.
func (c *Client) Read(ctx context.Context, target string, cmd Command, addr uint16, buf []byte) (Status, error) {
	return c.oneShot(ctx, &Message{Target: target, Command: cmd &^ WriteFlag, Address: addr, Data: buf})
}

// Write is a helper that binds a one-off message, writes data and waits for the result.
func (c *Client) Write(ctx context.Context, target string, cmd Command, addr uint16, data []byte) (Status, error) {
	return c.oneShot(ctx, &Message{Target: target, Command: cmd | WriteFlag, Address: addr, Data: data})
}

func (c *Client) oneShot(ctx context.Context, msg *Message) (Status, error) {
	if err := c.Bind(msg); err != nil {
		return Internal, err
	}
	defer func() {
		if !msg.InFlight() {
			_ = c.Unbind(msg)
		}
	}()

	return c.Do(ctx, msg)
}

func (c *Client) worker(port string) (*portWorker, error) {
	if pw, ok := c.workers.Load(port); ok {
		return pw, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pw, err := c.workerLocked(port)
	if err != nil {
		return nil, err
	}

	if c.state.isOpened() && !pw.started.Load() {
		if err := pw.start(c.taskMgr); err != nil {
			return nil, err
		}
	}

	return pw, nil
}

func (c *Client) workerLocked(port string) (*portWorker, error) {
	if pw, ok := c.workers.Load(port); ok {
		return pw, nil
	}

	p, ok := c.reg.Port(port)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPort, port)
	}

	pw := newPortWorker(p, c.cfg, c.taskMgr)
	c.workers.Store(port, pw)

	return pw, nil
}

// request is one submission waiting for or running on a port worker.
type request struct {
	msg    *Message
	target *Target
	state  atomic.Int32
	timer  *time.Timer
	done   chan Status
}

// portWorker serializes the exchanges of one port.
type portWorker struct {
	name      string
	cfg       *Config
	logger    logger.Logger
	taskMgr   *task.Manager
	protocols [2]Protocol // indexed by Variant

	mu      sync.Mutex // protects queue and closed
	queue   queue.Queue[*request]
	closed  bool
	notify  chan struct{}
	started atomic.Bool

	// bound holds the messages bound to this port for connectivity notifications.
	bound *xsync.MapOf[*Message, struct{}]

	scratch []byte
}

func newPortWorker(p *Port, cfg *Config, taskMgr *task.Manager) *portWorker {
	pw := &portWorker{
		name:    p.name,
		cfg:     cfg,
		logger:  cfg.logger.With("port", p.name),
		taskMgr: taskMgr,
		queue:   queue.NewSliceQueue[*request](cfg.queueSize),
		notify:  make(chan struct{}, 1),
		bound:   xsync.NewMapOf[*Message, struct{}](),
	}

	pw.protocols[VariantWire] = newWireProtocol(p.tr, cfg)
	pw.protocols[VariantSimulator] = newSimProtocol(p.tr, cfg)

	if n, ok := p.tr.(ConnNotifier); ok {
		n.NotifyConn(pw.onConnChange)
	}

	return pw
}

func (pw *portWorker) start(taskMgr *task.Manager) error {
	pw.mu.Lock()
	pw.closed = false
	pw.mu.Unlock()

	if err := taskMgr.Start("port-"+pw.name, pw.loop); err != nil {
		return err
	}
	pw.started.Store(true)

	return nil
}

// submit starts the queue deadline of req and queues it. A worker already shut
// down resolves req with Internal at once.
func (pw *portWorker) submit(req *request) {
	req.timer = time.AfterFunc(pw.cfg.queueTimeout, func() {
		if req.state.CompareAndSwap(reqPending, reqDone) {
			pw.logger.Warn("directnet: request timed out in queue",
				"target", req.target.name,
				"command", req.msg.Command,
				"address", req.msg.Address,
			)
			pw.complete(req, Timeout)
		}
	})

	if pw.enqueue(req) {
		return
	}

	if req.state.CompareAndSwap(reqPending, reqDone) {
		req.timer.Stop()
		pw.complete(req, Internal)
	}
}

func (pw *portWorker) enqueue(req *request) bool {
	pw.mu.Lock()
	if pw.closed {
		pw.mu.Unlock()
		return false
	}
	pw.queue.Enqueue(req)
	pw.mu.Unlock()

	select {
	case pw.notify <- struct{}{}:
	default:
	}

	return true
}

func (pw *portWorker) dequeue() (*request, bool) {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	return pw.queue.Dequeue()
}

// loop is one iteration of the worker task: run the next request or wait for one.
func (pw *portWorker) loop() bool {
	req, ok := pw.dequeue()
	if !ok {
		select {
		case <-pw.taskMgr.Context().Done():
			return false
		case <-pw.notify:
			return true
		}
	}

	pw.run(req)

	return true
}

func (pw *portWorker) run(req *request) {
	if !req.state.CompareAndSwap(reqPending, reqRunning) {
		return // expired in the queue
	}
	req.timer.Stop()

	msg := req.msg
	status := pw.exchange(req)
	if status != Success {
		pw.logger.Debug("directnet: exchange failed",
			"target", req.target.name,
			"command", msg.Command,
			"address", msg.Address,
			"status", status,
		)
	}

	req.state.Store(reqDone)
	pw.complete(req, status)
}

// exchange runs req on the line. A panic in the transport fails req with
// Internal and leaves the worker serving the port.
func (pw *portWorker) exchange(req *request) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			pw.logger.Error("directnet: panic during exchange",
				"target", req.target.name,
				"command", req.msg.Command,
				"panic", r,
			)
			status = Internal
		}
	}()

	msg := req.msg
	proto := pw.protocols[req.target.variant]

	if msg.Command.IsWrite() {
		return proto.Write(msg.Command, msg.Address, msg.Data)
	}

	buf := pw.scratchBuf(len(msg.Data))
	status = proto.Read(msg.Command, msg.Address, buf)
	if status == Success {
		copy(msg.Data, buf)
	}

	return status
}

// scratchBuf returns a read buffer of n bytes, so a failed read leaves the
// message data untouched.
func (pw *portWorker) scratchBuf(n int) []byte {
	if cap(pw.scratch) < n {
		pw.scratch = make([]byte, n)
	}

	return pw.scratch[:n]
}

// complete resolves req; the caller must have moved req out of the pending state.
func (pw *portWorker) complete(req *request, status Status) {
	msg := req.msg
	msg.Status = status
	req.target.metrics.recordStatus(status)
	msg.inFlight.Store(false)

	if cb := msg.Callback; cb != nil {
		pw.taskMgr.CallWithRecover("callback", func() { cb(msg) })
	}

	req.done <- status
}

// shutdown refuses further requests and resolves every still pending one with status.
func (pw *portWorker) shutdown(status Status) {
	pw.mu.Lock()
	pw.closed = true
	reqs := pw.queue.Drain()
	pw.mu.Unlock()

	for _, req := range reqs {
		if req.state.CompareAndSwap(reqPending, reqDone) {
			req.timer.Stop()
			pw.complete(req, status)
		}
	}
}

func (pw *portWorker) onConnChange(connected bool) {
	pw.logger.Info("directnet: port connectivity changed", "connected", connected)

	pw.bound.Range(func(msg *Message, _ struct{}) bool {
		if fn := msg.ConnStatus; fn != nil {
			pw.taskMgr.CallWithRecover("conn-status", func() { fn(msg, connected) })
		}
		return true
	})
}
