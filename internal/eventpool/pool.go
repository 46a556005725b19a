// Package eventpool ships lifecycle events to an attached observer
// server without ever blocking the orchestrator's main path. Events are
// enqueued non-blocking and flushed by a single batching goroutine in
// 50 ms windows of up to 10 events, grouped by namespace, over a small
// pool of reused connections behind a circuit breaker.
package eventpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mpm/pkg/logger"
)

const (
	batchWindow  = 50 * time.Millisecond
	maxBatchSize = 10
)

// Event is one queued emission.
type Event struct {
	Namespace string
	Name      string
	Data      map[string]any
}

// Stats are cumulative pool counters.
type Stats struct {
	Enqueued      int64
	Emitted       int64
	Dropped       int64
	BatchesSent   int64
	BatchesFailed int64
	Connections   int
}

// Options configure a pool. Zero values get defaults.
type Options struct {
	Port           int // 0 = discover
	AuthToken      string
	MaxConnections int // default 5
	QueueCapacity  int // default 10000
}

// Pool is the event connection pool. Create with NewPool, then Start.
type Pool struct {
	opts    Options
	breaker *CircuitBreaker
	log     zerolog.Logger
	dial    func() (emitter, error)

	mu        sync.Mutex
	queue     []Event // bounded; oldest dropped on overflow
	available []emitter
	active    map[emitter]struct{}
	total     int
	stats     Stats
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewPool creates a pool. No network activity happens until Start.
func NewPool(opts Options) *Pool {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 5
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 10000
	}

	p := &Pool{
		opts:    opts,
		breaker: NewCircuitBreaker(),
		log:     logger.ForComponent("eventpool"),
		active:  make(map[emitter]struct{}),
	}
	p.dial = func() (emitter, error) {
		port := p.opts.Port
		if port == 0 {
			port = DiscoverPort()
		}
		return dialEventServer(port, p.opts.AuthToken)
	}
	return p
}

// Start launches the batching goroutine. Idempotent.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.batchLoop()
	p.log.Debug().Msg("event pool started")
}

// Stop flushes nothing further, disconnects every client, and clears
// state. Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	conns := make([]emitter, 0, len(p.available)+len(p.active))
	conns = append(conns, p.available...)
	for c := range p.active {
		conns = append(conns, c)
	}
	p.available = nil
	p.active = make(map[emitter]struct{})
	p.total = 0
	p.queue = nil
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	p.log.Debug().Msg("event pool stopped")
}

// EmitEvent enqueues one event and returns immediately. When the queue
// is full the oldest event is dropped.
func (p *Pool) EmitEvent(namespace, event string, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Enqueued++
	if len(p.queue) >= p.opts.QueueCapacity {
		p.queue = p.queue[1:]
		p.stats.Dropped++
	}
	p.queue = append(p.queue, Event{Namespace: namespace, Name: event, Data: data})
}

// GetStats returns a snapshot of the counters.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Connections = p.total
	return s
}

func (p *Pool) batchLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(batchWindow)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.flushOnce()
		}
	}
}

// flushOnce drains up to one batch and sends it, namespace by namespace.
func (p *Pool) flushOnce() {
	p.mu.Lock()
	n := len(p.queue)
	if n == 0 {
		p.mu.Unlock()
		return
	}
	if n > maxBatchSize {
		n = maxBatchSize
	}
	batch := make([]Event, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	p.mu.Unlock()

	if !p.breaker.CanExecute() {
		p.mu.Lock()
		p.stats.Dropped += int64(len(batch))
		p.mu.Unlock()
		p.log.Warn().Int("events", len(batch)).Msg("circuit open, dropping batch")
		return
	}

	batchID := fmt.Sprintf("batch_%d", time.Now().UnixMilli())
	stamp := time.Now().UTC().Format(time.RFC3339Nano)

	// Per-namespace groups preserve enqueue order within a namespace.
	order := make([]string, 0, len(batch))
	groups := make(map[string][]Event)
	for _, ev := range batch {
		if _, ok := groups[ev.Namespace]; !ok {
			order = append(order, ev.Namespace)
		}
		groups[ev.Namespace] = append(groups[ev.Namespace], ev)
	}

	client, err := p.acquire()
	if err != nil {
		p.breaker.RecordFailure()
		p.mu.Lock()
		p.stats.Dropped += int64(len(batch))
		p.stats.BatchesFailed++
		p.mu.Unlock()
		p.log.Warn().Err(err).Int("events", len(batch)).Msg("no event connection, dropping batch")
		return
	}

	var emitErr error
	for _, ns := range order {
		for _, ev := range groups[ns] {
			payload := make(map[string]any, len(ev.Data)+2)
			for k, v := range ev.Data {
				payload[k] = v
			}
			payload["batch_id"] = batchID
			payload["timestamp"] = stamp

			if err := client.Emit(ns, ev.Name, payload); err != nil {
				emitErr = err
				break
			}
			p.mu.Lock()
			p.stats.Emitted++
			p.mu.Unlock()
		}
		if emitErr != nil {
			break
		}
	}

	p.mu.Lock()
	if emitErr != nil {
		p.stats.BatchesFailed++
	} else {
		p.stats.BatchesSent++
	}
	p.mu.Unlock()

	if emitErr != nil {
		p.breaker.RecordFailure()
		p.discard(client)
		p.log.Warn().Err(emitErr).Msg("batch flush failed")
		return
	}
	p.breaker.RecordSuccess()
	p.release(client)
}

// acquire pops an available client or dials a new one up to the cap.
func (p *Pool) acquire() (emitter, error) {
	p.mu.Lock()
	if len(p.available) > 0 {
		c := p.available[0]
		p.available = p.available[1:]
		p.active[c] = struct{}{}
		p.mu.Unlock()
		return c, nil
	}
	if p.total >= p.opts.MaxConnections {
		p.mu.Unlock()
		return nil, fmt.Errorf("connection pool exhausted (%d)", p.opts.MaxConnections)
	}
	p.total++
	p.mu.Unlock()

	c, err := p.dial()
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.active[c] = struct{}{}
	p.mu.Unlock()
	return c, nil
}

// release returns a client to the available deque, or disconnects it in
// the background when the deque is full.
func (p *Pool) release(c emitter) {
	p.mu.Lock()
	delete(p.active, c)
	if len(p.available) < p.opts.MaxConnections {
		p.available = append(p.available, c)
		p.mu.Unlock()
		return
	}
	p.total--
	p.mu.Unlock()
	go c.Close()
}

// discard drops a broken client entirely.
func (p *Pool) discard(c emitter) {
	p.mu.Lock()
	delete(p.active, c)
	p.total--
	p.mu.Unlock()
	go c.Close()
}

// Breaker exposes the circuit breaker, mainly for status reporting.
func (p *Pool) Breaker() *CircuitBreaker {
	return p.breaker
}

var (
	globalMu   sync.Mutex
	globalPool *Pool
)

// GetPool returns the process-wide pool, creating and starting it on
// first use.
func GetPool(opts Options) *Pool {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalPool == nil {
		globalPool = NewPool(opts)
		globalPool.Start()
	}
	return globalPool
}

// StopPool stops and clears the process-wide pool.
func StopPool() {
	globalMu.Lock()
	p := globalPool
	globalPool = nil
	globalMu.Unlock()
	if p != nil {
		p.Stop()
	}
}
