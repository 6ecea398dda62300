package relaypool

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"
)

// Config holds the pool's tunables.
type Config struct {
	MaxConnections    int           // ceiling on concurrent relay connections
	ConnTimeout       time.Duration // per-dial establishment timeout
	ReconnectInterval time.Duration // health monitor tick
	MaxConnRetries    int           // dial failures tolerated per relay before the counter saturates
	IdleTimeout       time.Duration // subscription-free connections older than this are swept
	CacheMaxSize      int
	CacheTTL          time.Duration
}

// DefaultConfig returns the defaults used when a zero Config is passed in.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    10,
		ConnTimeout:       10 * time.Second,
		ReconnectInterval: 30 * time.Second,
		MaxConnRetries:    3,
		IdleTimeout:       2 * time.Minute,
		CacheMaxSize:      1000,
		CacheTTL:          5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = d.ConnTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.MaxConnRetries <= 0 {
		c.MaxConnRetries = d.MaxConnRetries
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.CacheMaxSize <= 0 {
		c.CacheMaxSize = d.CacheMaxSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	return c
}

// Pool owns the relay connections for a process: it enforces the connection
// ceiling, retries failed relays with a saturating per-relay counter, and
// re-checks unhealthy relays in the background. It also carries a shared
// bounded TTL cache for higher layers.
type Pool struct {
	cfg Config

	mu        sync.RWMutex
	conns     map[string]*RelayConn
	reserved  int // slots held by in-flight dials, counted against the ceiling
	retries   map[string]int
	unhealthy map[string]bool
	monitorCh chan struct{} // closed to stop the current monitor

	dialGroup singleflight.Group
	cache     *Cache
}

// New creates a pool and starts its health monitor.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:       cfg,
		conns:     make(map[string]*RelayConn),
		retries:   make(map[string]int),
		unhealthy: make(map[string]bool),
		monitorCh: make(chan struct{}),
		cache:     NewCache(cfg.CacheMaxSize, cfg.CacheTTL),
	}
	go p.monitor(p.monitorCh)
	return p
}

// Cache returns the pool's shared cache.
func (p *Pool) Cache() *Cache { return p.cache }

// Acquire returns a live connection for the endpoint, establishing one if
// necessary. Concurrent callers for the same endpoint share a single dial.
func (p *Pool) Acquire(ctx context.Context, endpoint string) (*RelayConn, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, &Error{Code: CodeRelayFailed, Relay: endpoint, Err: err}
	}

	p.mu.RLock()
	rc := p.conns[endpoint]
	p.mu.RUnlock()
	if rc != nil && !rc.Closed() {
		return rc, nil
	}

	v, err, _ := p.dialGroup.Do(endpoint, func() (interface{}, error) {
		return p.establish(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RelayConn), nil
}

func (p *Pool) establish(ctx context.Context, endpoint string) (*RelayConn, error) {
	p.mu.Lock()
	// another caller may have won the race before singleflight collapsed us
	if rc := p.conns[endpoint]; rc != nil && !rc.Closed() {
		p.mu.Unlock()
		return rc, nil
	}
	delete(p.conns, endpoint) // drop a dead entry if present

	live := 0
	for _, rc := range p.conns {
		if !rc.Closed() {
			live++
		}
	}
	// in-flight dials hold their slot so concurrent establishes for
	// distinct endpoints cannot overshoot the ceiling together
	if live+p.reserved >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return nil, &Error{Code: CodeConnectionLimit, Relay: endpoint}
	}
	p.reserved++
	p.mu.Unlock()

	rc, err := p.dial(ctx, endpoint)
	if err != nil {
		p.mu.Lock()
		p.reserved--
		p.mu.Unlock()
		attempts := p.recordFailure(endpoint)
		code := CodeRelayFailed
		if isTimeout(err) {
			code = CodeConnectionTimeout
		}
		return nil, &Error{Code: code, Relay: endpoint, Attempts: attempts, Err: err}
	}

	p.mu.Lock()
	p.reserved--
	p.conns[endpoint] = rc
	p.retries[endpoint] = 0
	delete(p.unhealthy, endpoint)
	p.mu.Unlock()

	slog.Debug("relaypool: connection established", "relay", endpoint)
	return rc, nil
}

func (p *Pool) dial(ctx context.Context, endpoint string) (*RelayConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if dialCtx.Err() == context.DeadlineExceeded {
			err = context.DeadlineExceeded
		}
		return nil, err
	}
	return newRelayConn(conn, endpoint, p.connClosed), nil
}

// recordFailure bumps the per-relay retry counter, saturating at the
// configured maximum until a successful connection resets it. It does NOT
// mark the endpoint unhealthy: the monitor only services relays that once
// held a pool entry (connClosed), never endpoints that failed to dial.
func (p *Pool) recordFailure(endpoint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retries[endpoint] < p.cfg.MaxConnRetries {
		p.retries[endpoint]++
	}
	return p.retries[endpoint]
}

// connClosed marks a dropped connection's relay unhealthy so the monitor
// picks it up.
func (p *Pool) connClosed(rc *RelayConn) {
	p.mu.Lock()
	if p.conns[rc.URL] == rc {
		p.unhealthy[rc.URL] = true
	}
	p.mu.Unlock()
}

// monitor periodically redials unhealthy relays (best effort) and sweeps
// idle connections.
func (p *Pool) monitor(stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.checkHealth()
			p.sweepIdle()
		}
	}
}

func (p *Pool) checkHealth() {
	p.mu.RLock()
	endpoints := make([]string, 0, len(p.unhealthy))
	for endpoint := range p.unhealthy {
		endpoints = append(endpoints, endpoint)
	}
	p.mu.RUnlock()

	for _, endpoint := range endpoints {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnTimeout)
		_, err, _ := p.dialGroup.Do(endpoint, func() (interface{}, error) {
			return p.establish(ctx, endpoint)
		})
		cancel()
		if err != nil {
			// heartbeat failure is not caller visible
			slog.Debug("relaypool: health check failed", "relay", endpoint, "error", err)
		}
	}
}

func (p *Pool) sweepIdle() {
	now := time.Now()
	p.mu.Lock()
	for endpoint, rc := range p.conns {
		if rc.Closed() {
			delete(p.conns, endpoint)
			continue
		}
		if rc.idleSince(now, p.cfg.IdleTimeout) {
			slog.Debug("relaypool: closing idle connection", "relay", endpoint)
			delete(p.conns, endpoint)
			go rc.markClosed()
		}
	}
	p.mu.Unlock()
}

// Stats reports the number of live connections and the configured ceiling.
func (p *Pool) Stats() (active, max int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rc := range p.conns {
		if !rc.Closed() {
			active++
		}
	}
	return active, p.cfg.MaxConnections
}

// Close tears down every connection and clears per-relay retry and health
// state. The pool stays usable: subsequent Acquire calls establish fresh
// connections (and restart the monitor). Safe to call concurrently with
// in-flight establishment.
func (p *Pool) Close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*RelayConn)
	p.retries = make(map[string]int)
	p.unhealthy = make(map[string]bool)
	select {
	case <-p.monitorCh:
		// already stopped
	default:
		close(p.monitorCh)
	}
	p.monitorCh = make(chan struct{})
	go p.monitor(p.monitorCh)
	p.mu.Unlock()

	for _, rc := range conns {
		rc.markClosed()
	}
}

// Shutdown is Close plus a full stop: the monitor exits and the cache is
// released. The pool must not be used afterwards.
func (p *Pool) Shutdown() {
	p.Close()
	p.mu.Lock()
	select {
	case <-p.monitorCh:
	default:
		close(p.monitorCh)
	}
	p.mu.Unlock()
	p.cache.Close()
}

// Cache convenience wrappers, shared by higher layers for memoizing
// arbitrary lookups (relay capability documents and the like).

func (p *Pool) SetCache(key string, value interface{}) error {
	return p.cache.Set(key, value)
}

func (p *Pool) SetCacheTTL(key string, value interface{}, ttl time.Duration) error {
	return p.cache.SetTTL(key, value, ttl)
}

func (p *Pool) GetCache(key string) (interface{}, bool) {
	return p.cache.Get(key)
}

func (p *Pool) HasCache(key string) bool { return p.cache.Has(key) }

func (p *Pool) InvalidateCache(key string) { p.cache.Invalidate(key) }

func (p *Pool) ClearCache() { p.cache.Clear() }

func validateEndpoint(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return errors.New("relay endpoint must use ws:// or wss://")
	}
	if parsed.Hostname() == "" {
		return errors.New("relay endpoint missing host")
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
