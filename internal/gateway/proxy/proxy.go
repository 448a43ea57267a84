// Package proxy maintains per-route backend gRPC connections and proxies
// individual calls to them (C7): connections are dialed lazily on first
// use, evicted and retried on sustained failure, and closed when idle
// past a configured threshold.
package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tracdap/platform-gateway/internal/apperror"
	"github.com/tracdap/platform-gateway/internal/gateway/route"
	"github.com/tracdap/platform-gateway/internal/obslog"
)

// Config controls dialing, health checking and idle eviction of backend
// channels.
type Config struct {
	DialTimeout        time.Duration
	HealthCheckPeriod  time.Duration
	IdleEvictionPeriod time.Duration
	MaxRecvMsgSize     int
	MaxSendMsgSize     int
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
	if c.IdleEvictionPeriod <= 0 {
		c.IdleEvictionPeriod = 10 * time.Minute
	}
	if c.MaxRecvMsgSize <= 0 {
		c.MaxRecvMsgSize = 50 * 1024 * 1024
	}
	if c.MaxSendMsgSize <= 0 {
		c.MaxSendMsgSize = 50 * 1024 * 1024
	}
	return c
}

type channel struct {
	conn     *grpc.ClientConn
	lastUsed time.Time
	failures int
}

// Manager is the connection-channel map keyed by backend target address.
// Routes sharing a target (two routes both pointed at the same
// SERVICE_KEY, say) share one underlying *grpc.ClientConn.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	channels map[string]*channel

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager starts a Manager and its background idle-eviction sweep.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		channels: make(map[string]*channel),
		stopCh:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.evictLoop()
	return m
}

// Close shuts down the background sweep and every open backend channel.
func (m *Manager) Close() error {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for addr, ch := range m.channels {
		if err := ch.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing channel to %s: %w", addr, err)
		}
	}
	m.channels = make(map[string]*channel)
	return firstErr
}

// Get returns the backend *grpc.ClientConn for target, dialing lazily on
// first use. Repeated calls for the same target.Address() reuse the
// channel until it is evicted for sustained failure or idleness.
func (m *Manager) Get(ctx context.Context, target route.Target) (*grpc.ClientConn, error) {
	addr := target.Address()

	m.mu.Lock()
	ch, ok := m.channels[addr]
	if ok {
		ch.lastUsed = time.Now()
		m.mu.Unlock()
		return ch.conn, nil
	}
	m.mu.Unlock()

	conn, err := m.dial(ctx, addr)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDialFailed, "failed to dial backend "+addr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.channels[addr]; ok {
		// another goroutine won the race to dial this address first.
		_ = conn.Close()
		existing.lastUsed = time.Now()
		return existing.conn, nil
	}
	m.channels[addr] = &channel{conn: conn, lastUsed: time.Now()}
	return conn, nil
}

// MarkFailure records a failed call against target's channel; once a
// channel accumulates enough consecutive failures it is evicted so the
// next Get dials a fresh connection.
func (m *Manager) MarkFailure(target route.Target) {
	const evictAfterFailures = 5

	addr := target.Address()
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[addr]
	if !ok {
		return
	}
	ch.failures++
	if ch.failures >= evictAfterFailures {
		obslog.Warn("evicting backend channel after consecutive failures", "address", addr, "failures", ch.failures)
		_ = ch.conn.Close()
		delete(m.channels, addr)
	}
}

// MarkSuccess resets a channel's failure count after a successful call.
func (m *Manager) MarkSuccess(target route.Target) {
	addr := target.Address()
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[addr]; ok {
		ch.failures = 0
		ch.lastUsed = time.Now()
	}
}

func (m *Manager) dial(_ context.Context, addr string) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(m.cfg.MaxRecvMsgSize),
			grpc.MaxCallSendMsgSize(m.cfg.MaxSendMsgSize),
		),
	}
	// grpc.NewClient never blocks on the network; actual connection
	// establishment happens lazily on the channel's first RPC. DialTimeout
	// is not applied here or anywhere else: HealthCheck is bounded by
	// HealthCheckPeriod, and proxied calls only by the caller's context.
	return grpc.NewClient(addr, opts...)
}

// HealthCheck reports whether the backend behind target currently answers
// the standard gRPC health-checking protocol.
func (m *Manager) HealthCheck(ctx context.Context, target route.Target) error {
	conn, err := m.Get(ctx, target)
	if err != nil {
		return err
	}
	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthCheckPeriod)
	defer cancel()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(checkCtx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		m.MarkFailure(target)
		return apperror.Wrap(err, apperror.CodeBackendUnavailable, "backend health check failed for "+target.Address())
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		m.MarkFailure(target)
		return apperror.New(apperror.CodeBackendUnavailable, "backend reports non-serving status: "+resp.Status.String())
	}
	m.MarkSuccess(target)
	return nil
}

func (m *Manager) evictLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.IdleEvictionPeriod / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleEvictionPeriod)
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, ch := range m.channels {
		if ch.lastUsed.Before(cutoff) {
			_ = ch.conn.Close()
			delete(m.channels, addr)
		}
	}
}
