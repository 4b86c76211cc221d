package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

// SessionPool hands out model sessions so that concurrent requests never
// share one. Sessions lost to initialization failures are replenished by
// a background health check.
type SessionPool struct {
	sessions   chan *modelSession
	size       int
	newSession func() (*modelSession, error)
	logger     *zap.Logger

	mu     sync.Mutex
	closed bool

	statsMu         sync.Mutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
}

// PoolStats is a point-in-time snapshot of pool counters.
type PoolStats struct {
	Size            int   `json:"pool_size"`
	InUse           int   `json:"sessions_in_use"`
	TotalAcquired   int64 `json:"total_acquired"`
	TotalReleased   int64 `json:"total_released"`
	AcquireFailures int64 `json:"acquire_failures"`
}

func NewSessionPool(size int, newSession func() (*modelSession, error), logger *zap.Logger) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := &SessionPool{
		sessions:   make(chan *modelSession, size),
		size:       size,
		newSession: newSession,
		logger:     logger.Named("pool"),
	}

	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	go pool.healthCheck()

	return pool, nil
}

func (p *SessionPool) Acquire(ctx context.Context) (*modelSession, error) {
	if p.Closed() {
		return nil, fmt.Errorf("pool is closed")
	}

	select {
	case session := <-p.sessions:
		p.statsMu.Lock()
		p.inUse++
		p.totalAcquired++
		p.statsMu.Unlock()
		return session, nil
	case <-time.After(AcquireTimeout):
		p.statsMu.Lock()
		p.acquireFailures++
		p.statsMu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *SessionPool) Release(session *modelSession) {
	if p.Closed() {
		session.destroy()
		return
	}

	p.statsMu.Lock()
	p.inUse--
	p.totalReleased++
	p.statsMu.Unlock()

	p.sessions <- session
}

func (p *SessionPool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *SessionPool) Destroy() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.sessions)
	for session := range p.sessions {
		session.destroy()
	}
}

func (p *SessionPool) Stats() PoolStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return PoolStats{
		Size:            p.size,
		InUse:           p.inUse,
		TotalAcquired:   p.totalAcquired,
		TotalReleased:   p.totalReleased,
		AcquireFailures: p.acquireFailures,
	}
}

func (p *SessionPool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if p.Closed() {
			return
		}
		if missing := p.size - len(p.sessions) - p.currentInUse(); missing > 0 {
			p.replenish(missing)
		}
	}
}

func (p *SessionPool) currentInUse() int {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.inUse
}

func (p *SessionPool) replenish(count int) {
	for i := 0; i < count; i++ {
		session, err := p.newSession()
		if err != nil {
			p.logger.Warn("replenish session", zap.Error(err))
			continue
		}
		p.sessions <- session
	}
}
