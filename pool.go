package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/engine"
	"github.com/KuyaKoya/flutter-floorplan-ensemble/pipeline"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

// EngineSet is one pool slot: a loaded session per ensemble model, in
// manifest order. A request holds a whole set so its tile workers never
// contend with another request's inference.
type EngineSet struct {
	sessions []*engine.Session
	handles  []pipeline.Model
}

func newEngineSet(manifest engine.Manifest, tileSize int) (*EngineSet, error) {
	set := &EngineSet{}
	for _, spec := range manifest.Models {
		session, err := engine.NewSession(spec, tileSize)
		if err != nil {
			set.Destroy()
			return nil, fmt.Errorf("load model %s: %w", spec.Name, err)
		}
		set.sessions = append(set.sessions, session)
		set.handles = append(set.handles, pipeline.Model{
			Name:   spec.Name,
			Engine: session,
			Weight: spec.Weight,
		})
	}
	return set, nil
}

// Models returns the set's engines in manifest order.
func (s *EngineSet) Models() []pipeline.Model {
	return s.handles
}

func (s *EngineSet) Destroy() {
	for _, session := range s.sessions {
		session.Destroy()
	}
	s.sessions = nil
	s.handles = nil
}

type EngineSetPool struct {
	sets       chan *EngineSet
	size       int
	manifest   engine.Manifest
	tileSize   int
	mu         sync.Mutex
	closed     bool
	metrics    *PoolMetrics
	lastErrors []error
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

func NewEngineSetPool(manifest engine.Manifest, tileSize, size int) (*EngineSetPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &EngineSetPool{
		sets:     make(chan *EngineSet, size),
		size:     size,
		manifest: manifest,
		tileSize: tileSize,
		metrics:  &PoolMetrics{},
	}

	// Initialize sets
	for i := 0; i < size; i++ {
		set, err := newEngineSet(manifest, tileSize)
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize engine set %d: %w", i, err)
		}
		pool.sets <- set
	}

	// Start health check routine
	go pool.healthCheck()

	return pool, nil
}

func (p *EngineSetPool) Acquire(ctx context.Context) (*EngineSet, error) {
	if p.closed {
		return nil, fmt.Errorf("pool is closed")
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	select {
	case set := <-p.sets:
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return set, nil
	case <-time.After(AcquireTimeout):
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available engine set")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *EngineSetPool) Release(set *EngineSet) {
	if p.closed {
		set.Destroy()
		return
	}

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.sets <- set
}

func (p *EngineSetPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.sets)

	// Destroy all sets
	for set := range p.sets {
		set.Destroy()
	}
}

func (p *EngineSetPool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if p.closed {
			return
		}

		p.metrics.mu.RLock()
		inUse := p.metrics.inUse
		p.metrics.mu.RUnlock()

		// Sets held by requests are not lost; only recreate sets that
		// were destroyed after the pool closed underneath a release.
		if live := len(p.sets) + inUse; live < p.size {
			p.replenishSets(p.size - live)
		}
	}
}

func (p *EngineSetPool) replenishSets(count int) {
	for i := 0; i < count; i++ {
		set, err := newEngineSet(p.manifest, p.tileSize)
		if err != nil {
			p.recordError(err)
			continue
		}
		p.sets <- set
	}
}

func (p *EngineSetPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *EngineSetPool) GetMetrics() (inUse int, acquired, released, failures int64) {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return p.metrics.inUse, p.metrics.totalAcquired, p.metrics.totalReleased, p.metrics.acquireFailures
}
