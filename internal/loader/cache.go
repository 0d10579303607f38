// Package loader constructs agents on first use and memoizes them.
//
// A Cache is meant to live for the whole process and be shared by every
// enforcement call. Concurrent misses for the same agent collapse into one
// construction; misses for different agents construct in parallel.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dotcommander/sage-enforce/internal/registry"
	"github.com/dotcommander/sage-enforce/internal/types"
)

// ErrAgentLoad matches every *AgentLoadError.
var ErrAgentLoad = errors.New("agent load failed")

// AgentLoadError reports that an agent's constructor failed.
type AgentLoadError struct {
	Name string
	Err  error
}

func (e *AgentLoadError) Error() string {
	return fmt.Sprintf("load agent %q: %v", e.Name, e.Err)
}

func (e *AgentLoadError) Unwrap() error { return e.Err }

// Is matches ErrAgentLoad.
func (e *AgentLoadError) Is(target error) bool { return target == ErrAgentLoad }

// Resolver looks up agent metadata and constructors by name.
// *registry.Registry satisfies it.
type Resolver interface {
	Metadata(name string) (types.AgentMetadata, error)
	Factory(name string) (registry.Factory, error)
}

// LoadedAgent is a constructed agent plus load bookkeeping.
type LoadedAgent struct {
	Metadata     types.AgentMetadata
	LoadedAt     time.Time
	LoadDuration time.Duration

	agent types.Agent
}

// Execute runs the underlying agent.
func (la *LoadedAgent) Execute(ctx context.Context, in types.AgentInput) (*types.AgentResult, error) {
	return la.agent.Execute(ctx, in)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits     uint64        `json:"hits"`
	Misses   uint64        `json:"misses"`
	Loads    uint64        `json:"loads"`
	Failures uint64        `json:"failures"`
	Cached   int           `json:"cached"`
	LoadTime time.Duration `json:"loadTimeNs"`
}

// Cache memoizes constructed agents by name.
type Cache struct {
	resolver Resolver

	mu     sync.RWMutex
	agents map[string]*LoadedAgent
	// gen is bumped by Clear so loads that started before it do not
	// repopulate the cache.
	gen uint64

	group singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	loads     atomic.Uint64
	failures  atomic.Uint64
	loadNanos atomic.Int64
}

// New creates an empty cache over resolver.
func New(resolver Resolver) *Cache {
	return &Cache{
		resolver: resolver,
		agents:   make(map[string]*LoadedAgent),
	}
}

// Get returns the agent registered as name, constructing it on first use.
//
// It fails with *registry.UnknownAgentError for unregistered names and
// with *AgentLoadError when construction fails. Failures are not cached:
// the next Get retries construction. If ctx ends while waiting on a
// construction, Get returns ctx.Err(); the construction itself completes
// and is cached for later callers.
func (c *Cache) Get(ctx context.Context, name string) (*LoadedAgent, error) {
	c.mu.RLock()
	la, ok := c.agents[name]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return la, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(name, func() (any, error) {
		return c.load(name)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*LoadedAgent), nil
	}
}

func (c *Cache) load(name string) (la *LoadedAgent, err error) {
	c.mu.RLock()
	if cached, ok := c.agents[name]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	meta, err := c.resolver.Metadata(name)
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}
	factory, err := c.resolver.Factory(name)
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}

	start := time.Now()
	agent, err := construct(factory)
	elapsed := time.Since(start)
	if err == nil && agent == nil {
		err = errors.New("constructor returned a nil agent")
	}
	if err != nil {
		c.failures.Add(1)
		return nil, &AgentLoadError{Name: name, Err: err}
	}

	la = &LoadedAgent{
		Metadata:     meta,
		LoadedAt:     start,
		LoadDuration: elapsed,
		agent:        agent,
	}

	c.mu.Lock()
	if c.gen == gen {
		c.agents[name] = la
	}
	c.mu.Unlock()

	c.loads.Add(1)
	c.loadNanos.Add(int64(elapsed))
	return la, nil
}

// construct calls factory, converting a panic into an error.
func construct(factory registry.Factory) (agent types.Agent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("constructor panicked: %v", r)
		}
	}()
	return factory()
}

// Clear empties the cache and resets every counter.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.agents = make(map[string]*LoadedAgent)
	c.gen++
	c.mu.Unlock()

	c.hits.Store(0)
	c.misses.Store(0)
	c.loads.Store(0)
	c.failures.Store(0)
	c.loadNanos.Store(0)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	cached := len(c.agents)
	c.mu.RUnlock()

	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Loads:    c.loads.Load(),
		Failures: c.failures.Load(),
		Cached:   cached,
		LoadTime: time.Duration(c.loadNanos.Load()),
	}
}
