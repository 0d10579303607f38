package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/sage-enforce/internal/mocks"
	"github.com/dotcommander/sage-enforce/internal/registry"
	"github.com/dotcommander/sage-enforce/internal/types"
)

func meta(name string) types.AgentMetadata {
	return types.AgentMetadata{Name: name, Description: name, SupportedExtensions: []string{".py"}}
}

func newRegistry(t *testing.T, factories map[string]registry.Factory) *registry.Registry {
	t.Helper()
	r := registry.New()
	for name, f := range factories {
		require.NoError(t, r.Register(meta(name), f))
	}
	r.Seal()
	return r
}

// countingFactory returns a factory that sleeps for delay and counts calls.
func countingFactory(calls *atomic.Int32, delay time.Duration, agent types.Agent) registry.Factory {
	return func() (types.Agent, error) {
		calls.Add(1)
		time.Sleep(delay)
		return agent, nil
	}
}

// =============================================================================
// Memoization
// =============================================================================

func TestGet_MemoizesAndDelegates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	agent := mocks.NewMockAgent(ctrl)
	in := types.AgentInput{FilePath: "/p/a.py", Content: "x = 1\n"}
	want := types.NewAgentResult([]types.Violation{{Line: 1, Severity: types.SeverityInfo, Rule: "r", Message: "m"}})
	agent.EXPECT().Execute(gomock.Any(), in).Return(want, nil).Times(2)

	var calls atomic.Int32
	c := New(newRegistry(t, map[string]registry.Factory{"mock-agent": countingFactory(&calls, 0, agent)}))

	first, err := c.Get(context.Background(), "mock-agent")
	require.NoError(t, err)
	second, err := c.Get(context.Background(), "mock-agent")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "mock-agent", first.Metadata.Name)

	for _, la := range []*LoadedAgent{first, second} {
		got, err := la.Execute(context.Background(), in)
		require.NoError(t, err)
		assert.Same(t, want, got)
	}

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Loads)
	assert.Equal(t, 1, stats.Cached)
}

func TestGet_HitIsMuchFasterThanLoad(t *testing.T) {
	var calls atomic.Int32
	c := New(newRegistry(t, map[string]registry.Factory{
		"slow": countingFactory(&calls, 20*time.Millisecond, types.AgentFunc(nil)),
	}))

	start := time.Now()
	_, err := c.Get(context.Background(), "slow")
	require.NoError(t, err)
	cold := time.Since(start)

	start = time.Now()
	_, err = c.Get(context.Background(), "slow")
	require.NoError(t, err)
	hot := time.Since(start)

	assert.Less(t, hot*10, cold, "cache hit (%s) should be an order of magnitude faster than load (%s)", hot, cold)
	assert.Less(t, hot, time.Millisecond)
}

// =============================================================================
// Concurrency
// =============================================================================

func TestGet_SingleFlight(t *testing.T) {
	var calls atomic.Int32
	c := New(newRegistry(t, map[string]registry.Factory{
		"slow": countingFactory(&calls, 50*time.Millisecond, types.AgentFunc(nil)),
	}))

	const callers = 16
	results := make([]*LoadedAgent, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			la, err := c.Get(context.Background(), "slow")
			assert.NoError(t, err)
			results[i] = la
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent misses must construct once")
	for _, la := range results {
		assert.Same(t, results[0], la)
	}
	assert.Equal(t, uint64(1), c.Stats().Loads)
}

func TestGet_DifferentNamesLoadInParallel(t *testing.T) {
	// Each constructor waits until both have started; a serialized cache
	// would deadlock here and fail on the timeout.
	var started sync.WaitGroup
	started.Add(2)
	factory := func() (types.Agent, error) {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
			return types.AgentFunc(nil), nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("constructors did not overlap")
		}
	}
	c := New(newRegistry(t, map[string]registry.Factory{"alpha": factory, "beta": factory}))

	var wg sync.WaitGroup
	for _, name := range []string{"alpha", "beta"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := c.Get(context.Background(), name)
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()
	assert.Equal(t, 2, c.Stats().Cached)
}

func TestGet_ContextCancelledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	c := New(newRegistry(t, map[string]registry.Factory{
		"blocked": func() (types.Agent, error) {
			<-release
			return types.AgentFunc(nil), nil
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "blocked")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	la, err := c.Get(context.Background(), "blocked")
	require.NoError(t, err)
	assert.NotNil(t, la)
}

// =============================================================================
// Failures
// =============================================================================

func TestGet_UnknownAgent(t *testing.T) {
	c := New(newRegistry(t, nil))

	_, err := c.Get(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrUnknownAgent)
	assert.NotErrorIs(t, err, ErrAgentLoad)

	var unknown *registry.UnknownAgentError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "nonexistent", unknown.Name)
	assert.Equal(t, uint64(1), c.Stats().Failures)
}

func TestGet_FailureIsNotCached(t *testing.T) {
	boom := errors.New("tool binding failed")
	var calls atomic.Int32
	c := New(newRegistry(t, map[string]registry.Factory{
		"flaky": func() (types.Agent, error) {
			if calls.Add(1) == 1 {
				return nil, boom
			}
			return types.AgentFunc(nil), nil
		},
	}))

	_, err := c.Get(context.Background(), "flaky")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentLoad)
	assert.ErrorIs(t, err, boom)

	var loadErr *AgentLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "flaky", loadErr.Name)
	assert.Equal(t, 0, c.Stats().Cached)

	la, err := c.Get(context.Background(), "flaky")
	require.NoError(t, err, "retry must attempt construction again")
	assert.NotNil(t, la)
	assert.Equal(t, int32(2), calls.Load())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, uint64(1), stats.Loads)
}

func TestGet_PanicAndNilBecomeLoadErrors(t *testing.T) {
	c := New(newRegistry(t, map[string]registry.Factory{
		"panics":      func() (types.Agent, error) { panic("bad regex table") },
		"returns-nil": func() (types.Agent, error) { return nil, nil },
	}))

	_, err := c.Get(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrAgentLoad)
	assert.Contains(t, err.Error(), "bad regex table")

	_, err = c.Get(context.Background(), "returns-nil")
	assert.ErrorIs(t, err, ErrAgentLoad)
	assert.Contains(t, err.Error(), "nil agent")
}

// =============================================================================
// Clear
// =============================================================================

func TestClear(t *testing.T) {
	var calls atomic.Int32
	c := New(newRegistry(t, map[string]registry.Factory{
		"a": countingFactory(&calls, 0, types.AgentFunc(nil)),
	}))

	first, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "a")
	require.NoError(t, err)

	c.Clear()
	assert.Equal(t, Stats{}, c.Stats())

	again, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.NotSame(t, first, again, "Clear forces a cold load")
	assert.Equal(t, int32(2), calls.Load())

	stats := c.Stats()
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}
