package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/sage-enforce/internal/types"
)

func nopFactory() (types.Agent, error) {
	return types.AgentFunc(func(ctx context.Context, in types.AgentInput) (*types.AgentResult, error) {
		return types.NewAgentResult(nil), nil
	}), nil
}

func meta(name string, exts ...string) types.AgentMetadata {
	return types.AgentMetadata{Name: name, Description: name + " agent", SupportedExtensions: exts}
}

func populated(t *testing.T) *Registry {
	t.Helper()
	r := New()
	require.NoError(t, r.Register(meta("type-enforcer", ".py"), nopFactory))
	require.NoError(t, r.Register(meta("doc-validator", "py"), nopFactory))
	require.NoError(t, r.Register(meta("security-scanner", ".py", ".TS", ".tsx", ".js"), nopFactory))
	r.Seal()
	return r
}

func TestApplicableAgents(t *testing.T) {
	r := populated(t)

	tests := []struct {
		path string
		want []string
	}{
		{"/project/foo.ts", []string{"security-scanner"}},
		{"/project/foo.py", []string{"type-enforcer", "doc-validator", "security-scanner"}},
		{"/project/FOO.PY", []string{"type-enforcer", "doc-validator", "security-scanner"}},
		{"/project/App.TSX", []string{"security-scanner"}},
		{"/project/readme.md", []string{}},
		{"/project/Makefile", []string{}},
		{"/project/.py", []string{"type-enforcer", "doc-validator", "security-scanner"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := r.ApplicableAgents(tt.path)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplicableAgents_ReturnsCopy(t *testing.T) {
	r := populated(t)
	got := r.ApplicableAgents("a.py")
	got[0] = "mutated"
	assert.Equal(t, "type-enforcer", r.ApplicableAgents("a.py")[0])
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		meta    types.AgentMetadata
		factory Factory
		wantErr string
	}{
		{"uppercase name", meta("TypeEnforcer", ".py"), nopFactory, "invalid agent name"},
		{"empty name", meta("", ".py"), nopFactory, "invalid agent name"},
		{"trailing hyphen", meta("type-", ".py"), nopFactory, "invalid agent name"},
		{"nil factory", meta("ok", ".py"), nil, "nil factory"},
		{"no extensions", meta("ok"), nopFactory, "at least one supported extension"},
		{"blank extension", meta("ok", " "), nopFactory, "empty extension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Register(tt.meta, tt.factory)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(meta("a", ".py"), nopFactory))
	err := r.Register(meta("a", ".ts"), nopFactory)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Empty(t, r.ApplicableAgents("x.ts"), "failed registration must not map extensions")
}

func TestRegister_AfterSeal(t *testing.T) {
	r := populated(t)
	assert.True(t, r.Sealed())
	err := r.Register(meta("late", ".go"), nopFactory)
	assert.ErrorIs(t, err, ErrSealed)
	assert.Empty(t, r.ApplicableAgents("main.go"))
}

func TestRegister_NormalisesAndDedupesExtensions(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(meta("a", "PY", ".py", " .Py "), nopFactory))
	m, err := r.Metadata("a")
	require.NoError(t, err)
	assert.Equal(t, []string{".py"}, m.SupportedExtensions)
	assert.Equal(t, []string{"a"}, r.ApplicableAgents("x.py"))
}

func TestLookupUnknown(t *testing.T) {
	r := populated(t)

	_, err := r.Factory("nonexistent")
	assert.ErrorIs(t, err, ErrUnknownAgent)
	var unknown *UnknownAgentError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "nonexistent", unknown.Name)

	_, err = r.Metadata("nonexistent")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestAllAgentsAndExtensions(t *testing.T) {
	r := populated(t)

	all := r.AllAgents()
	require.Len(t, all, 3)
	assert.Equal(t, "type-enforcer", all[0].Name)
	assert.Equal(t, "security-scanner", all[2].Name)

	all[2].SupportedExtensions[0] = ".mutated"
	assert.Equal(t, ".py", r.AllAgents()[2].SupportedExtensions[0])

	assert.Equal(t, []string{".js", ".py", ".ts", ".tsx"}, r.Extensions())
}

func TestConcurrentReads(t *testing.T) {
	r := populated(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.ApplicableAgents("a.py")
				_, _ = r.Factory("doc-validator")
			}
		}()
	}
	wg.Wait()
}
