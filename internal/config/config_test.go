package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/sage-enforce/internal/types"
)

// resetViper resets viper to a clean state for each test
func resetViper() {
	viper.Reset()
}

// chdirTemp changes into a fresh temp dir for the duration of the test
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() {
		_ = os.Chdir(oldWd)
	})
	return tmpDir
}

// =============================================================================
// Loading
// =============================================================================

func TestLoadConfigDefaults(t *testing.T) {
	resetViper()
	chdirTemp(t)

	config, err := LoadConfig("")
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "", config.Root)
	assert.Equal(t, "console", config.Format)
	assert.Equal(t, 10, config.LimitPerSeverity)
	assert.Equal(t, time.Duration(0), config.Timeout)
	assert.Equal(t, 4, config.Concurrency)
	assert.Equal(t, []string{"**/*"}, config.Include)
	assert.Equal(t, filepath.Join(".sage", "agents.yaml"), config.Plugins)
	assert.Equal(t, 30*time.Second, config.Sandbox.Timeout)
	assert.Equal(t, 512, config.Sandbox.MaxMemoryMB)
	assert.Equal(t, "pyright", config.Tools.TypeChecker)
	assert.Equal(t, "pytest", config.Tools.CoverageRunner)
	assert.Equal(t, 80.0, config.Coverage.Threshold)
	assert.Equal(t, "error", config.FailOn)
	assert.Equal(t, types.SeverityError, config.FailOnSeverity())
	assert.False(t, config.Quiet)
	assert.False(t, config.Verbose)
}

func TestLoadConfigFromJSON(t *testing.T) {
	resetViper()
	tmpDir := chdirTemp(t)

	configData := map[string]any{
		"root":             "/custom/root",
		"format":           "json",
		"output":           "report.json",
		"limitPerSeverity": 3,
		"timeout":          "45s",
		"concurrency":      8,
		"exclude":          []string{"legacy/**", "**/*_pb2.py"},
		"plugins":          "tools/agents.yaml",
		"sandbox":          map[string]any{"timeout": "5s", "maxMemoryMb": 256},
		"tools":            map[string]any{"typeChecker": "", "coverageRunner": "pytest"},
		"coverage":         map[string]any{"threshold": 92.5},
		"failOn":           "warning",
		"quiet":            true,
	}
	jsonData, err := json.MarshalIndent(configData, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".sage-enforce.json"), jsonData, 0644))

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "/custom/root", config.Root)
	assert.Equal(t, "json", config.Format)
	assert.Equal(t, "report.json", config.Output)
	assert.Equal(t, 3, config.LimitPerSeverity)
	assert.Equal(t, 45*time.Second, config.Timeout)
	assert.Equal(t, 8, config.Concurrency)
	assert.Equal(t, []string{"legacy/**", "**/*_pb2.py"}, config.Exclude)
	assert.Equal(t, "tools/agents.yaml", config.Plugins)
	assert.Equal(t, 5*time.Second, config.Sandbox.Timeout)
	assert.Equal(t, 256, config.Sandbox.MaxMemoryMB)
	assert.Equal(t, "", config.Tools.TypeChecker)
	assert.Equal(t, 92.5, config.Coverage.Threshold)
	assert.Equal(t, types.SeverityWarning, config.FailOnSeverity())
	assert.True(t, config.Quiet)
}

func TestLoadConfigFromYAML(t *testing.T) {
	for _, name := range []string{".sage-enforce.yaml", ".sage-enforce.yml"} {
		t.Run(name, func(t *testing.T) {
			resetViper()
			tmpDir := chdirTemp(t)

			yamlContent := `
format: markdown
limitPerSeverity: 0
failOn: info
sandbox:
  maxMemoryMb: 1024
tools:
  typeChecker: mypy
`
			require.NoError(t, os.WriteFile(filepath.Join(tmpDir, name), []byte(yamlContent), 0644))

			config, err := LoadConfig("")
			require.NoError(t, err)
			assert.Equal(t, "markdown", config.Format)
			assert.Equal(t, 0, config.LimitPerSeverity)
			assert.Equal(t, types.SeverityInfo, config.FailOnSeverity())
			assert.Equal(t, 1024, config.Sandbox.MaxMemoryMB)
			assert.Equal(t, 30*time.Second, config.Sandbox.Timeout, "unset nested keys keep defaults")
			assert.Equal(t, "mypy", config.Tools.TypeChecker)
		})
	}
}

func TestLoadConfigConfigFilePriority(t *testing.T) {
	resetViper()
	tmpDir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".sage-enforce.json"), []byte(`{"format":"json"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".sage-enforce.yaml"), []byte("format: markdown\n"), 0644))

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "json", config.Format, ".sage-enforce.json is tried first")
}

func TestLoadConfigMalformedFile(t *testing.T) {
	resetViper()
	tmpDir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".sage-enforce.json"), []byte(`{"format":`), 0644))

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".sage-enforce.json")
}

func TestLoadConfigRootPathOverride(t *testing.T) {
	resetViper()
	tmpDir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".sage-enforce.json"), []byte(`{"root":"/config/root"}`), 0644))

	config, err := LoadConfig("/override/root")
	require.NoError(t, err)
	assert.Equal(t, "/override/root", config.Root)
}

// =============================================================================
// Environment
// =============================================================================

func TestLoadConfigEnvironmentVariables(t *testing.T) {
	resetViper()
	chdirTemp(t)

	envVars := map[string]string{
		"SAGE_ENFORCE_FORMAT":              "json",
		"SAGE_ENFORCE_FAILON":              "warning",
		"SAGE_ENFORCE_LIMITPERSEVERITY":    "2",
		"SAGE_ENFORCE_CONCURRENCY":         "16",
		"SAGE_ENFORCE_TIMEOUT":             "1m",
		"SAGE_ENFORCE_SANDBOX_MAXMEMORYMB": "128",
		"SAGE_ENFORCE_TOOLS_TYPECHECKER":   "basedpyright",
		"SAGE_ENFORCE_VERBOSE":             "true",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "json", config.Format)
	assert.Equal(t, "warning", config.FailOn)
	assert.Equal(t, 2, config.LimitPerSeverity)
	assert.Equal(t, 16, config.Concurrency)
	assert.Equal(t, time.Minute, config.Timeout)
	assert.Equal(t, 128, config.Sandbox.MaxMemoryMB)
	assert.Equal(t, "basedpyright", config.Tools.TypeChecker)
	assert.True(t, config.Verbose)
}

func TestLoadConfigDotEnv(t *testing.T) {
	resetViper()
	tmpDir := chdirTemp(t)
	root := t.TempDir()

	// Registered with t.Setenv so the values loaded from .env are restored.
	t.Setenv("SAGE_ENFORCE_FORMAT", "")
	t.Setenv("SAGE_ENFORCE_CONCURRENCY", "")
	require.NoError(t, os.Unsetenv("SAGE_ENFORCE_FORMAT"))
	require.NoError(t, os.Unsetenv("SAGE_ENFORCE_CONCURRENCY"))
	t.Setenv("SAGE_ENFORCE_FAILON", "info")

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".env"), []byte("SAGE_ENFORCE_FORMAT=markdown\nSAGE_ENFORCE_FAILON=warning\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("SAGE_ENFORCE_FORMAT=json\nSAGE_ENFORCE_CONCURRENCY=12\n"), 0644))

	config, err := LoadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, "markdown", config.Format, "working directory .env is loaded first")
	assert.Equal(t, 12, config.Concurrency, "root .env fills the gaps")
	assert.Equal(t, "info", config.FailOn, "real environment wins over .env")
}

// =============================================================================
// Validation
// =============================================================================

func validConfig() *Config {
	return &Config{
		Format:           "console",
		FailOn:           "error",
		LimitPerSeverity: 10,
		Concurrency:      4,
		Coverage:         CoverageConfig{Threshold: 80},
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"invalid format", func(c *Config) { c.Format = "xml" }, "invalid format"},
		{"invalid failOn", func(c *Config) { c.FailOn = "xml" }, "invalid fail-on level"},
		{"failOn lists valid levels", func(c *Config) { c.FailOn = "xml" }, "valid severities are error, warning, info"},
		{"failOn synonym", func(c *Config) { c.FailOn = "note" }, ""},
		{"failOn tool vocabulary", func(c *Config) { c.FailOn = "fatal" }, ""},
		{"negative limit", func(c *Config) { c.LimitPerSeverity = -1 }, "limitPerSeverity"},
		{"zero limit", func(c *Config) { c.LimitPerSeverity = 0 }, ""},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, "timeouts"},
		{"negative memory", func(c *Config) { c.Sandbox.MaxMemoryMB = -5 }, "maxMemoryMb"},
		{"threshold above 100", func(c *Config) { c.Coverage.Threshold = 101 }, "coverage.threshold"},
		{"quiet and verbose", func(c *Config) { c.Quiet, c.Verbose = true, true }, "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := validateConfig(c)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateConfigReportsEveryProblem(t *testing.T) {
	c := validConfig()
	c.Format = "xml"
	c.Concurrency = 0
	err := validateConfig(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Contains(t, err.Error(), "concurrency")
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	c := validConfig()
	c.Plugins = ".sage/agents.yaml"
	require.NoError(t, SaveConfig(c, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "console", decoded["format"])
	assert.Equal(t, ".sage/agents.yaml", decoded["plugins"])
	assert.Equal(t, float64(10), decoded["limitPerSeverity"])
}

func TestFailOnSeverity(t *testing.T) {
	tests := []struct {
		failOn string
		want   types.Severity
	}{
		{"error", types.SeverityError},
		{"fatal", types.SeverityError},
		{"warning", types.SeverityWarning},
		{"note", types.SeverityInfo},
		{"", types.SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.failOn, func(t *testing.T) {
			c := validConfig()
			c.FailOn = tt.failOn
			assert.Equal(t, tt.want, c.FailOnSeverity())
		})
	}
}
