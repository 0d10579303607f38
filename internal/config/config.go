package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dotcommander/sage-enforce/internal/types"
)

// EnvPrefix prefixes every environment override, e.g. SAGE_ENFORCE_FORMAT.
const EnvPrefix = "SAGE_ENFORCE"

// ConfigFiles are tried in order; the first one that parses wins.
var ConfigFiles = []string{".sage-enforce.json", ".sage-enforce.yaml", ".sage-enforce.yml"}

// Config represents the sage-enforce configuration
type Config struct {
	Root             string         `mapstructure:"root" json:"root"`
	Format           string         `mapstructure:"format" json:"format"`
	Output           string         `mapstructure:"output" json:"output,omitempty"`
	LimitPerSeverity int            `mapstructure:"limitPerSeverity" json:"limitPerSeverity"`
	Timeout          time.Duration  `mapstructure:"timeout" json:"timeout"`
	Concurrency      int            `mapstructure:"concurrency" json:"concurrency"`
	Include          []string       `mapstructure:"include" json:"include,omitempty"`
	Exclude          []string       `mapstructure:"exclude" json:"exclude,omitempty"`
	Plugins          string         `mapstructure:"plugins" json:"plugins"`
	Sandbox          SandboxConfig  `mapstructure:"sandbox" json:"sandbox"`
	Tools            ToolsConfig    `mapstructure:"tools" json:"tools"`
	Coverage         CoverageConfig `mapstructure:"coverage" json:"coverage"`
	FailOn           string         `mapstructure:"failOn" json:"failOn"`
	Quiet            bool           `mapstructure:"quiet" json:"quiet"`
	Verbose          bool           `mapstructure:"verbose" json:"verbose"`
}

// SandboxConfig holds the limits applied to built-in tool runs
type SandboxConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxMemoryMB int           `mapstructure:"maxMemoryMb" json:"maxMemoryMb"`
}

// ToolsConfig names the external executables the built-in agents use.
// An empty name disables the tool.
type ToolsConfig struct {
	TypeChecker    string `mapstructure:"typeChecker" json:"typeChecker"`
	CoverageRunner string `mapstructure:"coverageRunner" json:"coverageRunner"`
}

// CoverageConfig contains coverage configuration
type CoverageConfig struct {
	Threshold float64 `mapstructure:"threshold" json:"threshold"`
}

// FailOnSeverity returns the parsed failOn level.
func (c *Config) FailOnSeverity() types.Severity {
	s, err := types.ParseSeverity(c.FailOn)
	if err != nil {
		return types.SeverityError
	}
	return s
}

// SetDefaults registers every default on viper.
func SetDefaults() {
	viper.SetDefault("root", "")
	viper.SetDefault("format", "console")
	viper.SetDefault("limitPerSeverity", 10)
	viper.SetDefault("timeout", time.Duration(0))
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("include", []string{"**/*"})
	viper.SetDefault("exclude", []string{})
	viper.SetDefault("plugins", filepath.Join(".sage", "agents.yaml"))
	viper.SetDefault("sandbox.timeout", 30*time.Second)
	viper.SetDefault("sandbox.maxMemoryMb", 512)
	viper.SetDefault("tools.typeChecker", "pyright")
	viper.SetDefault("tools.coverageRunner", "pytest")
	viper.SetDefault("coverage.threshold", 80.0)
	viper.SetDefault("failOn", "error")
	viper.SetDefault("quiet", false)
	viper.SetDefault("verbose", false)
}

// LoadEnvFiles loads .env from the working directory and then from
// rootPath. Variables already set in the environment are never replaced.
func LoadEnvFiles(rootPath string) error {
	candidates := []string{".env"}
	if rootPath != "" {
		candidates = append(candidates, filepath.Join(rootPath, ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("error loading %s: %w", path, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from various sources
func LoadConfig(rootPath string) (*Config, error) {
	if err := LoadEnvFiles(rootPath); err != nil {
		return nil, err
	}

	SetDefaults()

	// Config file locations
	for _, path := range ConfigFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading %s: %w", path, err)
		}
		break
	}

	// Environment variables; nested keys use underscores
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override root if provided
	if rootPath != "" {
		config.Root = rootPath
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	var errs []error

	switch config.Format {
	case "console", "json", "markdown":
	default:
		errs = append(errs, fmt.Errorf("invalid format: %s. Must be 'console', 'json', or 'markdown'", config.Format))
	}

	if _, err := types.ParseSeverity(config.FailOn); err != nil {
		errs = append(errs, fmt.Errorf("invalid fail-on level: %w", err))
	}

	if config.LimitPerSeverity < 0 {
		errs = append(errs, fmt.Errorf("limitPerSeverity must not be negative"))
	}

	if config.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1"))
	}

	if config.Timeout < 0 || config.Sandbox.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeouts must not be negative"))
	}

	if config.Sandbox.MaxMemoryMB < 0 {
		errs = append(errs, fmt.Errorf("sandbox.maxMemoryMb must not be negative"))
	}

	if config.Coverage.Threshold < 0 || config.Coverage.Threshold > 100 {
		errs = append(errs, fmt.Errorf("coverage.threshold must be between 0 and 100, got %g", config.Coverage.Threshold))
	}

	if config.Quiet && config.Verbose {
		errs = append(errs, fmt.Errorf("quiet and verbose are mutually exclusive"))
	}

	return errors.Join(errs...)
}

// SaveConfig saves the current configuration to a file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	jsonData, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
