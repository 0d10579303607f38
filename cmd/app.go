package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotcommander/sage-enforce/internal/agents"
	"github.com/dotcommander/sage-enforce/internal/config"
	"github.com/dotcommander/sage-enforce/internal/cue"
	"github.com/dotcommander/sage-enforce/internal/enforce"
	"github.com/dotcommander/sage-enforce/internal/loader"
	"github.com/dotcommander/sage-enforce/internal/project"
	"github.com/dotcommander/sage-enforce/internal/registry"
	"github.com/dotcommander/sage-enforce/internal/sandbox"
)

// app wires the registry, cache and orchestrator for one process.
type app struct {
	cfg       *config.Config
	root      string
	registry  *registry.Registry
	cache     *loader.Cache
	orch      *enforce.Orchestrator
	validator *cue.Validator
	logger    *log.Logger
	stderr    io.Writer
}

// agentOptions maps configuration onto built-in agent options.
func agentOptions(cfg *config.Config) agents.Options {
	opts := agents.DefaultOptions()
	opts.Runner = sandbox.NewRunner()
	opts.TypeChecker = cfg.Tools.TypeChecker
	opts.CoverageRunner = cfg.Tools.CoverageRunner
	opts.CoverageThreshold = cfg.Coverage.Threshold
	if cfg.Sandbox.Timeout > 0 {
		opts.Timeout = cfg.Sandbox.Timeout
	}
	if cfg.Sandbox.MaxMemoryMB > 0 {
		opts.MaxMemoryMB = cfg.Sandbox.MaxMemoryMB
	}
	return opts
}

// resolveRoot returns the configured root, or the detected project root of
// the working directory.
func resolveRoot(configured string) (string, error) {
	if configured != "" {
		abs, err := filepath.Abs(configured)
		if err != nil {
			return "", fmt.Errorf("invalid root %q: %w", configured, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("root %s: %w", abs, err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("root %s is not a directory", abs)
		}
		return abs, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("error getting working directory: %w", err)
	}
	return project.FindProjectRoot(wd)
}

// newApp builds the process-wide components from cfg. Plugin manifests
// are registered before the registry is sealed.
func newApp(cfg *config.Config, stderr io.Writer) (*app, error) {
	root, err := resolveRoot(cfg.Root)
	if err != nil {
		return nil, err
	}
	cfg.Root = root

	logger := log.New(io.Discard, "", 0)
	if cfg.Verbose {
		logger = log.New(stderr, "sage-enforce: ", 0)
	}

	if info, err := project.Detect(root); err == nil {
		logger.Printf("project root %s (languages: %s, git: %t)", info.Root, strings.Join(info.Languages, ", "), info.HasGit)
	}

	opts := agentOptions(cfg)
	reg, err := registry.NewDefault(opts)
	if err != nil {
		return nil, fmt.Errorf("error registering built-in agents: %w", err)
	}

	validator := cue.NewValidator()
	if err := validator.LoadSchemas(); err != nil {
		return nil, err
	}

	if err := loadPlugins(reg, cfg, root, opts, validator, logger); err != nil {
		return nil, err
	}
	reg.Seal()

	cache := loader.New(reg)
	orch := enforce.New(root, reg, cache).WithLogger(logger).WithTimeout(cfg.Timeout)

	return &app{
		cfg:       cfg,
		root:      root,
		registry:  reg,
		cache:     cache,
		orch:      orch,
		validator: validator,
		logger:    logger,
		stderr:    stderr,
	}, nil
}

// loadPlugins registers the agents of the configured manifest. A missing
// manifest is not an error.
func loadPlugins(reg *registry.Registry, cfg *config.Config, root string, opts agents.Options, validator *cue.Validator, logger *log.Logger) error {
	if cfg.Plugins == "" {
		return nil
	}
	path := cfg.Plugins
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	m, err := registry.LoadManifest(path, validator)
	if errors.Is(err, os.ErrNotExist) {
		logger.Printf("no plugin manifest at %s", path)
		return nil
	}
	if err != nil {
		return err
	}
	if err := reg.RegisterManifest(m, opts); err != nil {
		return fmt.Errorf("error registering plugins from %s: %w", path, err)
	}
	logger.Printf("registered %d plugin agents from %s", len(m.Agents), path)
	return nil
}

// warnf prints a warning unless quiet is set.
func (a *app) warnf(format string, args ...any) {
	if a.cfg.Quiet {
		return
	}
	fmt.Fprintf(a.stderr, "Warning: "+format+"\n", args...)
}
