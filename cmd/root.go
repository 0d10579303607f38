package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dotcommander/sage-enforce/internal/config"
	"github.com/dotcommander/sage-enforce/internal/enforce"
	"github.com/dotcommander/sage-enforce/internal/output"
	"github.com/dotcommander/sage-enforce/internal/outputters"
)

// Exit codes.
const (
	exitOK         = 0
	exitViolations = 1
	exitUsage      = 2
)

// exitFunc is swapped out in tests.
var exitFunc = os.Exit

var (
	rootPath         string
	quiet            bool
	verbose          bool
	outputFormat     string
	outputFile       string
	failOn           string
	limitPerSeverity int
	timeout          time.Duration
	pluginsPath      string
)

var rootCmd = &cobra.Command{
	Use:   "sage-enforce [files...]",
	Short: "Run analysis agents against source files and report prioritised violations",
	Long: `sage-enforce runs every agent registered for a file's extension (type
enforcement, documentation, test coverage, security scanning and any plugin
agents), merges their findings and keeps at most --limit violations per
severity: errors first, then warnings, then info.

Files must live under the project root. External tools run in a sandbox
with a timeout and a memory ceiling; a failing agent is reported without
affecting the others.

Use "sage-enforce check" to scan a whole directory.`,
	Args: cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			_ = cmd.Help()
			return
		}
		code, err := runEnforce(args, os.Stdout, os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if code != exitOK {
			exitFunc(code)
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		exitFunc(exitUsage)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&rootPath, "root", "r", "", "Project root directory (auto-detected if not specified)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVarP(&outputFormat, "format", "f", "console", "Output format for reports (console|json|markdown)")
	flags.StringVarP(&outputFile, "output", "o", "", "Write the report to a file instead of stdout")
	flags.StringVar(&failOn, "fail-on", "error", "Exit 1 when a violation at or above this severity is found (error|warning|info)")
	flags.IntVarP(&limitPerSeverity, "limit", "l", 10, "Maximum violations shown per severity (0 shows none, totals are kept)")
	flags.DurationVar(&timeout, "timeout", 0, "Deadline for enforcing one file (0 means none)")
	flags.StringVar(&pluginsPath, "plugins", "", "Plugin agent manifest (default .sage/agents.yaml under the root)")

	_ = viper.BindPFlag("root", flags.Lookup("root"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("format", flags.Lookup("format"))
	_ = viper.BindPFlag("output", flags.Lookup("output"))
	_ = viper.BindPFlag("failOn", flags.Lookup("fail-on"))
	_ = viper.BindPFlag("limitPerSeverity", flags.Lookup("limit"))
	_ = viper.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = viper.BindPFlag("plugins", flags.Lookup("plugins"))
}

// loadApp loads configuration and builds the process components.
func loadApp(stderr io.Writer) (*app, error) {
	cfg, err := config.LoadConfig(rootPath)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	return newApp(cfg, stderr)
}

// signalContext is cancelled on SIGINT or SIGTERM so sandboxed tools are
// killed on the way out.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runEnforce(files []string, stdout, stderr io.Writer) (int, error) {
	a, err := loadApp(stderr)
	if err != nil {
		return exitUsage, err
	}
	ctx, cancel := signalContext()
	defer cancel()
	return a.enforceFiles(ctx, files, stdout)
}

// enforceFiles enforces each file in turn and prints one report.
func (a *app) enforceFiles(ctx context.Context, files []string, stdout io.Writer) (int, error) {
	report := &output.Report{Root: a.root, StartTime: time.Now()}
	for _, file := range files {
		res, err := a.enforceOne(ctx, file)
		if err != nil {
			a.logger.Printf("%s: %v", file, err)
		}
		report.Add(file, res, err)
	}

	if err := outputters.NewOutputter(a.cfg, stdout).Format(report, false); err != nil {
		return exitUsage, fmt.Errorf("error formatting output: %w", err)
	}
	return a.exitCode(report), nil
}

func (a *app) enforceOne(ctx context.Context, file string) (*enforce.Result, error) {
	// Arguments are relative to the working directory, not the root.
	if !filepath.IsAbs(file) {
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", file, err)
		}
		file = abs
	}
	return a.orch.EnforceFile(ctx, file, a.cfg.LimitPerSeverity)
}

// exitCode applies the failOn policy. Files that could not be enforced
// make the run a usage failure.
func (a *app) exitCode(report *output.Report) int {
	if n := report.AgentErrorCount(); n > 0 && a.cfg.Format != "console" {
		a.warnf("%d agent runs failed; results may be incomplete", n)
	}
	if len(report.FileErrors) > 0 {
		return exitUsage
	}
	if report.HasViolationsAtLeast(a.cfg.FailOnSeverity()) {
		return exitViolations
	}
	return exitOK
}
