package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dotcommander/sage-enforce/internal/discovery"
	"github.com/dotcommander/sage-enforce/internal/output"
	"github.com/dotcommander/sage-enforce/internal/outputters"
)

var (
	concurrency  int
	excludeGlobs []string
	includeGlobs []string
)

var checkCmd = &cobra.Command{
	Use:   "check [dir]",
	Short: "Enforce every matching file under a directory",
	Long: `The check command discovers files under a directory (the project root by
default), skips files no agent applies to and enforces the rest with bounded
concurrency.

Include and exclude patterns use doublestar syntax and are matched against
paths relative to the root, e.g. "src/**/*.py" or "**/migrations/**".
VCS metadata, virtualenvs, node_modules and build output are always
excluded.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		code, err := runCheck(dir, os.Stdout, os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if code != exitOK {
			exitFunc(code)
		}
	},
}

func init() {
	checkCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 4, "Files enforced in parallel")
	checkCmd.Flags().StringSliceVar(&excludeGlobs, "exclude", nil, "Additional exclude patterns")
	checkCmd.Flags().StringSliceVar(&includeGlobs, "include", nil, "Include patterns (default **/*)")
	_ = viper.BindPFlag("concurrency", checkCmd.Flags().Lookup("concurrency"))
	_ = viper.BindPFlag("exclude", checkCmd.Flags().Lookup("exclude"))
	_ = viper.BindPFlag("include", checkCmd.Flags().Lookup("include"))
	rootCmd.AddCommand(checkCmd)
}

func runCheck(dir string, stdout, stderr io.Writer) (int, error) {
	a, err := loadApp(stderr)
	if err != nil {
		return exitUsage, err
	}
	ctx, cancel := signalContext()
	defer cancel()
	return a.check(ctx, dir, stdout)
}

// check enforces every file under dir, which must be inside the root.
func (a *app) check(ctx context.Context, dir string, stdout io.Writer) (int, error) {
	start := time.Now()

	scanRoot := a.root
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return exitUsage, fmt.Errorf("invalid directory %q: %w", dir, err)
		}
		if !discovery.IsWithin(a.root, abs) {
			return exitUsage, &discovery.PathTraversalError{Path: dir, Root: a.root}
		}
		scanRoot = abs
	}

	files, err := discovery.NewFileDiscovery(scanRoot, a.cfg.Include, a.cfg.Exclude).DiscoverFiles()
	if err != nil {
		return exitUsage, fmt.Errorf("error discovering files: %w", err)
	}
	a.logger.Printf("discovered %d files under %s", len(files), scanRoot)

	results, err := a.orch.EnforceAll(ctx, files, a.cfg.LimitPerSeverity, a.cfg.Concurrency)
	if err != nil {
		return exitUsage, fmt.Errorf("check interrupted: %w", err)
	}

	report := output.NewReport(a.root, results, start)
	if err := outputters.NewOutputter(a.cfg, stdout).Format(report, true); err != nil {
		return exitUsage, fmt.Errorf("error formatting output: %w", err)
	}
	return a.exitCode(report), nil
}
