package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/sage-enforce/internal/loader"
	"github.com/dotcommander/sage-enforce/internal/types"
)

var showStats bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered agents and the extensions they handle",
	Long: `The agents command lists every registered agent: the built-in
type-enforcer, doc-validator, test-coverage and security-scanner plus any
plugin agents from the manifest.

With --stats every agent is loaded twice and the cold (construction) and
hot (cache hit) latencies are reported along with the cache counters.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runAgents(os.Stdout, os.Stderr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitFunc(1)
		}
	},
}

func init() {
	agentsCmd.Flags().BoolVar(&showStats, "stats", false, "Load every agent and report cache latency")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(stdout, stderr io.Writer) error {
	a, err := loadApp(stderr)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	return a.listAgents(ctx, stdout, showStats)
}

// AgentTiming is the load latency of one agent.
type AgentTiming struct {
	Name  string        `json:"name"`
	Cold  time.Duration `json:"coldNs"`
	Hot   time.Duration `json:"hotNs"`
	Error string        `json:"error,omitempty"`
}

// measureAgents loads each agent twice through the cache.
func measureAgents(ctx context.Context, cache *loader.Cache, metas []types.AgentMetadata) []AgentTiming {
	timings := make([]AgentTiming, 0, len(metas))
	for _, meta := range metas {
		t := AgentTiming{Name: meta.Name}
		start := time.Now()
		if _, err := cache.Get(ctx, meta.Name); err != nil {
			t.Error = err.Error()
			timings = append(timings, t)
			continue
		}
		t.Cold = time.Since(start)

		start = time.Now()
		_, _ = cache.Get(ctx, meta.Name)
		t.Hot = time.Since(start)
		timings = append(timings, t)
	}
	return timings
}

func (a *app) listAgents(ctx context.Context, w io.Writer, stats bool) error {
	metas := a.registry.AllAgents()
	var timings []AgentTiming
	if stats {
		timings = measureAgents(ctx, a.cache, metas)
	}

	if a.cfg.Format == "json" {
		doc := struct {
			Agents  []types.AgentMetadata `json:"agents"`
			Timings []AgentTiming         `json:"timings,omitempty"`
			Cache   *loader.Stats         `json:"cache,omitempty"`
		}{Agents: metas, Timings: timings}
		if stats {
			s := a.cache.Stats()
			doc.Cache = &s
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tEXTENSIONS\tDESCRIPTION")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, strings.Join(m.SupportedExtensions, " "), m.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !stats {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tCOLD\tHOT")
	for _, t := range timings {
		if t.Error != "" {
			fmt.Fprintf(tw, "%s\tfailed: %s\t-\n", t.Name, t.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Cold, t.Hot)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	s := a.cache.Stats()
	fmt.Fprintf(w, "\ncache: %d cached, %d loads, %d hits, %d misses, %d failures, %s total load time\n",
		s.Cached, s.Loads, s.Hits, s.Misses, s.Failures, s.LoadTime)
	return nil
}
