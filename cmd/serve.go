package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotcommander/sage-enforce/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer enforcement requests as JSON lines on stdin/stdout",
	Long: `The serve command reads one JSON request per line from stdin and writes
one JSON response per line to stdout. Agents are loaded once and shared by
every request.

Request:
  {"id": "1", "filePath": "src/app.py", "content": "...", "limitPerSeverity": 10}

"content" is optional; the file is read from disk when it is missing.
"method" may be "enforce" (default), "agents" or "stats".

Response:
  {"id", "filePath", "agentsExecuted", "statistics",
   "filtered": {"shown", "total", "reductionPercent"}, "violations", "agentErrors"}

Invalid requests and paths outside the root get {"id", "error", "context"}.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(os.Stdin, os.Stdout, os.Stderr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitFunc(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(stdin io.Reader, stdout, stderr io.Writer) error {
	a, err := loadApp(stderr)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	return a.newServer().Serve(ctx, stdin, stdout)
}

func (a *app) newServer() *server.Server {
	return server.New(a.orch, a.registry, a.cache, a.validator, server.Options{
		DefaultLimit: a.cfg.LimitPerSeverity,
		Concurrency:  a.cfg.Concurrency,
		Logger:       a.logger,
	})
}
