// Package server exposes the orchestrator over newline-delimited JSON on a
// pair of streams, one request per line and one response per line.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/sage-enforce/internal/cue"
	"github.com/dotcommander/sage-enforce/internal/enforce"
	"github.com/dotcommander/sage-enforce/internal/filter"
	"github.com/dotcommander/sage-enforce/internal/loader"
	"github.com/dotcommander/sage-enforce/internal/output"
	"github.com/dotcommander/sage-enforce/internal/types"
)

// Methods a request may name. Requests without a method enforce.
const (
	MethodEnforce = "enforce"
	MethodAgents  = "agents"
	MethodStats   = "stats"
)

// MaxRequestBytes bounds one request line.
const MaxRequestBytes = 16 << 20

// Catalog lists registered agents. *registry.Registry satisfies it.
type Catalog interface {
	AllAgents() []types.AgentMetadata
}

// Options tunes a Server. Zero values select the defaults.
type Options struct {
	// DefaultLimit applies when a request has no limitPerSeverity.
	DefaultLimit int
	// Timeout bounds each enforce request; zero means no deadline.
	Timeout time.Duration
	// Concurrency bounds requests in flight.
	Concurrency int
	Logger      *log.Logger
}

// Server answers enforcement requests.
type Server struct {
	orch      *enforce.Orchestrator
	catalog   Catalog
	cache     *loader.Cache
	validator *cue.Validator
	opts      Options
	logger    *log.Logger
}

// New creates a server. A request may ask for a limit of zero; the server
// default itself is never zero.
func New(orch *enforce.Orchestrator, catalog Catalog, cache *loader.Cache, validator *cue.Validator, opts Options) *Server {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = filter.DefaultLimitPerSeverity
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = enforce.DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		orch:      orch,
		catalog:   catalog,
		cache:     cache,
		validator: validator,
		opts:      opts,
		logger:    logger,
	}
}

// request is the decoded envelope after schema validation.
type request struct {
	ID               any      `json:"id"`
	Method           string   `json:"method"`
	FilePath         string   `json:"filePath"`
	Content          *string  `json:"content"`
	LimitPerSeverity *float64 `json:"limitPerSeverity"`
}

// AgentsResponse answers the agents method.
type AgentsResponse struct {
	ID     string                `json:"id"`
	Agents []types.AgentMetadata `json:"agents"`
}

// StatsResponse answers the stats method.
type StatsResponse struct {
	ID    string       `json:"id"`
	Cache loader.Stats `json:"cache"`
}

// Serve reads requests from r until EOF or until ctx ends, answering each
// on w. Requests run concurrently; each response is written as one line.
// Malformed requests get an error envelope and do not stop the loop.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxRequestBytes)

	var mu sync.Mutex
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	write := func(v any) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(v); err != nil {
			s.logger.Printf("write response: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for scanner.Scan() {
		if gctx.Err() != nil {
			break
		}
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		g.Go(func() error {
			write(s.Handle(gctx, line))
			return nil
		})
	}
	_ = g.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return ctx.Err()
}

// Handle answers one raw request. The result is a response value ready to
// be encoded: an output.FileReport, AgentsResponse, StatsResponse or
// output.ErrorEnvelope.
func (s *Server) Handle(ctx context.Context, raw []byte) any {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errorEnvelope(uuid.NewString(), fmt.Errorf("invalid JSON: %w", err), output.ContextRequest)
	}
	id := requestID(doc["id"])

	errs, err := s.validator.ValidateRequest(doc)
	if err != nil {
		return errorEnvelope(id, err, output.ContextInternal)
	}
	if len(errs) > 0 {
		return errorEnvelope(id, cue.Join(errs), output.ContextRequest)
	}

	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorEnvelope(id, fmt.Errorf("invalid request: %w", err), output.ContextRequest)
	}

	switch req.Method {
	case "", MethodEnforce:
		return s.enforce(ctx, id, req)
	case MethodAgents:
		return AgentsResponse{ID: id, Agents: s.catalog.AllAgents()}
	case MethodStats:
		return StatsResponse{ID: id, Cache: s.cache.Stats()}
	default:
		return errorEnvelope(id, fmt.Errorf("unknown method %q", req.Method), output.ContextRequest)
	}
}

func (s *Server) enforce(ctx context.Context, id string, req request) any {
	if req.FilePath == "" {
		return errorEnvelope(id, errors.New("filePath is required"), output.ContextRequest)
	}
	limit := s.opts.DefaultLimit
	if req.LimitPerSeverity != nil {
		l := *req.LimitPerSeverity
		if l != math.Trunc(l) || l > math.MaxInt32 {
			return errorEnvelope(id, fmt.Errorf("limitPerSeverity must be a whole number, got %v", l), output.ContextRequest)
		}
		limit = int(l)
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	var res *enforce.Result
	var err error
	if req.Content != nil {
		res, err = s.orch.Enforce(ctx, req.FilePath, *req.Content, limit)
	} else {
		res, err = s.orch.EnforceFile(ctx, req.FilePath, limit)
	}
	if err != nil {
		s.logger.Printf("request %s: %v", id, err)
		return errorEnvelope(id, err, "")
	}

	report := output.NewFileReport(res)
	report.ID = id
	return report
}

func errorEnvelope(id string, err error, errContext string) output.ErrorEnvelope {
	env := output.NewErrorEnvelope(err, errContext)
	env.ID = id
	return env
}

// requestID echoes a caller id or assigns a fresh one.
func requestID(v any) string {
	switch id := v.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return uuid.NewString()
}
