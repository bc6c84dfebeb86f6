package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// ExecutionMode selects how a batch of tool requests is run.
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
)

// DefaultToolTimeout is the per-request timeout applied when a
// ToolExecutionBatch does not specify one.
const DefaultToolTimeout = 120 * time.Second

// DefaultMaxConcurrency is the wave size applied when a parallel batch
// does not specify MaxConcurrency.
const DefaultMaxConcurrency = 5

// DefaultHistorySize bounds the ring-buffered execution history kept by
// the tool execution service's statistics.
const DefaultHistorySize = 100

// ToolExecutionRequest is one request within a batch: the tool to invoke,
// its parameters, and an optional caller-supplied execution id used to
// correlate the corresponding ToolExecutionResult or error entry. Execute
// fills an empty id with GenerateExecutionID.
type ToolExecutionRequest struct {
	ToolName    string
	Parameters  map[string]any
	ExecutionID string
	Metadata    map[string]any
}

// ToolExecutionResult is the outcome of one successfully completed
// request (one that did not error or time out).
type ToolExecutionResult struct {
	ExecutionID string
	ToolName    string
	Data        any
	Duration    time.Duration
}

// ToolExecutionBatch is the input to ToolExecutionService.Execute.
type ToolExecutionBatch struct {
	Requests        []ToolExecutionRequest
	Mode            ExecutionMode
	Timeout         time.Duration
	MaxConcurrency  int
	ContinueOnError bool
}

// ToolExecutionSummary is the result of running a ToolExecutionBatch.
type ToolExecutionSummary struct {
	TotalExecuted   int
	Successful      int
	Failed          int
	TotalDuration   time.Duration
	AverageDuration time.Duration
	Results         []ToolExecutionResult
	Errors          []ToolExecutionErrorEntry
}

// ToolExecutionErrorEntry records a single request's failure, keyed by its
// execution id so the summary preserves input order even across mixed
// success/failure outcomes.
type ToolExecutionErrorEntry struct {
	ExecutionID string
	ToolName    string
	Err         error
	Duration    time.Duration
}

type toolStat struct {
	Count     int
	TotalTime time.Duration
	Errors    int
}

// ToolExecutionService runs batches of tool calls against a ToolRegistry,
// in parallel (bounded-concurrency waves) or sequentially, enforcing a
// per-request timeout and optionally tracking per-tool statistics.
type ToolExecutionService struct {
	registry *ToolRegistry

	mu      sync.Mutex
	stats   map[string]*toolStat
	history []ToolExecutionSummary

	trackStats bool

	// Tracer is optional; a nil Tracer makes span creation a no-op.
	Tracer *observability.Tracer
}

// NewToolExecutionService creates a service bound to registry. Statistics
// tracking is on by default, matching the spec's default-on behavior.
func NewToolExecutionService(registry *ToolRegistry) *ToolExecutionService {
	return &ToolExecutionService{
		registry:   registry,
		stats:      make(map[string]*toolStat),
		trackStats: true,
	}
}

// SetStatsEnabled toggles statistics tracking.
func (s *ToolExecutionService) SetStatsEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackStats = enabled
}

// CreateExecutionRequests builds one ToolExecutionRequest per tool call, in
// order, using the call's id as ExecutionID. A tool call whose arguments
// are not valid JSON yields a request whose execution fails with a
// ValidationError rather than silently defaulting to empty parameters.
func (s *ToolExecutionService) CreateExecutionRequests(toolCalls []models.ToolCall) []ToolExecutionRequest {
	reqs := make([]ToolExecutionRequest, len(toolCalls))
	for i, tc := range toolCalls {
		req := ToolExecutionRequest{
			ToolName:    tc.Function.Name,
			ExecutionID: tc.ID,
		}
		var params map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &params); err != nil {
			req.Metadata = map[string]any{"_parseError": err.Error()}
		} else {
			req.Parameters = params
		}
		reqs[i] = req
	}
	return reqs
}

// Execute runs a batch of tool requests according to its Mode and returns
// a summary. Results and errors are each reported in a stable order keyed
// by ExecutionID, matching the request order.
func (s *ToolExecutionService) Execute(ctx context.Context, batch ToolExecutionBatch) ToolExecutionSummary {
	timeout := batch.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	maxConcurrency := batch.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	start := time.Now()

	requests := make([]ToolExecutionRequest, len(batch.Requests))
	copy(requests, batch.Requests)
	for i := range requests {
		if requests[i].ExecutionID == "" {
			requests[i].ExecutionID = GenerateExecutionID()
		}
	}

	var results []ToolExecutionResult
	var errs []ToolExecutionErrorEntry

	switch batch.Mode {
	case ModeSequential:
		results, errs = s.executeSequential(ctx, requests, timeout, batch.ContinueOnError)
	default:
		results, errs = s.executeParallel(ctx, requests, timeout, maxConcurrency)
	}

	summary := ToolExecutionSummary{
		TotalExecuted: len(results) + len(errs),
		Successful:    len(results),
		Failed:        len(errs),
		TotalDuration: time.Since(start),
		Results:       results,
		Errors:        errs,
	}
	if summary.TotalExecuted > 0 {
		summary.AverageDuration = summary.TotalDuration / time.Duration(summary.TotalExecuted)
	}

	s.recordStats(summary)
	return summary
}

// executeParallel runs requests in successive waves of size
// min(remaining, maxConcurrency); each wave completes before the next
// starts. Completion order within a wave is not observable in the
// summary: results/errors are assembled back into request order.
func (s *ToolExecutionService) executeParallel(ctx context.Context, requests []ToolExecutionRequest, timeout time.Duration, maxConcurrency int) ([]ToolExecutionResult, []ToolExecutionErrorEntry) {
	type outcome struct {
		result ToolExecutionResult
		err    *ToolExecutionErrorEntry
	}
	outcomes := make([]outcome, len(requests))

	for start := 0; start < len(requests); start += maxConcurrency {
		end := start + maxConcurrency
		if end > len(requests) {
			end = len(requests)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int, req ToolExecutionRequest) {
				defer wg.Done()
				callStart := time.Now()
				res, err := s.executeOne(ctx, req, timeout)
				if err != nil {
					outcomes[idx] = outcome{err: &ToolExecutionErrorEntry{
						ExecutionID: req.ExecutionID,
						ToolName:    req.ToolName,
						Err:         err,
						Duration:    time.Since(callStart),
					}}
					return
				}
				outcomes[idx] = outcome{result: res}
			}(i, requests[i])
		}
		wg.Wait()
	}

	results := make([]ToolExecutionResult, 0, len(requests))
	var errs []ToolExecutionErrorEntry
	for _, o := range outcomes {
		if o.err != nil {
			errs = append(errs, *o.err)
		} else {
			results = append(results, o.result)
		}
	}
	return results, errs
}

// executeSequential runs requests one at a time in array order. When
// continueOnError is false (default), the first failure stops further
// execution and the remaining requests appear in neither results nor
// errors.
func (s *ToolExecutionService) executeSequential(ctx context.Context, requests []ToolExecutionRequest, timeout time.Duration, continueOnError bool) ([]ToolExecutionResult, []ToolExecutionErrorEntry) {
	var results []ToolExecutionResult
	var errs []ToolExecutionErrorEntry

	for _, req := range requests {
		callStart := time.Now()
		res, err := s.executeOne(ctx, req, timeout)
		if err != nil {
			errs = append(errs, ToolExecutionErrorEntry{
				ExecutionID: req.ExecutionID,
				ToolName:    req.ToolName,
				Err:         err,
				Duration:    time.Since(callStart),
			})
			if !continueOnError {
				break
			}
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// executeOne races a single tool invocation against timeout, returning a
// ToolExecutionError (TimedOut=true) on expiry without leaking the
// underlying goroutine: the registry call keeps running in the
// background and its result is discarded by the orphaned channel.
func (s *ToolExecutionService) executeOne(ctx context.Context, req ToolExecutionRequest, timeout time.Duration) (ToolExecutionResult, error) {
	start := time.Now()

	spanCtx, span := s.Tracer.TraceToolExecution(ctx, req.ToolName, req.ExecutionID)
	defer span.End()

	if req.Parameters == nil && req.Metadata != nil {
		if parseErr, ok := req.Metadata["_parseError"]; ok {
			err := NewValidationError("parameters", fmt.Sprintf("invalid JSON arguments: %v", parseErr), nil)
			s.Tracer.RecordError(span, err)
			return ToolExecutionResult{}, err
		}
	}

	execCtx, cancel := context.WithTimeout(spanCtx, timeout)
	defer cancel()

	type out struct {
		data any
		err  error
	}
	ch := make(chan out, 1)

	go func() {
		data, err := s.registry.ExecuteTool(execCtx, req.ToolName, req.Parameters)
		select {
		case ch <- out{data: data, err: err}:
		default:
		}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			s.Tracer.RecordError(span, o.err)
			return ToolExecutionResult{}, o.err
		}
		return ToolExecutionResult{
			ExecutionID: req.ExecutionID,
			ToolName:    req.ToolName,
			Data:        o.data,
			Duration:    time.Since(start),
		}, nil
	case <-execCtx.Done():
		toolErr := NewToolExecutionError(req.ToolName, req.ExecutionID, execCtx.Err())
		toolErr.TimedOut = true
		s.Tracer.RecordError(span, toolErr)
		return ToolExecutionResult{}, toolErr
	}
}

func (s *ToolExecutionService) recordStats(summary ToolExecutionSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.trackStats {
		return
	}

	for _, r := range summary.Results {
		st := s.statFor(r.ToolName)
		st.Count++
		st.TotalTime += r.Duration
	}
	for _, e := range summary.Errors {
		st := s.statFor(e.ToolName)
		st.Count++
		st.Errors++
	}

	s.history = append(s.history, summary)
	if len(s.history) > DefaultHistorySize {
		s.history = s.history[len(s.history)-DefaultHistorySize:]
	}
}

func (s *ToolExecutionService) statFor(name string) *toolStat {
	st, ok := s.stats[name]
	if !ok {
		st = &toolStat{}
		s.stats[name] = st
	}
	return st
}

// ToolStatsReport summarizes accumulated execution statistics.
type ToolStatsReport struct {
	TotalExecutions int
	AverageDuration time.Duration
	SuccessRate     float64
	PerTool         map[string]ToolStatsEntry
}

// ToolStatsEntry is the per-tool breakdown within a ToolStatsReport.
type ToolStatsEntry struct {
	Count        int
	TotalTime    time.Duration
	Errors       int
	ErrorRate    float64
	AverageTime  time.Duration
}

// StatsReport builds a ToolStatsReport from accumulated statistics.
func (s *ToolExecutionService) StatsReport() ToolStatsReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := ToolStatsReport{PerTool: make(map[string]ToolStatsEntry, len(s.stats))}
	var totalDuration time.Duration
	var totalSuccess int

	for name, st := range s.stats {
		entry := ToolStatsEntry{Count: st.Count, TotalTime: st.TotalTime, Errors: st.Errors}
		if st.Count > 0 {
			entry.ErrorRate = float64(st.Errors) / float64(st.Count)
			entry.AverageTime = st.TotalTime / time.Duration(st.Count)
		}
		report.PerTool[name] = entry
		report.TotalExecutions += st.Count
		totalDuration += st.TotalTime
		totalSuccess += st.Count - st.Errors
	}

	if report.TotalExecutions > 0 {
		report.AverageDuration = totalDuration / time.Duration(report.TotalExecutions)
		report.SuccessRate = float64(totalSuccess) / float64(report.TotalExecutions)
	}
	return report
}

// ToolUsageRank is one entry in a TopTools ranking.
type ToolUsageRank struct {
	ToolName string
	Count    int
}

// TopTools returns the n most-used tools by accumulated execution count,
// descending, breaking ties by tool name for a stable order. n <= 0 returns
// every tracked tool ranked.
func (s *ToolExecutionService) TopTools(n int) []ToolUsageRank {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := make([]ToolUsageRank, 0, len(s.stats))
	for name, st := range s.stats {
		ranked = append(ranked, ToolUsageRank{ToolName: name, Count: st.Count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].ToolName < ranked[j].ToolName
	})

	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// History returns a copy of the ring-buffered batch summaries retained so
// far (bounded by DefaultHistorySize).
func (s *ToolExecutionService) History() []ToolExecutionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolExecutionSummary, len(s.history))
	copy(out, s.history)
	return out
}

// GenerateExecutionID produces an exec_<ms>_<rand> identifier for a
// request that did not supply its own.
func GenerateExecutionID() string {
	return fmt.Sprintf("exec_%d_%d", time.Now().UnixMilli(), rand.Intn(1_000_000))
}
