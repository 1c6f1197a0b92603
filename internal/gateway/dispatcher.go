// Package gateway resolves action requests: it evaluates them against the
// current policy snapshot, dispatches allowed ones to their capability under
// a time budget, and records exactly one audit line per request.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentgate/internal/audit"
	"agentgate/internal/domain"
	"agentgate/internal/metrics"
	"agentgate/internal/security"
)

// DefaultGrace is how long the dispatcher waits, after an action's deadline,
// for the capability to wind down before abandoning it.
const DefaultGrace = 2 * time.Second

// PolicySource yields the policy snapshot a request is evaluated against.
type PolicySource interface {
	Snapshot() *security.Snapshot
}

// Recorder accepts audit records without blocking.
type Recorder interface {
	Record(rec domain.AuditRecord) bool
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Policy     PolicySource
	Registry   domain.ActionRegistry
	Audit      Recorder // optional
	Leases     *Leases  // optional; created when nil
	Grace      time.Duration
	PreviewLen int
	Logger     *slog.Logger
	Now        func() time.Time
}

// Dispatcher is safe for concurrent use. Requests share no mutable state
// beyond the policy store, the lease table and the audit writer.
type Dispatcher struct {
	policy     PolicySource
	registry   domain.ActionRegistry
	audit      Recorder
	leases     *Leases
	grace      time.Duration
	previewLen int
	logger     *slog.Logger
	now        func() time.Time
}

func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		policy:     cfg.Policy,
		registry:   cfg.Registry,
		audit:      cfg.Audit,
		leases:     cfg.Leases,
		grace:      cfg.Grace,
		previewLen: cfg.PreviewLen,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if d.leases == nil {
		d.leases = NewLeases()
	}
	if d.grace <= 0 {
		d.grace = DefaultGrace
	}
	if d.previewLen <= 0 {
		d.previewLen = audit.DefaultPreviewLen
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Evaluate runs the policy steps without executing or auditing anything.
func (d *Dispatcher) Evaluate(req domain.ActionRequest) domain.Decision {
	return d.evaluate(d.policy.Snapshot(), req)
}

// Handle resolves one request end to end. It never returns an error: every
// failure is reported in the response and in the audit log.
//
// Caller cancellation does not abort an action that is already running; only
// the action's own timeout does.
func (d *Dispatcher) Handle(ctx context.Context, req domain.ActionRequest) domain.Response {
	start := d.now()
	id := uuid.NewString()
	snap := d.policy.Snapshot()

	dec := d.evaluate(snap, req)

	var resp domain.Response
	switch {
	case dec.Outcome.Denied():
		resp = failure(dec.Outcome, domain.NewDenial(dec.Outcome, dec.Detail).Error())
	case dec.Outcome == domain.OutcomeConfirmationRequired:
		resp = domain.Response{
			RequiresConfirmation: true,
			Info:                 dec.Info,
			Outcome:              domain.OutcomeConfirmationRequired,
		}
	default:
		resp = d.execute(ctx, req, dec)
	}
	resp.RequestID = id

	elapsed := d.now().Sub(start)
	d.record(snap, req, resp, id, start, elapsed)
	metrics.RequestOutcome(string(resp.Outcome)).Inc()

	d.logger.Info("action resolved",
		"request_id", id,
		"action", req.ActionName,
		"actor", req.Actor(),
		"source", req.Source,
		"outcome", resp.Outcome,
		"duration", elapsed)
	return resp
}

type invokeResult struct {
	value any
	err   error
}

func (d *Dispatcher) execute(ctx context.Context, req domain.ActionRequest, dec domain.Decision) domain.Response {
	capability, ok := d.registry.Lookup(req.ActionName)
	if !ok {
		d.logger.Error("whitelisted action has no capability", "action", req.ActionName)
		return failure(domain.OutcomeInternalError, fmt.Sprintf("no capability registered for %q", req.ActionName))
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dec.Timeout)
	defer cancel()

	params := cloneParams(req.Params)
	d.logger.Debug("dispatching action", "action", req.ActionName, "params", params, "timeout", dec.Timeout)

	started := time.Now()
	done := make(chan invokeResult, 1)
	go d.run(runCtx, capability, dec.Resource, params, done)

	var res invokeResult
	select {
	case res = <-done:
	case <-runCtx.Done():
		// A result that landed together with the deadline still counts.
		select {
		case res = <-done:
		default:
			d.awaitGrace(req.ActionName, done)
			res = invokeResult{err: runCtx.Err()}
		}
	}
	took := time.Since(started)
	metrics.ActionLatency.Observe(took.Seconds())

	switch {
	case res.err == nil:
		return domain.Response{
			Success:       true,
			Result:        res.value,
			ExecutionTime: took.Seconds(),
			Outcome:       domain.OutcomeExecutedOK,
		}
	case errors.Is(res.err, context.DeadlineExceeded) || runCtx.Err() != nil:
		resp := failure(domain.OutcomeTimeout, fmt.Sprintf("%v: %s after %s", domain.ErrActionTimeout, req.ActionName, dec.Timeout))
		resp.ExecutionTime = took.Seconds()
		return resp
	case domain.IsInfrastructure(res.err):
		d.logger.Error("action infrastructure failure", "action", req.ActionName, "error", res.err)
		resp := failure(domain.OutcomeInternalError, res.err.Error())
		resp.ExecutionTime = took.Seconds()
		return resp
	default:
		resp := failure(domain.OutcomeExecutedError, res.err.Error())
		resp.ExecutionTime = took.Seconds()
		return resp
	}
}

// run executes the capability on its own goroutine. The resource lease is
// held until Invoke actually returns, so an abandoned action keeps its
// resource until it finishes.
func (d *Dispatcher) run(ctx context.Context, c domain.Capability, resource string, params map[string]any, done chan<- invokeResult) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	var res invokeResult
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("action panicked", "action", c.Name(), "panic", r)
			res = invokeResult{err: domain.Infrastructure(fmt.Errorf("action %s panicked: %v", c.Name(), r))}
		}
		done <- res
	}()

	if resource != "" {
		release, err := d.leases.Acquire(ctx, resource)
		if err != nil {
			res.err = err
			return
		}
		defer release()
	}

	value, err := c.Invoke(ctx, params)
	res = invokeResult{value: value, err: err}
}

func (d *Dispatcher) awaitGrace(action string, done <-chan invokeResult) {
	t := time.NewTimer(d.grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		metrics.Abandoned.Inc()
		d.logger.Warn("action ignored its deadline, abandoning", "action", action, "grace", d.grace)
	}
}

func (d *Dispatcher) record(snap *security.Snapshot, req domain.ActionRequest, resp domain.Response, id string, at time.Time, elapsed time.Duration) {
	if d.audit == nil {
		return
	}
	entry, _ := snap.Entry(req.ActionName)

	var preview string
	switch {
	case resp.Success:
		preview = audit.Preview(resp.Result, d.previewLen)
	case resp.RequiresConfirmation:
		preview = audit.Preview(resp.Info, d.previewLen)
	default:
		preview = audit.Preview(resp.Error, d.previewLen)
	}

	d.audit.Record(domain.AuditRecord{
		ID:            id,
		Timestamp:     at.UTC(),
		ActorID:       req.Actor(),
		ActionName:    req.ActionName,
		Category:      strings.Join(categories(entry, req), ","),
		Mode:          snap.Mode(),
		Outcome:       resp.Outcome,
		ResultPreview: preview,
		DurationMs:    elapsed.Milliseconds(),
		Source:        req.Source,
	})
}

// Actions lists every whitelisted action together with its capability
// metadata.
func (d *Dispatcher) Actions() []domain.ActionDefinition {
	snap := d.policy.Snapshot()
	entries := snap.Entries()
	out := make([]domain.ActionDefinition, 0, len(entries))
	for _, e := range entries {
		def := domain.ActionDefinition{
			Name:                 e.ActionName,
			Description:          e.Description,
			Category:             e.Category,
			RequiresConfirmation: e.ConfirmationRequired(),
			Mutating:             e.Mutating,
		}
		if c, ok := d.registry.Lookup(e.ActionName); ok {
			if def.Description == "" {
				def.Description = c.Description()
			}
			def.Parameters = c.Parameters()
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Mode returns the active safety mode.
func (d *Dispatcher) Mode() domain.Mode {
	return d.policy.Snapshot().Mode()
}

func failure(outcome domain.Outcome, msg string) domain.Response {
	return domain.Response{
		Error:   msg,
		Reason:  outcome.Reason(),
		Outcome: outcome,
	}
}

// cloneParams deep-copies maps and slices so a capability that outlives its
// request cannot race with the caller.
func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneParams(t)
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
