// Package orchestrate runs every active scanner adapter concurrently and
// collects one ScanResult per adapter.
package orchestrate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scangate/scangate/internal/log"
	"github.com/scangate/scangate/internal/metrics"
	"github.com/scangate/scangate/pkg/adapter"
	"github.com/scangate/scangate/pkg/registry"
	"github.com/scangate/scangate/pkg/types"
)

// metricsPrefix namespaces the engine's prometheus metrics.
const metricsPrefix = "scangate"

// errRequiredScannerFailed cancels the remaining adapters under fail-fast.
var errRequiredScannerFailed = errors.New("required scanner failed")

// Options bounds one orchestrated run.
type Options struct {
	// MaxParallelism of zero or less means unlimited up to adapter count.
	MaxParallelism int
	// GlobalTimeout bounds the whole run; adapters still running when it
	// elapses are cancelled and marked TIMED_OUT.
	GlobalTimeout time.Duration
	// AdapterTimeout bounds each attempt of each adapter.
	AdapterTimeout time.Duration
	// RetryCount is the number of retries after the first attempt for
	// transient invocation errors. Each attempt gets a fresh AdapterTimeout.
	RetryCount int
	// Required lists scanner ids whose execution failure sets
	// AnyRequiredScannerFailed (and cancels the run under FailFast).
	Required []string
	FailFast bool
}

// Outcome is the aggregate of one orchestrated run.
type Outcome struct {
	// Results holds one entry per active adapter, ordered by scanner id
	// regardless of completion order.
	Results []types.ScanResult
	// AnyRequiredScannerFailed is true when any required scanner reached a
	// terminal status other than SUCCEEDED.
	AnyRequiredScannerFailed bool
}

// Orchestrator fans the active adapters out, joins them at a barrier, and
// never drops a result: a crash, timeout, or cancellation of one adapter
// still yields that adapter's ScanResult.
type Orchestrator struct {
	registry *registry.Registry
	opts     Options
	required map[string]bool
}

// New creates an Orchestrator. Configuration is passed in explicitly; no
// component reads ambient global state, so concurrent runs for different
// targets do not interfere.
func New(reg *registry.Registry, opts Options) *Orchestrator {
	required := make(map[string]bool, len(opts.Required))
	for _, id := range opts.Required {
		required[id] = true
	}
	return &Orchestrator{registry: reg, opts: opts, required: required}
}

// Run executes every active adapter against the target and waits for all of
// them to reach a terminal status, or for the global timeout, whichever is
// first.
func (o *Orchestrator) Run(ctx context.Context, target string) *Outcome {
	logger := log.NewLogger(ctx)
	collector := metrics.FromContext(ctx, metricsPrefix)
	o.registerMetrics(ctx, collector)

	active := o.registry.Active()

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if o.opts.GlobalTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.opts.GlobalTimeout)
	}
	defer cancel()

	results := make([]types.ScanResult, len(active))
	g, gctx := errgroup.WithContext(runCtx)
	if o.opts.MaxParallelism > 0 {
		g.SetLimit(o.opts.MaxParallelism)
	}

	for i, ad := range active {
		i, ad := i, ad
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = adapter.SkippedResult(ad.ID(), "cancelled before start")
				return nil
			}

			res := o.runWithRetry(gctx, logger, ad, target)
			results[i] = res

			//nolint:errcheck
			collector.AddCounter(gctx, "adapter_runs_total", 1, ad.ID(), string(res.Status))
			//nolint:errcheck
			collector.ObserveHistogram(gctx, "adapter_duration_seconds",
				res.Duration.Seconds(), ad.ID())
			for _, f := range res.Findings {
				//nolint:errcheck
				collector.AddCounter(gctx, "findings_total", 1, ad.ID(), f.Severity.String())
			}

			if o.opts.FailFast && o.required[ad.ID()] && res.Status != types.StatusSucceeded {
				logger.Warn("required scanner failed, cancelling remaining adapters",
					zap.String("scanner", ad.ID()), zap.String("status", string(res.Status)))
				return errRequiredScannerFailed
			}
			return nil
		})
	}
	// The only group error is the fail-fast signal; it served its purpose by
	// cancelling gctx.
	_ = g.Wait() //nolint:errcheck

	outcome := &Outcome{Results: results}
	for _, res := range results {
		if o.required[res.ScannerID] && res.Status != types.StatusSucceeded {
			outcome.AnyRequiredScannerFailed = true
		}
	}

	findingCount := 0
	for _, res := range results {
		findingCount += len(res.Findings)
	}
	logger.Info("orchestration complete",
		zap.Int("adapters", len(active)),
		zap.Int("findings", findingCount),
		zap.Bool("required_failed", outcome.AnyRequiredScannerFailed))

	return outcome
}

// runWithRetry executes one adapter, retrying transient invocation failures
// with a fresh timeout budget per attempt. Parse failures and timeouts are
// deterministic or resource conditions; they are never retried.
func (o *Orchestrator) runWithRetry(ctx context.Context, logger types.Logger,
	ad adapter.Adapter, target string) types.ScanResult {
	attempts := o.opts.RetryCount + 1
	var res types.ScanResult
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		attemptCancel := context.CancelFunc(func() {})
		if o.opts.AdapterTimeout > 0 {
			attemptCtx, attemptCancel = context.WithTimeout(ctx, o.opts.AdapterTimeout)
		}
		res = ad.Run(attemptCtx, target)
		attemptCancel()

		var invErr *adapter.InvocationError
		if attempt < attempts && ctx.Err() == nil &&
			errors.As(res.Err, &invErr) && invErr.Transient {
			logger.Warn("transient invocation error, retrying scanner",
				zap.String("scanner", ad.ID()),
				zap.Int("attempt", attempt),
				zap.Error(res.Err))
			continue
		}
		break
	}
	return res
}

func (o *Orchestrator) registerMetrics(ctx context.Context, collector metrics.Collector) {
	// Re-registration across runs sharing a collector is expected.
	collector.RegisterCounter(ctx, "adapter_runs_total", "scanner", "status") //nolint:errcheck
	collector.RegisterCounter(ctx, "findings_total", "scanner", "severity")   //nolint:errcheck
	collector.RegisterHistogram(ctx, "adapter_duration_seconds", "scanner")   //nolint:errcheck
}
