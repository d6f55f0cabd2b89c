// Package runner sweeps the polled triggers across tenants. It is invoked
// from outside (cron, HTTP) and holds no state between runs; repeated or
// overlapping sweeps are safe because the ledger deduplicates.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"engagement-engine/internal/automation"
	"engagement-engine/internal/tenant"

	"golang.org/x/sync/errgroup"
)

type Runner struct {
	engine      *automation.Engine
	tenants     *tenant.Resolver
	concurrency int
	logger      *slog.Logger
}

func New(engine *automation.Engine, tenants *tenant.Resolver, concurrency int, logger *slog.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{engine: engine, tenants: tenants, concurrency: concurrency, logger: logger}
}

// Result aggregates a sweep.
type Result struct {
	StartedAt           time.Time                  `json:"started_at"`
	Duration            string                     `json:"duration"`
	Tenants             []automation.TenantSummary `json:"tenants"`
	Sent                int                        `json:"sent"`
	Failed              int                        `json:"failed"`
	Duplicates          int                        `json:"duplicates"`
	ConfigurationErrors int                        `json:"configuration_errors"`
	Skipped             int                        `json:"skipped"`
	// Interrupted is set when the context ended before every tenant ran.
	// Tenants left over are picked up, or skipped by the ledger, next time.
	Interrupted bool `json:"interrupted,omitempty"`
}

func (r *Result) add(s automation.TenantSummary) {
	r.Tenants = append(r.Tenants, s)
	for _, rule := range s.Rules {
		r.Sent += rule.Sent
		r.Failed += rule.Failed
		r.Duplicates += rule.Duplicates
		if rule.ConfigurationError != "" {
			r.ConfigurationErrors++
		}
		if rule.Skipped != "" {
			r.Skipped++
		}
	}
}

// Sweep evaluates kinds for the given tenants, or for every tenant with an
// active rule when none are given. A failing tenant is reported in its
// summary and never stops the others; only listing tenants can fail the sweep.
// Cancellation is reported in the result, not as an error.
func (r *Runner) Sweep(ctx context.Context, kinds []automation.TriggerType, tenantIDs ...string) (Result, error) {
	result := Result{StartedAt: time.Now().UTC()}
	if len(kinds) == 0 {
		kinds = automation.SweepTriggers
	}
	if len(tenantIDs) == 0 {
		ids, err := r.tenants.ActiveTenants(ctx)
		if err != nil {
			return result, fmt.Errorf("list tenants: %w", err)
		}
		tenantIDs = ids
	}

	summaries := make([]automation.TenantSummary, len(tenantIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range tenantIDs {
		i, id := i, id
		g.Go(func() error {
			summaries[i] = r.engine.RunTenant(gctx, id, kinds)
			return nil
		})
	}
	g.Wait()

	for _, s := range summaries {
		result.add(s)
	}
	result.Duration = time.Since(result.StartedAt).String()
	result.Interrupted = ctx.Err() != nil
	r.logger.Info("sweep finished",
		"tenants", len(tenantIDs),
		"triggers", kinds,
		"sent", result.Sent,
		"failed", result.Failed,
		"duplicates", result.Duplicates,
		"configuration_errors", result.ConfigurationErrors,
		"duration", result.Duration,
		"interrupted", result.Interrupted,
	)
	return result, nil
}

// ParseKinds reads a comma separated trigger list. Dashes are accepted in
// place of underscores.
func ParseKinds(list string) ([]automation.TriggerType, error) {
	if strings.TrimSpace(list) == "" {
		return automation.SweepTriggers, nil
	}
	var kinds []automation.TriggerType
	for _, part := range strings.Split(list, ",") {
		kind := automation.TriggerType(strings.ReplaceAll(strings.TrimSpace(part), "-", "_"))
		if !sweepable(kind) {
			return nil, fmt.Errorf("trigger %q is not swept", part)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func sweepable(kind automation.TriggerType) bool {
	for _, k := range automation.SweepTriggers {
		if k == kind {
			return true
		}
	}
	return false
}
