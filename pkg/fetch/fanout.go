package fetch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/devbundle/pkg/core"
	"github.com/aretw0/devbundle/pkg/metrics"
)

type fanoutResult struct {
	name string
	md   core.Metadata
	err  error
}

// fanout fetches every additional bundle the primary session announced.
// Siblings never cancel each other and a cancelled primary does not stop
// them; every outcome is collected before the first failure in
// announcement order is reported.
func (o *Orchestrator) fanout(ctx context.Context, primary *session, primaryURL string) ([]core.Metadata, error) {
	names := primary.additional
	if len(names) == 0 {
		return nil, nil
	}
	primary.transition(StateFanningOut)
	primary.logger.Info("fetching additional bundles", "count", len(names))

	results := make([]fanoutResult, len(names))
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	if o.config.FanoutLimit > 0 {
		g.SetLimit(o.config.FanoutLimit)
	}
	for i, name := range names {
		g.Go(func() error {
			md, err := o.fetchAdditional(detached, primaryURL, name)
			results[i] = fanoutResult{name: name, md: md, err: err}
			if err != nil {
				o.metrics.ObserveFanout(metrics.OutcomeFailure)
			} else {
				o.metrics.ObserveFanout(metrics.OutcomeSuccess)
			}
			return err
		})
	}
	_ = g.Wait()

	var first error
	out := make([]core.Metadata, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			primary.logger.Warn("additional bundle failed", "name", r.name, "error", r.err)
			if first == nil {
				first = fmt.Errorf("additional bundle %q: %w", r.name, r.err)
			}
			continue
		}
		out = append(out, r.md)
	}
	if first != nil {
		return nil, first
	}
	return out, nil
}

func (o *Orchestrator) fetchAdditional(ctx context.Context, primaryURL, name string) (core.Metadata, error) {
	u, err := additionalURL(primaryURL, name)
	if err != nil {
		return core.Metadata{}, fmt.Errorf("%w: additional bundle url: %v", core.ErrProtocol, err)
	}
	s := o.newSession(Request{
		URL:         u,
		Destination: additionalPath(o.config.SplitDir, name),
		Mode:        core.ModePlain,
		Name:        name,
	}, false, nil)
	md, err := s.run(ctx)
	if err != nil {
		s.fail(err)
		return core.Metadata{}, err
	}
	s.transition(StateDone)
	return md, nil
}
