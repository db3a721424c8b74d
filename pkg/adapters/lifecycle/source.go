// Package lifecycle exposes devbundle pipeline events as a lifecycle.Source.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/devbundle/pkg/core"
)

type eventSource struct {
	events <-chan core.Event
	allow  map[core.EventType]bool
	out    chan lifecycle.Event
}

// NewSource bridges a core.Event channel (watcher or orchestrator output) to
// lifecycle events. When types is non-empty only those event types pass.
func NewSource(events <-chan core.Event, types ...core.EventType) lifecycle.Source {
	var allow map[core.EventType]bool
	if len(types) > 0 {
		allow = make(map[core.EventType]bool, len(types))
		for _, t := range types {
			allow[t] = true
		}
	}
	return &eventSource{
		events: events,
		allow:  allow,
		out:    make(chan lifecycle.Event),
	}
}

func (s *eventSource) Events() <-chan lifecycle.Event {
	return s.out
}

// Start forwards events until ctx is done or the input closes, then closes
// the output channel.
func (s *eventSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.events:
				if !ok {
					return nil
				}
				if s.allow != nil && !s.allow[e.Type] {
					continue
				}
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
