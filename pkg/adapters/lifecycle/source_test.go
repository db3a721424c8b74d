package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/devbundle/pkg/core"
)

func TestSource_ForwardsAndFilters(t *testing.T) {
	in := make(chan core.Event, 3)
	in <- core.Event{Type: core.EventModify, ID: "App.js"}
	in <- core.Event{Type: core.EventCommitted, ID: "index"}
	in <- core.Event{Type: core.EventFailed, ID: "index"}
	close(in)

	src := NewSource(in, core.EventCommitted, core.EventFailed)
	if err := src.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var got []core.EventType
	timeout := time.After(time.Second)
	for {
		select {
		case e, ok := <-src.Events():
			if !ok {
				if len(got) != 2 || got[0] != core.EventCommitted || got[1] != core.EventFailed {
					t.Fatalf("unexpected events: %v", got)
				}
				return
			}
			ce, isCore := e.(core.Event)
			if !isCore {
				t.Fatalf("unexpected event type %T", e)
			}
			got = append(got, ce.Type)
		case <-timeout:
			t.Fatal("source did not close")
		}
	}
}

func TestSource_StopsOnCancel(t *testing.T) {
	in := make(chan core.Event)
	src := NewSource(in)
	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-src.Events():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("source did not stop")
	}
}
