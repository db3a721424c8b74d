package fetch

import (
	"github.com/aretw0/introspection"

	"github.com/aretw0/devbundle/pkg/adapters/fs"
)

// State is the phase a fetch session is in.
type State int

const (
	StateIdle State = iota
	StateRequestSent
	StateMultipartDecoding
	StatePlainBody
	StateValidating
	StateCommitting
	StateFanningOut
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StateRequestSent:       "request_sent",
	StateMultipartDecoding: "multipart_decoding",
	StatePlainBody:         "plain_body",
	StateValidating:        "validating",
	StateCommitting:        "committing",
	StateFanningOut:        "fanning_out",
	StateDone:              "done",
	StateFailed:            "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// OrchestratorState exposes internal state for observability.
type OrchestratorState struct {
	InFlight    bool          `json:"in_flight"`
	LastSession string        `json:"last_session,omitempty"`
	LastState   string        `json:"last_state"`
	LastError   string        `json:"last_error,omitempty"`
	RevisionID  string        `json:"revision_id,omitempty"`
	Modules     int           `json:"modules"`
	Index       fs.IndexState `json:"index"`
}

// State implements introspection.Introspectable.
func (o *Orchestrator) State() any {
	o.mu.Lock()
	st := OrchestratorState{
		InFlight:    o.inflight != nil,
		LastSession: o.lastSession,
		LastState:   o.lastState.String(),
		LastError:   o.lastError,
	}
	o.mu.Unlock()

	o.storeMu.Lock()
	st.RevisionID, _ = o.store.RevisionID()
	st.Modules = o.store.Len()
	o.storeMu.Unlock()

	o.indexMu.Lock()
	st.Index, _ = o.index.State().(fs.IndexState)
	o.indexMu.Unlock()

	return st
}

// ComponentType implements introspection.Component.
func (o *Orchestrator) ComponentType() string {
	return "bundle-orchestrator"
}

var _ introspection.Introspectable = (*Orchestrator)(nil)
var _ introspection.Component = (*Orchestrator)(nil)

func (o *Orchestrator) record(id string, st State, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastSession = id
	o.lastState = st
	if err != nil {
		o.lastError = err.Error()
	} else if st == StateRequestSent {
		o.lastError = ""
	}
}
