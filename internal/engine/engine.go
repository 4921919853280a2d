// Package engine reconciles the stored rule set onto the live iptables
// chains. All mutations follow the same shape: validate, persist, then
// run a full apply. The persisted state is the source of truth; an apply
// failure leaves the database committed and is reported through the
// result rather than failing the mutation.
package engine

import (
	"sync"
	"sync/atomic"

	"grimm.is/palisade/internal/audit"
	"grimm.is/palisade/internal/clock"
	"grimm.is/palisade/internal/events"
	"grimm.is/palisade/internal/iptables"
	"grimm.is/palisade/internal/logging"
	"grimm.is/palisade/internal/store"
)

// ActorStartup marks audited operations the engine runs on its own at
// boot, as opposed to api or cli callers.
const ActorStartup = audit.ActorStartup

// Engine coordinates the policy store and the command adapter.
type Engine struct {
	store   *store.Store
	adapter *iptables.Adapter
	hub     *events.Hub
	audit   *audit.Recorder
	log     *logging.Logger
	clock   clock.Clock

	// applyMu serializes apply runs so two callers cannot interleave
	// their flush and repopulate phases.
	applyMu sync.Mutex

	lastApply atomic.Pointer[LastApply]
}

// Options configures a new Engine. Store and Adapter are required; the
// rest default to working implementations when nil.
type Options struct {
	Store   *store.Store
	Adapter *iptables.Adapter
	Hub     *events.Hub
	Audit   *audit.Recorder
	Logger  *logging.Logger
	Clock   clock.Clock
}

// New creates an Engine from opts.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logging.Default().WithComponent("engine")
	}
	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}
	hub := opts.Hub
	if hub == nil {
		hub = events.NewHub()
	}
	return &Engine{
		store:   opts.Store,
		adapter: opts.Adapter,
		hub:     hub,
		audit:   opts.Audit,
		log:     log,
		clock:   clk,
	}
}

// Store exposes the underlying policy store for read-side consumers.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Adapter exposes the command adapter for diagnostics.
func (e *Engine) Adapter() *iptables.Adapter {
	return e.adapter
}

// Events returns the hub mutations publish to.
func (e *Engine) Events() *events.Hub {
	return e.hub
}

// LastApply returns the outcome of the most recent reconciliation run,
// or nil when none has run yet.
func (e *Engine) LastApply() *LastApply {
	return e.lastApply.Load()
}

// recordAudit writes an audit entry when a recorder is configured.
func (e *Engine) recordAudit(entry audit.Entry) {
	if e.audit != nil {
		e.audit.Record(entry)
	}
}
