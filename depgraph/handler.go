package depgraph

import "fmt"

// Owner is the subset of port.Port a Handler needs in order to compute its
// own resolution status. Kept as an interface (rather than importing the
// port package directly) because port.Port embeds a *Handler — importing
// port from depgraph would cycle.
type Owner interface {
	// Failed reports the owning port's sticky failed flag.
	Failed() bool
	// Installed reports whether the owning port's install status is
	// anything other than Absent.
	Installed() bool
	// Origin is used only for diagnostics (stale/duplicate logging, and
	// Handler.String()).
	Origin() string
}

// Logger is the narrow sink Handler uses for the two warning kinds spec.md
// §4.4 calls out (stale dependency, duplicate dependency). Satisfied by
// go-synth/log.LibraryLogger without an import-cycle-forcing dependency.
type Logger interface {
	Warn(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

type edgeKey struct {
	kind Kind
	peer *Handler
}

type edge struct {
	kind       Kind
	field      string
	peer       *Handler
	lastStatus Status // last status of peer observed by Update/AddDependency
}

// dependantEdge is the reciprocal of edge, stored on the peer side so
// notifications can walk "who depends on me" in insertion order.
type dependantEdge struct {
	kind   Kind
	field  string
	holder *Handler
}

// Handler is the per-port node in the dependency graph: spec.md §2's
// DependHandler. It is NOT safe for concurrent mutation — per spec.md §5,
// all Handler mutation happens on the single-threaded scheduler event loop,
// which is what makes per-port locking on this hot path unnecessary.
type Handler struct {
	owner  Owner
	logger Logger

	status          Status
	unresolvedCount int

	edgesByKindList [numKinds][]*edge
	edgeIndex       map[edgeKey]*edge
	dependants      []dependantEdge // insertion order, spans all kinds
}

// New creates a Handler for the given owner. The Handler starts Unresolved;
// call StatusChanged once the owner's initial install status is known (the
// Port constructor does this).
func New(owner Owner, logger Logger) *Handler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Handler{
		owner:     owner,
		logger:    logger,
		status:    Unresolved,
		edgeIndex: make(map[edgeKey]*edge),
	}
}

// Status returns the handler's current resolution status.
func (h *Handler) Status() Status { return h.status }

// UnresolvedCount returns the number of outgoing edges whose peer is not
// currently Resolved — invariant I1 of spec.md §3.
func (h *Handler) UnresolvedCount() int { return h.unresolvedCount }

func (h *Handler) String() string {
	return fmt.Sprintf("depgraph.Handler{%s, status=%s, unresolved=%d}", h.owner.Origin(), h.status, h.unresolvedCount)
}

// AddDependency links h -> peer as a dependency of the given kind, field
// being the attribute name the edge came from (for diagnostics, e.g.
// "BUILD_DEPENDS"). peer is nil when the dependency's origin was not found
// in the port cache: that is the StaleDependency case, logged and skipped
// rather than erroring, per spec.md §4.4 and §7.
func (h *Handler) AddDependency(field string, kind Kind, peer *Handler) {
	if peer == nil {
		h.logger.Warn("stale dependency: %s %s references a port not found in the tree", h.owner.Origin(), field)
		return
	}
	key := edgeKey{kind, peer}
	if _, dup := h.edgeIndex[key]; dup {
		h.logger.Warn("duplicate dependency: %s already has a %s dependency on %s", h.owner.Origin(), kind, peer.owner.Origin())
		return
	}

	peerStatus := peer.status
	e := &edge{kind: kind, field: field, peer: peer, lastStatus: peerStatus}
	h.edgeIndex[key] = e
	h.edgesByKindList[kind] = append(h.edgesByKindList[kind], e)
	if peerStatus != Resolved {
		h.unresolvedCount++
	}

	peer.dependants = append(peer.dependants, dependantEdge{kind: kind, field: field, holder: h})

	if peerStatus == Failure {
		h.setStatusAndNotify(Failure)
	}
}

// Check implements spec.md §4.4's per-stage resolution predicate.
func (h *Handler) Check(stage Stage) Status {
	if stage == StageConfig {
		return Resolved
	}
	kinds := requiredKinds[stage]

	for _, k := range kinds {
		for _, e := range h.edgesByKindList[k] {
			if e.peer.status == Failure {
				return Failure
			}
		}
	}

	if h.unresolvedCount == 0 {
		return Resolved
	}

	for _, k := range kinds {
		for _, e := range h.edgesByKindList[k] {
			if e.peer.status != Resolved {
				return Unresolved
			}
		}
	}
	return PartlyResolved
}

// DependantOrigins returns the origin of every handler that depends on h,
// in insertion order. Used by the scheduler to rescan owners whose
// admission state may have changed after h's status transitions.
func (h *Handler) DependantOrigins() []string {
	out := make([]string, len(h.dependants))
	for i, d := range h.dependants {
		out[i] = d.holder.owner.Origin()
	}
	return out
}

// StatusChanged is called by the owning Port whenever its failed flag or
// install status changes. It recomputes h.status and, on any change,
// notifies every dependant in insertion order (spec.md §4.4).
func (h *Handler) StatusChanged() {
	var next Status
	switch {
	case h.owner.Failed():
		next = Failure
	case h.verify():
		next = Resolved
	default:
		next = Unresolved
	}

	if next == h.status {
		return
	}
	if next == Resolved {
		h.unresolvedCount = 0
	}
	h.setStatusAndNotify(next)
}

// verify re-evaluates the satisfaction predicate for this handler's own
// port being a valid dependency target. Per spec.md §4.4 the current
// predicate is uniform ("the dependent port is not Absent"); this is the
// named single point of extension for per-dependant predicates.
func (h *Handler) verify() bool {
	return h.owner.Installed()
}

// Update is called by a peer's notifyDependants when that peer (identified
// here as "from") transitions status. It adjusts unresolvedCount for the
// specific (kind, peer) edge and propagates Failure. Re-entrant calls for
// an unchanged status are no-ops, which is what makes repeated notification
// during a graph-wide cascade idempotent (spec.md §4.4).
func (h *Handler) Update(kind Kind, from *Handler, newStatus Status) {
	e, ok := h.edgeIndex[edgeKey{kind, from}]
	if !ok {
		return
	}
	old := e.lastStatus
	if old == newStatus {
		return
	}
	e.lastStatus = newStatus

	switch {
	case old != Resolved && newStatus == Resolved:
		h.unresolvedCount--
	case old == Resolved && newStatus != Resolved:
		h.unresolvedCount++
	}

	if newStatus == Failure {
		h.setStatusAndNotify(Failure)
	}
}

func (h *Handler) setStatusAndNotify(next Status) {
	h.status = next
	h.notifyDependants()
}

// notifyDependants walks dependants in insertion order. A dependant that
// itself transitions to Failure recurses synchronously (via Update ->
// setStatusAndNotify) before this loop continues, matching spec.md §4.4's
// "notified synchronously before returning".
func (h *Handler) notifyDependants() {
	for _, d := range h.dependants {
		d.holder.Update(d.kind, h, h.status)
	}
}
