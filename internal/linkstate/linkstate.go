// Package linkstate implements the LinkStateStore: a
// persistent URL->LinkState map enforcing the crawl lifecycle.
package linkstate

import (
	"fmt"
	"time"

	"github.com/FranksOps/burr/internal/crawlurl"
)

// Kind is the lifecycle state of a discovered URL.
type Kind uint8

const (
	Discovered Kind = iota
	Reserved
	InProgress
	Crawled
	Failed
	Unreachable
	ForbiddenByRobots
	Skipped
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Discovered:
		return "discovered"
	case Reserved:
		return "reserved"
	case InProgress:
		return "in_progress"
	case Crawled:
		return "crawled"
	case Failed:
		return "failed"
	case Unreachable:
		return "unreachable"
	case ForbiddenByRobots:
		return "forbidden_by_robots"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// isInProgressVariant reports whether k is one of the transient
// in-flight kinds, excluded from LastSignificantKind bookkeeping.
func isInProgressVariant(k Kind) bool {
	return k == Reserved || k == InProgress
}

// State is one record per discovered URL.
type State struct {
	Kind               Kind
	LastSignificantKind Kind
	Recrawl            bool
	IsSeed             bool
	Timestamp          time.Time
	Depth              crawlurl.Depth
	Payload            []byte
}

// transitions enumerates the lifecycle diagram: allowed
// From -> To edges. Discovered and InProgress are the only states with
// more than one successor; Reserved and Crawled have exactly one each,
// Crawled's being the recrawl edge back to Discovered. InProgress also
// has the crash-recovery reset edge back to Discovered (never taken by
// normal fetch processing, only by Orchestrator.Recover). Discovered also reaches ForbiddenByRobots
// directly, since the robots check runs before the Reserved/InProgress
// reservation CAS, same as the blacklist check's Skipped edge above it.
var transitions = map[Kind]map[Kind]bool{
	Discovered: {
		Reserved:          true,
		Skipped:           true,
		ForbiddenByRobots: true,
	},
	Reserved: {
		InProgress: true,
	},
	InProgress: {
		Crawled:           true,
		Failed:            true,
		Unreachable:       true,
		ForbiddenByRobots: true,
		Skipped:           true,
		Discovered:        true, // crash recovery: stranded in-flight reset
	},
	Crawled: {
		Discovered: true, // recrawl window expired
	},
}

// TransitionError reports an illegal lifecycle move.
type TransitionError struct {
	From, To Kind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("context: illegal link state transition %s -> %s", e.From, e.To)
}

// Validate checks that moving from `from` to `to` is a legal lifecycle
// edge. The zero value of Kind (Discovered) with no prior record is
// always legal as an initial state, handled by callers via Upsert.
func Validate(from, to Kind) error {
	if from == to {
		return nil
	}
	if allowed, ok := transitions[from]; ok && allowed[to] {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// NewDiscovered builds the initial State for a freshly discovered URL.
func NewDiscovered(depth crawlurl.Depth, isSeed bool) State {
	now := time.Now().UTC()
	return State{
		Kind:                Discovered,
		LastSignificantKind: Discovered,
		Recrawl:             false,
		IsSeed:              isSeed,
		Timestamp:           now,
		Depth:               depth,
	}
}

// TransitionTo validates and applies a kind transition to s, stamping a
// monotonically non-decreasing timestamp and updating
// LastSignificantKind whenever the new kind is not an in-progress
// variant. The recrawl flag only transitions true->false when a new
// crawl begins. TransitionTo leaves s.Recrawl unchanged on every edge;
// the caller taking the Crawled->Discovered edge sets it, since the
// caller decides whether this entry triggers a recrawl.
func (s State) TransitionTo(to Kind) (State, error) {
	if err := Validate(s.Kind, to); err != nil {
		return s, err
	}
	next := s
	next.Kind = to
	now := time.Now().UTC()
	if now.After(next.Timestamp) {
		next.Timestamp = now
	}
	if !isInProgressVariant(to) {
		next.LastSignificantKind = to
	}
	return next, nil
}

// Store is the persistent key-value map URL->LinkState.
type Store interface {
	// Upsert applies fn to the current state of url (the zero State with
	// Kind Discovered if absent) under a per-key lock, and persists the
	// result. fn must itself call TransitionTo to respect the lifecycle.
	Upsert(url string, fn func(current State, exists bool) (State, error)) (State, error)

	// Get returns the current state of url.
	Get(url string) (State, bool, error)

	// IterByPrefix calls fn for every URL beginning with prefix. Iteration
	// stops early if fn returns false.
	IterByPrefix(prefix string, fn func(url string, s State) bool) error

	// CountByKind returns the number of records currently in each kind.
	CountByKind() (map[Kind]int, error)

	// Close releases any underlying resources.
	Close() error
}
