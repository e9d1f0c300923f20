// Package fault classifies browser interaction failures and traps the
// expected ones into fallback values.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of interaction failure.
type Kind int

const (
	// NotFound means a query matched nothing.
	NotFound Kind = iota + 1
	// Timeout means a wait condition never held within its budget.
	Timeout
	// StaleReference means a resolved element is no longer attached.
	StaleReference
	// InteractionBlocked means a click landed on another element.
	InteractionBlocked
	// AuthFailed means every login stage was exhausted.
	AuthFailed
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Timeout:
		return "timeout"
	case StaleReference:
		return "stale_reference"
	case InteractionBlocked:
		return "interaction_blocked"
	case AuthFailed:
		return "auth_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Fault is a typed interaction failure. Err holds the underlying driver
// error, if any.
type Fault struct {
	Kind    Kind
	Op      string
	Locator string
	Message string
	Err     error
}

// Sentinels for errors.Is. Any *Fault of the same Kind matches.
var (
	ErrNotFound           = &Fault{Kind: NotFound}
	ErrTimeout            = &Fault{Kind: Timeout}
	ErrStaleReference     = &Fault{Kind: StaleReference}
	ErrInteractionBlocked = &Fault{Kind: InteractionBlocked}
	ErrAuthFailed         = &Fault{Kind: AuthFailed}
)

// New creates a fault of the given kind for a locator.
func New(kind Kind, locator string, err error) *Fault {
	return &Fault{Kind: kind, Locator: locator, Err: err}
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	if f.Op != "" {
		b.WriteString(" in ")
		b.WriteString(f.Op)
	}
	if f.Locator != "" {
		b.WriteString(" [")
		b.WriteString(f.Locator)
		b.WriteString("]")
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Fault) Unwrap() error { return f.Err }

// Is reports whether target is a *Fault of the same Kind.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Kind == f.Kind
}

// KindOf returns the Kind of the first *Fault in err's chain, or 0.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

// IsKind reports whether err carries a fault of any of the given kinds.
func IsKind(err error, kinds ...Kind) bool {
	k := KindOf(err)
	if k == 0 {
		return false
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
