package fault

import "slices"

// Fallback produces the replacement result for a trapped fault.
type Fallback func(inv *Invocation, f *Fault) (any, error)

// Policy traps faults of the listed kinds. A nil Fallback yields the zero
// value of the operation's result type.
type Policy struct {
	Kinds    []Kind
	Fallback Fallback
}

// Trap returns a policy converting the given kinds into zero values.
func Trap(kinds ...Kind) *Policy {
	return &Policy{Kinds: kinds}
}

// Propagate handles nothing; callers pass it to see every fault.
var Propagate = &Policy{}

// Absent is the policy used for optional UI lookups.
var Absent = Trap(NotFound, Timeout)

// Handles reports whether the policy traps faults of kind k.
func (p *Policy) Handles(k Kind) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Kinds, k)
}

// With returns a copy of p using fb as its fallback.
func (p *Policy) With(fb Fallback) *Policy {
	return &Policy{Kinds: slices.Clone(p.Kinds), Fallback: fb}
}

func (p *Policy) apply(inv *Invocation, f *Fault) (any, error) {
	if p.Fallback == nil {
		return nil, nil
	}
	return p.Fallback(inv, f)
}

// DefaultTrapper is implemented by receivers that carry their own trap
// policy. The executor consults it when a call supplies no policy.
type DefaultTrapper interface {
	DefaultTrap() *Policy
}
