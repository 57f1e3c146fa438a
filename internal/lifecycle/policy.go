package lifecycle

import "time"

// DefaultMinEventDuration is how long an event must run before the leader can
// mark it completed.
const DefaultMinEventDuration = 2 * time.Minute

// Policy holds the tunable parameters of the rules engine.
type Policy struct {
	// MinEventDuration is the minimum time between start and completion.
	MinEventDuration time.Duration
	// StartGrace lets the assigned musician start this long before the
	// scheduled start time. Zero means not before the start time.
	StartGrace time.Duration
	// Location is the zone event dates and times are expressed in.
	Location *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		MinEventDuration: DefaultMinEventDuration,
		Location:         time.UTC,
	}
}

// Engine evaluates lifecycle transitions. It holds no mutable state; every
// decision takes the instant it is evaluated at.
type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) *Engine {
	if policy.MinEventDuration <= 0 {
		policy.MinEventDuration = DefaultMinEventDuration
	}
	if policy.StartGrace < 0 {
		policy.StartGrace = 0
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	return &Engine{policy: policy}
}

func (e *Engine) Policy() Policy {
	return e.policy
}
