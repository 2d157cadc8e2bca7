package app

import "time"

// EscalationPolicy holds the timings of a dose escalation chain.
type EscalationPolicy struct {
	FollowUpDelay      time.Duration // InitialFire -> FollowUpCheck
	EscalationInterval time.Duration // between Escalate steps
	FinalCheckDelay    time.Duration // FollowUpCheck -> FinalCheck
	SnoozeDelay        time.Duration
	MaxEscalations     int
	SkipCancelsTimers  bool
}

func DefaultEscalationPolicy() EscalationPolicy {
	return EscalationPolicy{
		FollowUpDelay:      30 * time.Minute,
		EscalationInterval: 15 * time.Minute,
		FinalCheckDelay:    30 * time.Minute,
		SnoozeDelay:        15 * time.Minute,
		MaxEscalations:     4,
	}
}

// minutesOverdue is how late a dose is when Escalate(step) fires.
func (p EscalationPolicy) minutesOverdue(step int) int {
	return int((p.FollowUpDelay + time.Duration(step-1)*p.EscalationInterval) / time.Minute)
}
