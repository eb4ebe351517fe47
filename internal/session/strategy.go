package session

import "time"

type Strategy string

const (
	// RecentOnly uses the last few raw turns and no summary.
	RecentOnly Strategy = "recent-only"
	// Hybrid adds the long-term summary to the recent turns.
	Hybrid Strategy = "hybrid"
	// AdvancedHybrid also adds the derived profile fields.
	AdvancedHybrid Strategy = "advanced-hybrid"
)

func (s Strategy) UsesSummary() bool { return s == Hybrid || s == AdvancedHybrid }
func (s Strategy) UsesProfile() bool { return s == AdvancedHybrid }

type Policy struct {
	InactivityGap      time.Duration
	RecentTurns        int
	HybridFrom         int
	AdvancedHybridFrom int
}

func DefaultPolicy() Policy {
	return Policy{
		InactivityGap:      24 * time.Hour,
		RecentTurns:        5,
		HybridFrom:         6,
		AdvancedHybridFrom: 11,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.InactivityGap <= 0 {
		p.InactivityGap = d.InactivityGap
	}
	if p.RecentTurns <= 0 {
		p.RecentTurns = d.RecentTurns
	}
	if p.HybridFrom <= 1 {
		p.HybridFrom = d.HybridFrom
	}
	if p.AdvancedHybridFrom <= p.HybridFrom {
		p.AdvancedHybridFrom = p.HybridFrom + (d.AdvancedHybridFrom - d.HybridFrom)
	}
	return p
}

// SelectStrategy depends on the turn index only.
func (p Policy) SelectStrategy(turnIndex int) Strategy {
	p = p.normalized()
	switch {
	case turnIndex >= p.AdvancedHybridFrom:
		return AdvancedHybrid
	case turnIndex >= p.HybridFrom:
		return Hybrid
	default:
		return RecentOnly
	}
}
