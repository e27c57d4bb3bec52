package domain

import (
	"fmt"
)

// Decision is the outcome of one payment evaluation.
// Decisions are ordered by severity: allow < review < block.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review"
	DecisionBlock  Decision = "block"
)

// Decisions lists every decision in severity order.
var Decisions = []Decision{DecisionAllow, DecisionReview, DecisionBlock}

// Severity ranks the decision; unknown values rank below allow.
func (d Decision) Severity() int {
	switch d {
	case DecisionAllow:
		return 1
	case DecisionReview:
		return 2
	case DecisionBlock:
		return 3
	default:
		return 0
	}
}

func (d Decision) IsValid() bool {
	return d.Severity() > 0
}

func (d Decision) String() string {
	return string(d)
}

// Escalate returns the more severe of current and next. A pipeline only
// ever moves through Escalate, so it never de-escalates.
func Escalate(current, next Decision) Decision {
	if next.Severity() > current.Severity() {
		return next
	}
	return current
}

// ParseDecision validates a stored or wire decision value.
func ParseDecision(s string) (Decision, error) {
	d := Decision(s)
	if !d.IsValid() {
		return "", fmt.Errorf("unknown decision %q", s)
	}
	return d, nil
}
