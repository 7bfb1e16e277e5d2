// Package jquants provides the client for the upstream market-data API,
// including the per-plan FIFO rate limiter and the retry policy for
// rate-limited and transient upstream failures.
//
// Every outbound request passes through the limiter, so the configured plan's
// request budget is respected regardless of how many jobs fetch concurrently.
// Stock codes are expanded to the five-character upstream form at this
// boundary and nowhere else.
package jquants

import (
	"time"
)

// Plan is the subscription tier of the upstream API account. The tier
// determines the request budget per minute.
type Plan string

// Known subscription plans.
const (
	PlanFree     Plan = "free"
	PlanLight    Plan = "light"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

// safetyFactor widens the minimum interval so bursts near the window edge do
// not trip the upstream limiter.
const safetyFactor = 1.1

// planRequestsPerMinute maps each plan to its request budget.
var planRequestsPerMinute = map[Plan]int{
	PlanFree:     5,
	PlanLight:    60,
	PlanStandard: 120,
	PlanPremium:  500,
}

// ParsePlan converts a raw plan name to a Plan. Unknown or empty names degrade
// to the free tier; ok reports whether the input named a known plan so callers
// can log the fallback.
func ParsePlan(raw string) (Plan, bool) {
	plan := Plan(raw)
	if _, known := planRequestsPerMinute[plan]; known {
		return plan, true
	}

	return PlanFree, false
}

// IsValid reports whether the plan is a known tier.
func (p Plan) IsValid() bool {
	_, known := planRequestsPerMinute[p]

	return known
}

// RequestsPerMinute returns the plan's request budget. Unknown plans report
// the free tier budget.
func (p Plan) RequestsPerMinute() int {
	if rpm, known := planRequestsPerMinute[p]; known {
		return rpm
	}

	return planRequestsPerMinute[PlanFree]
}

// MinInterval returns the minimum spacing between consecutive requests:
// (60s / requests-per-minute) * 1.1. The free tier yields 13.2s, premium 132ms.
func (p Plan) MinInterval() time.Duration {
	rpm := p.RequestsPerMinute()

	return time.Duration(float64(time.Minute) / float64(rpm) * safetyFactor)
}

// String returns the plan name.
func (p Plan) String() string {
	return string(p)
}
