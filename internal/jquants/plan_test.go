package jquants

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     Plan
		wantKnown bool
	}{
		{
			name:      "free",
			input:     "free",
			want:      PlanFree,
			wantKnown: true,
		},
		{
			name:      "light",
			input:     "light",
			want:      PlanLight,
			wantKnown: true,
		},
		{
			name:      "standard",
			input:     "standard",
			want:      PlanStandard,
			wantKnown: true,
		},
		{
			name:      "premium",
			input:     "premium",
			want:      PlanPremium,
			wantKnown: true,
		},
		{
			name:      "unknown degrades to free",
			input:     "enterprise",
			want:      PlanFree,
			wantKnown: false,
		},
		{
			name:      "empty degrades to free",
			input:     "",
			want:      PlanFree,
			wantKnown: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, known := ParsePlan(tt.input)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantKnown, known)
		})
	}
}

func TestPlan_RequestsPerMinute(t *testing.T) {
	assert.Equal(t, 5, PlanFree.RequestsPerMinute())
	assert.Equal(t, 60, PlanLight.RequestsPerMinute())
	assert.Equal(t, 120, PlanStandard.RequestsPerMinute())
	assert.Equal(t, 500, PlanPremium.RequestsPerMinute())
	assert.Equal(t, 5, Plan("bogus").RequestsPerMinute())
}

func TestPlan_MinInterval(t *testing.T) {
	// interval = 60s / RPM * 1.1
	assert.Equal(t, 13200*time.Millisecond, PlanFree.MinInterval())
	assert.Equal(t, 1100*time.Millisecond, PlanLight.MinInterval())
	assert.Equal(t, 550*time.Millisecond, PlanStandard.MinInterval())
	assert.Equal(t, 132*time.Millisecond, PlanPremium.MinInterval())
}

func TestPlan_IsValid(t *testing.T) {
	assert.True(t, PlanFree.IsValid())
	assert.True(t, PlanPremium.IsValid())
	assert.False(t, Plan("enterprise").IsValid())
	assert.False(t, Plan("").IsValid())
}
