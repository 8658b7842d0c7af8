// ABOUTME: Tests for agent selection and the continuity rule
// ABOUTME: Covers follow-up stickiness, intent overrides, and the closed agent set

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harborview/concierge-gateway/internal/intent"
)

func TestSelectAgent_ContinuityKeepsLastAgentOnGeneral(t *testing.T) {
	got := SelectAgent(intent.IntentGeneral, TypeBooking)
	assert.Equal(t, TypeBooking, got)
}

func TestSelectAgent_IntentOverridesDifferentAgent(t *testing.T) {
	got := SelectAgent(intent.IntentBooking, TypeService)
	assert.Equal(t, TypeBooking, got)
}

func TestSelectAgent_MatchingIntentStays(t *testing.T) {
	got := SelectAgent(intent.IntentHousekeeping, TypeHousekeeping)
	assert.Equal(t, TypeHousekeeping, got)
}

func TestSelectAgent_NoHistory(t *testing.T) {
	tests := []struct {
		in   intent.Intent
		want Type
	}{
		{intent.IntentBooking, TypeBooking},
		{intent.IntentService, TypeService},
		{intent.IntentHousekeeping, TypeHousekeeping},
		{intent.IntentGeneral, TypeGeneral},
		{intent.IntentError, TypeGeneral},
		{intent.Intent("garbage"), TypeGeneral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SelectAgent(tt.in, ""), "intent: %s", tt.in)
	}
}

func TestSelectAgent_GeneralLastAgentDoesNotStick(t *testing.T) {
	// general -> general is just the direct mapping
	assert.Equal(t, TypeGeneral, SelectAgent(intent.IntentGeneral, TypeGeneral))
	// a specialist intent leaves the general agent
	assert.Equal(t, TypeService, SelectAgent(intent.IntentService, TypeGeneral))
}

func TestSelectAgent_AlwaysInClosedSet(t *testing.T) {
	intents := []intent.Intent{
		intent.IntentBooking, intent.IntentService, intent.IntentHousekeeping,
		intent.IntentGeneral, intent.IntentError, intent.Intent("weird"),
	}
	lasts := []Type{"", TypeBooking, TypeService, TypeHousekeeping, TypeGeneral, Type("bogus")}

	for _, in := range intents {
		for _, last := range lasts {
			got := SelectAgent(in, last)
			assert.True(t, got.Valid(), "intent=%s last=%s got=%s", in, last, got)
		}
	}
}
