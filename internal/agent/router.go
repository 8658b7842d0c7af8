// ABOUTME: Agent selection with conversation continuity
// ABOUTME: Keeps the last agent for follow-up utterances, otherwise maps intent 1:1

package agent

import (
	"github.com/harborview/concierge-gateway/internal/intent"
)

// SelectAgent picks the agent responsible for a message.
//
// Continuity rule: when the conversation already has a last-used agent, keep it
// if the new intent is general (a short follow-up shouldn't yank the guest away
// from a specialist) or if the new intent matches the last agent anyway.
// Otherwise the intent maps directly to its agent type.
func SelectAgent(in intent.Intent, lastAgent Type) Type {
	if lastAgent.Valid() {
		if in == intent.IntentGeneral && lastAgent != TypeGeneral {
			return lastAgent
		}
		if Type(in) == lastAgent {
			return lastAgent
		}
	}
	return FromIntent(in)
}
