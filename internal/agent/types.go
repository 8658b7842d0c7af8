// ABOUTME: Agent type enum and per-agent behavior profiles
// ABOUTME: Behavior is data-driven: each agent kind maps to a prompt, fallback, and title

package agent

import (
	"github.com/harborview/concierge-gateway/internal/intent"
)

// Type identifies which specialized concierge persona handles a message.
type Type string

// The closed agent set. No agent is ever selected outside these four.
const (
	TypeBooking      Type = "booking"
	TypeService      Type = "service"
	TypeHousekeeping Type = "housekeeping"
	TypeGeneral      Type = "general"
)

// All returns the closed agent set in a stable order.
func All() []Type {
	return []Type{TypeBooking, TypeService, TypeHousekeeping, TypeGeneral}
}

// Valid reports whether t is a member of the closed agent set.
func (t Type) Valid() bool {
	switch t {
	case TypeBooking, TypeService, TypeHousekeeping, TypeGeneral:
		return true
	}
	return false
}

// Profile holds the data-driven behavior for one agent kind.
type Profile struct {
	Title        string
	SystemPrompt string
	Fallback     string // canned reply used when generation is unavailable or fails
}

// DefaultProfiles returns the built-in persona table. A TOML profile pack may
// override individual fields; see LoadProfilePack.
func DefaultProfiles() map[Type]Profile {
	return map[Type]Profile{
		TypeBooking: {
			Title: "Reservations Concierge",
			SystemPrompt: "You are the reservations concierge of an upscale hotel. " +
				"You help guests check room availability, make and change reservations, " +
				"and answer questions about rates, check-in, and check-out. " +
				"Be warm and precise, confirm dates and guest counts, and never invent availability.",
			Fallback: "I'd be happy to help with your reservation. Let me check our room availability and a team member will confirm the details with you shortly.",
		},
		TypeService: {
			Title: "Guest Services Concierge",
			SystemPrompt: "You are the guest services concierge of an upscale hotel. " +
				"You handle room service orders, restaurant recommendations, transport, " +
				"wake-up calls, and other guest requests. " +
				"Be attentive and efficient, and confirm what was requested before promising a time.",
			Fallback: "Thank you for your request. Our guest services team has been notified and will take care of it right away.",
		},
		TypeHousekeeping: {
			Title: "Housekeeping Coordinator",
			SystemPrompt: "You are the housekeeping coordinator of an upscale hotel. " +
				"You arrange room cleaning, fresh linens and towels, extra amenities, " +
				"and turn-down service. " +
				"Be courteous and concrete about what will be delivered and when.",
			Fallback: "Of course. I've passed your request to our housekeeping team and they will attend to your room as soon as possible.",
		},
		TypeGeneral: {
			Title: "Hotel Concierge",
			SystemPrompt: "You are the concierge of an upscale hotel. " +
				"You answer general questions about the hotel, its facilities, and the local area, " +
				"and you route specific requests to the right department. " +
				"Be welcoming, helpful, and brief.",
			Fallback: "Welcome! I'm here to help with anything you need during your stay. Could you tell me a little more about your request?",
		},
	}
}

// FromIntent maps an intent tag to its agent type 1:1; anything outside the
// three specialist intents maps to general.
func FromIntent(in intent.Intent) Type {
	switch in {
	case intent.IntentBooking:
		return TypeBooking
	case intent.IntentService:
		return TypeService
	case intent.IntentHousekeeping:
		return TypeHousekeeping
	default:
		return TypeGeneral
	}
}
