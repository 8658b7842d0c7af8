// Package agent defines the concierge agent kinds and their behavior.
//
// Behavior is data-driven rather than inheritance-based: the closed Type enum
// {booking, service, housekeeping, general} maps to a Profile table carrying
// each agent's system prompt, canned fallback reply, and display title.
// Built-in profiles can be partially overridden by a TOML profile pack.
//
// SelectAgent applies the conversation continuity rule on top of the 1:1
// intent-to-agent mapping, and Generator renders replies through the optional
// text-generation collaborator, degrading silently to the canned fallback.
package agent
