// ABOUTME: Package documentation for the conversation orchestration layer
// ABOUTME: Explains the pass pipeline and the never-fail reply contract

// Package conversation runs the orchestration pass for guest messages.
//
// Every guest message flows through the same pipeline: resolve the
// conversation, build a context snapshot, classify intent, select an agent,
// generate a reply, and persist both sides of the exchange. An interaction
// record is appended for every pass, successful or not.
//
// The central contract is that ProcessMessage always returns a usable reply.
// Collaborator failures (classification, generation, persistence) degrade the
// pass to canned fallbacks and zero sequence numbers rather than surfacing an
// error to the guest; only the interaction log sees the failure.
package conversation
