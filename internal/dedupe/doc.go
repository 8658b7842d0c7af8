// ABOUTME: Package documentation for message-id deduplication
// ABOUTME: Explains the at-most-once processing guarantee for resent messages

// Package dedupe provides a TTL cache over client message ids.
//
// Clients retry sends over flaky connections, so the same message id can
// arrive more than once. The hub checks each incoming id here before
// processing; a duplicate inside the window gets its acknowledgment resent
// while the orchestration pass runs at most once.
package dedupe
