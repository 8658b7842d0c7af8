// Package store provides persistence for conversations, messages, and
// interaction records.
//
// # Entities
//
//   - Conversation: one guest chat session. Created on first contact, closed
//     by EndConversation, never deleted here.
//   - Message: one utterance within a conversation. Sequence numbers are
//     assigned at write time as (max existing + 1) and are gapless and
//     strictly increasing per conversation.
//   - Interaction: one record per orchestration pass. Append-only.
//
// # Implementations
//
// SQLiteStore is the production implementation (modernc.org/sqlite, WAL mode,
// idempotent schema creation and migrations). MockStore is an in-memory
// implementation for tests with optional error injection.
//
// Sequence assignment in SQLiteStore happens inside a single INSERT..SELECT
// statement, so it relies on SQLite's single-writer serialization rather than
// application-level locking.
package store
